// Package service implements the review workflow: owner draft saves, staff
// edits with auto-promotion, submission, reviewer state transitions and
// terminal decisions. All mutations for one owner run inside an OwnerTx and
// survive optimistic-lock conflicts by retrying the merge.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"folio/internal/audit"
	"folio/internal/profile/models"
	"folio/internal/review/metrics"
	"folio/internal/review/questionnaire"
	id "folio/pkg/domain"
	dErrors "folio/pkg/domain-errors"
	"folio/pkg/platform/sentinel"
	"folio/pkg/requestcontext"
)

// maxConflictRetries bounds how often an operation re-applies its merge after
// an optimistic-lock conflict before giving up with CodeConflict.
const maxConflictRetries = 3

type VersionStore interface {
	FindByID(ctx context.Context, versionID id.VersionID) (*models.Version, error)
	FindByOwner(ctx context.Context, owner id.OwnerID, kind models.VersionKind) (*models.Version, error)
	Create(ctx context.Context, v *models.Version) error
	Update(ctx context.Context, v *models.Version) error
}

type ProfileStore interface {
	FindByOwner(ctx context.Context, owner id.OwnerID) (*models.Profile, error)
	Update(ctx context.Context, p *models.Profile) error
}

// SubmissionValidator reports required questionnaire answers a body is
// missing. A nil validator accepts everything.
type SubmissionValidator interface {
	Validate(body models.Body) []questionnaire.MissingItem
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// StaffEditResult reports a staff edit and whether it auto-promoted.
type StaffEditResult struct {
	Pending  *models.Version
	Promoted bool
}

// DecideResult reports a terminal decision and whether it promoted the body
// to the live profile.
type DecideResult struct {
	Pending  *models.Version
	Promoted bool
}

// VersionSet is everything an owner's review state consists of. Draft and
// Pending are nil until first created; Profile is nil until provisioned.
type VersionSet struct {
	Draft   *models.Version
	Pending *models.Version
	Profile *models.Profile
}

// Workflow orchestrates the three-tier document system.
type Workflow struct {
	versions       VersionStore
	profiles       ProfileStore
	ownerTx        OwnerTx
	promoter       *Promoter
	validator      SubmissionValidator
	schema         models.Schema
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	tracer         trace.Tracer
}

type Option func(w *Workflow)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) {
		w.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(w *Workflow) {
		w.auditPublisher = publisher
	}
}

func WithQuestionnaire(v SubmissionValidator) Option {
	return func(w *Workflow) {
		w.validator = v
	}
}

func WithSchema(schema models.Schema) Option {
	return func(w *Workflow) {
		w.schema = schema
	}
}

// New constructs a Workflow.
func New(versions VersionStore, profiles ProfileStore, ownerTx OwnerTx, opts ...Option) *Workflow {
	w := &Workflow{
		versions: versions,
		profiles: profiles,
		ownerTx:  ownerTx,
		schema:   models.DefaultSchema(),
		tracer:   otel.Tracer("folio/review"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.promoter = NewPromoter(profiles, w.schema)
	return w
}

// SaveDraft upserts the owner's working copy. The body replaces the stored
// one; changed fields accumulate by union with whatever differed. A draft
// that had been submitted or decided drops back to neutral editing status.
func (w *Workflow) SaveDraft(ctx context.Context, owner id.OwnerID, body models.Body) (*models.Version, error) {
	if owner.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "owner id is required")
	}
	if body == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "body is required")
	}

	ctx, done := w.instrument(ctx, "save_draft")
	defer done()

	var draft *models.Version
	err := w.runOwnerOp(ctx, owner, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		existing, err := w.versions.FindByOwner(ctx, owner, models.KindDraft)
		switch {
		case err == nil:
			existing.ApplyBody(body, now)
			if err := w.versions.Update(ctx, existing); err != nil {
				return storeErr(err, "failed to update draft")
			}
			draft = existing
		case errors.Is(err, sentinel.ErrNotFound):
			created := models.NewDraft(owner, body, now)
			if err := w.versions.Create(ctx, created); err != nil {
				return storeErr(err, "failed to create draft")
			}
			draft = created
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load draft")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if w.metrics != nil {
		w.metrics.DraftsSaved.Inc()
	}
	w.logAudit(ctx, audit.Event{
		OwnerID: owner.String(),
		Actor:   owner.String(),
		Action:  audit.ActionDraftSaved,
	}, "version_id", draft.ID.String())
	return draft, nil
}

// StaffEditPending upserts the review snapshot on behalf of staff. A missing
// pending version is created directly in checking status; an existing one
// keeps its status, since staff corrections do not restart the review cycle.
// When the auto-promotion gate passes, the edited body goes straight to the
// live profile; the changed-field set stays intact either way.
func (w *Workflow) StaffEditPending(ctx context.Context, owner id.OwnerID, actor id.ReviewerID, body models.Body) (*StaffEditResult, error) {
	if owner.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "owner id is required")
	}
	if body == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "body is required")
	}

	ctx, done := w.instrument(ctx, "staff_edit_pending")
	defer done()

	result := &StaffEditResult{}
	err := w.runOwnerOp(ctx, owner, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		result.Promoted = false

		// The promotion gate reads the pending state before the edit: a
		// pending the staff themselves are about to create is not a fresh
		// owner submission.
		var prior *models.Version
		pending, err := w.versions.FindByOwner(ctx, owner, models.KindPending)
		switch {
		case err == nil:
			prior = pending.Clone()
			pending.ApplyBody(body, now)
			if err := w.versions.Update(ctx, pending); err != nil {
				return storeErr(err, "failed to update pending version")
			}
		case errors.Is(err, sentinel.ErrNotFound):
			pending = models.NewPending(owner, body, models.DiffKeys(body, nil), models.StatusChecking, now)
			if err := w.versions.Create(ctx, pending); err != nil {
				return storeErr(err, "failed to create pending version")
			}
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pending version")
		}
		result.Pending = pending

		profile, err := w.profiles.FindByOwner(ctx, owner)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
		}
		if !w.promoter.ShouldAutoPromote(profile, prior) {
			return nil
		}
		if err := w.promoter.Promote(ctx, profile, pending.Body, now); err != nil {
			return storeErr(err, "failed to promote staff edit")
		}
		result.Promoted = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if w.metrics != nil {
		w.metrics.StaffEdits.Inc()
		if result.Promoted {
			w.metrics.AutoPromotions.Inc()
		}
	}
	w.logAudit(ctx, audit.Event{
		OwnerID: owner.String(),
		Actor:   actor.String(),
		Action:  audit.ActionPendingEdited,
	}, "version_id", result.Pending.ID.String(), "promoted", result.Promoted)
	if result.Promoted {
		w.logAudit(ctx, audit.Event{
			OwnerID: owner.String(),
			Actor:   actor.String(),
			Action:  audit.ActionProfilePromoted,
			Detail:  "staff edit auto-promoted",
		})
	}
	return result, nil
}

// SubmitForReview turns the draft into a review submission. The required
// questionnaire answers are checked strictly before any write; the pending
// version then takes the draft's body and changed fields verbatim, moves to
// submitted, and increments its submission counter. Resubmitting over a
// version a reviewer is still checking is allowed; resubmitting over an
// unanswered submission is a conflict.
func (w *Workflow) SubmitForReview(ctx context.Context, versionID id.VersionID) (*models.Version, error) {
	if versionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "version id is required")
	}

	ctx, done := w.instrument(ctx, "submit_for_review")
	defer done()

	probe, err := w.loadVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if probe.Kind != models.KindDraft {
		return nil, dErrors.New(dErrors.CodeConflict, "only draft versions can be submitted for review")
	}

	var pending *models.Version
	err = w.runOwnerOp(ctx, probe.OwnerID, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)

		draft, err := w.loadVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if missing := w.validateSubmission(draft.Body); missing != nil {
			return missing
		}

		existing, err := w.versions.FindByOwner(ctx, draft.OwnerID, models.KindPending)
		switch {
		case err == nil:
			if !existing.Status.CanTransitionTo(models.StatusSubmitted) {
				return dErrors.New(dErrors.CodeConflict, "a submission is already awaiting review")
			}
			existing.ApplySubmission(draft, now)
			if err := w.versions.Update(ctx, existing); err != nil {
				return storeErr(err, "failed to update pending version")
			}
			pending = existing
		case errors.Is(err, sentinel.ErrNotFound):
			created := models.NewPending(draft.OwnerID, draft.Body, draft.ChangedFields, models.StatusSubmitted, now)
			if err := w.versions.Create(ctx, created); err != nil {
				return storeErr(err, "failed to create pending version")
			}
			pending = created
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pending version")
		}

		draft.Status = models.StatusSubmitted
		draft.UpdatedAt = now
		if err := w.versions.Update(ctx, draft); err != nil {
			return storeErr(err, "failed to update draft status")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if w.metrics != nil {
		w.metrics.Submissions.Inc()
	}
	w.logAudit(ctx, audit.Event{
		OwnerID: probe.OwnerID.String(),
		Actor:   probe.OwnerID.String(),
		Action:  audit.ActionReviewSubmitted,
	}, "version_id", pending.ID.String(), "submit_count", pending.SubmitCount)
	return pending, nil
}

// ViewAsReviewer moves a submitted version to checking and binds the
// reviewer. Idempotent: a version already in checking is returned unchanged
// and keeps its original reviewer. A version that already carries a decision
// is a plain read, nothing transitions.
func (w *Workflow) ViewAsReviewer(ctx context.Context, versionID id.VersionID, reviewer id.ReviewerID) (*models.Version, error) {
	if versionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "version id is required")
	}
	if reviewer.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "reviewer id is required")
	}

	ctx, done := w.instrument(ctx, "view_as_reviewer")
	defer done()

	probe, err := w.loadVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	var pending *models.Version
	opened := false
	err = w.runOwnerOp(ctx, probe.OwnerID, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		opened = false

		v, err := w.loadVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if v.Kind != models.KindPending {
			return dErrors.New(dErrors.CodeInvariantViolation, "only pending versions can be reviewed")
		}
		// Decided versions stay readable for reviewers after the fact.
		if v.Status.IsTerminal() {
			pending = v
			return nil
		}
		if err := v.CanBeginReview(); err != nil {
			return err
		}
		if v.Status != models.StatusChecking {
			v.ApplyBeginReview(reviewer, now)
			if err := w.versions.Update(ctx, v); err != nil {
				return storeErr(err, "failed to update pending version")
			}
			opened = true
		}
		pending = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opened {
		w.logAudit(ctx, audit.Event{
			OwnerID: pending.OwnerID.String(),
			Actor:   reviewer.String(),
			Action:  audit.ActionReviewOpened,
		}, "version_id", pending.ID.String())
	}
	return pending, nil
}

// Decide records a terminal review outcome. The changed-field set is cleared
// so the next cycle starts from a clean baseline; an approval promotes the
// reviewed body onto the live profile when one exists.
func (w *Workflow) Decide(ctx context.Context, versionID id.VersionID, decision models.ReviewStatus, comments string, reviewer id.ReviewerID) (*DecideResult, error) {
	if versionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "version id is required")
	}
	if reviewer.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "reviewer id is required")
	}
	if !decision.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid decision: %s", decision))
	}

	ctx, done := w.instrument(ctx, "decide")
	defer done()

	probe, err := w.loadVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	result := &DecideResult{}
	err = w.runOwnerOp(ctx, probe.OwnerID, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		result.Promoted = false

		pending, err := w.loadVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if err := pending.CanDecide(decision); err != nil {
			return err
		}
		pending.ApplyDecision(decision, comments, reviewer, now)
		if err := w.versions.Update(ctx, pending); err != nil {
			return storeErr(err, "failed to update pending version")
		}
		result.Pending = pending

		if decision != models.StatusApproved {
			return nil
		}

		// Profiles are provisioned by the enrollment system, never here. An
		// approval with no live row records the decision and skips promotion.
		profile, err := w.profiles.FindByOwner(ctx, pending.OwnerID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				if w.logger != nil {
					w.logger.WarnContext(ctx, "approved version has no live profile, promotion skipped",
						"owner_id", pending.OwnerID.String())
				}
				return nil
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
		}
		if err := w.promoter.Promote(ctx, profile, pending.Body, now); err != nil {
			return storeErr(err, "failed to promote approved version")
		}
		result.Promoted = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if w.metrics != nil {
		w.metrics.Decisions.WithLabelValues(string(decision)).Inc()
	}
	w.logAudit(ctx, audit.Event{
		OwnerID: result.Pending.OwnerID.String(),
		Actor:   reviewer.String(),
		Action:  audit.ActionReviewDecided,
		Detail:  string(decision),
	}, "version_id", result.Pending.ID.String())
	if result.Promoted {
		w.logAudit(ctx, audit.Event{
			OwnerID: result.Pending.OwnerID.String(),
			Actor:   reviewer.String(),
			Action:  audit.ActionProfilePromoted,
			Detail:  "approved submission promoted",
		})
	}
	return result, nil
}

// OwnerVersions loads an owner's full review state. Missing tiers come back
// nil rather than as errors.
func (w *Workflow) OwnerVersions(ctx context.Context, owner id.OwnerID) (*VersionSet, error) {
	if owner.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "owner id is required")
	}

	ctx, done := w.instrument(ctx, "owner_versions")
	defer done()

	set := &VersionSet{}
	draft, err := w.versions.FindByOwner(ctx, owner, models.KindDraft)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load draft")
	}
	set.Draft = draft

	pending, err := w.versions.FindByOwner(ctx, owner, models.KindPending)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pending version")
	}
	set.Pending = pending

	profile, err := w.profiles.FindByOwner(ctx, owner)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	set.Profile = profile

	return set, nil
}

// validateSubmission checks required questionnaire answers. Returns a
// validation error carrying the missing questions grouped by category, or nil.
func (w *Workflow) validateSubmission(body models.Body) error {
	if w.validator == nil {
		return nil
	}
	missing := w.validator.Validate(body)
	if len(missing) == 0 {
		return nil
	}
	return dErrors.New(dErrors.CodeValidation,
		fmt.Sprintf("%d required questions are unanswered", len(missing))).
		WithDetails(map[string]any{
			"count":   len(missing),
			"missing": questionnaire.GroupByCategory(missing),
		})
}

// loadVersion translates the store's not-found sentinel at the boundary.
func (w *Workflow) loadVersion(ctx context.Context, versionID id.VersionID) (*models.Version, error) {
	v, err := w.versions.FindByID(ctx, versionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "version not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load version")
	}
	return v, nil
}

// runOwnerOp executes fn inside the per-owner transaction, retrying the whole
// read-decide-write sequence when an optimistic-lock conflict slips past the
// owner lock (concurrent writers on another process).
func (w *Workflow) runOwnerOp(ctx context.Context, owner id.OwnerID, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = w.ownerTx.RunInOwnerTx(ctx, owner, fn)
		if !errors.Is(err, sentinel.ErrConflict) {
			return err
		}
		if w.metrics != nil {
			w.metrics.MergeConflicts.Inc()
		}
	}
	return dErrors.Wrap(err, dErrors.CodeConflict, "concurrent modification, please retry")
}

// storeErr keeps conflict sentinels raw so runOwnerOp can retry them, and
// wraps everything else as internal.
func storeErr(err error, message string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, message)
}

func (w *Workflow) instrument(ctx context.Context, operation string) (context.Context, func()) {
	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "review."+operation)
	return ctx, func() {
		span.End()
		if w.metrics != nil {
			w.metrics.OperationTiming.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		}
	}
}

func (w *Workflow) logAudit(ctx context.Context, event audit.Event, attributes ...any) {
	if w.logger != nil {
		args := append(attributes,
			"owner_id", event.OwnerID,
			"actor", event.Actor,
			"event", string(event.Action),
			"log_type", "audit",
			"request_id", requestcontext.RequestID(ctx),
		)
		w.logger.InfoContext(ctx, string(event.Action), args...)
	}
	if w.auditPublisher == nil {
		return
	}
	if err := w.auditPublisher.Emit(ctx, event); err != nil && w.logger != nil {
		w.logger.WarnContext(ctx, "audit emit failed", "error", err, "event", string(event.Action))
	}
}
