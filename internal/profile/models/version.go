package models

import (
	"time"

	id "folio/pkg/domain"
	dErrors "folio/pkg/domain-errors"
)

// Version is one tier of the three-tier document system: either the owner's
// private draft or the snapshot submitted for staff review. Both persist
// indefinitely and are overwritten in place; the pending version's status
// cycles rather than the record being recreated.
//
// Invariants:
//   - ChangedFields accumulates across saves and is cleared exactly when a
//     pending version reaches a terminal status (never by auto-promotion)
//   - SubmitCount increments once per owner submission, starting at 1
//   - Revision backs optimistic concurrency in the stores; services never
//     set it directly
type Version struct {
	ID            id.VersionID  `json:"id"`
	OwnerID       id.OwnerID    `json:"owner_id"`
	Kind          VersionKind   `json:"kind"`
	Body          Body          `json:"body"`
	ChangedFields []string      `json:"changed_fields"`
	Status        ReviewStatus  `json:"status"`
	SubmitCount   int           `json:"submit_count"`
	ReviewerID    id.ReviewerID `json:"reviewer_id,omitempty"`
	Comments      string        `json:"comments,omitempty"`
	Revision      int64         `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewDraft creates the owner's working copy on first edit. Every field of the
// initial body counts as changed.
func NewDraft(owner id.OwnerID, body Body, now time.Time) *Version {
	return &Version{
		ID:            id.NewVersionID(),
		OwnerID:       owner,
		Kind:          KindDraft,
		Body:          body.Clone(),
		ChangedFields: DiffKeys(body, nil),
		Status:        StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewPending creates the review snapshot lazily, either from a staff edit
// (status checking) or an owner submission (status submitted). SubmitCount
// starts at 1 in both cases.
func NewPending(owner id.OwnerID, body Body, changed []string, status ReviewStatus, now time.Time) *Version {
	return &Version{
		ID:            id.NewVersionID(),
		OwnerID:       owner,
		Kind:          KindPending,
		Body:          body.Clone(),
		ChangedFields: append([]string(nil), changed...),
		Status:        status,
		SubmitCount:   1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ApplyBody merges an edit into the version: the body is replaced, the
// changed-field set grows by whatever differs from the previous body. The
// merge-not-replace policy guarantees a reviewer sees the cumulative set of
// fields touched since the last completed review, however many times the
// owner saved in between.
//
// A draft that had been submitted or decided drops back to the neutral
// editing status; a pending version keeps its status (staff edits do not
// restart the cycle).
func (v *Version) ApplyBody(body Body, now time.Time) {
	changed := DiffKeys(body, v.Body)
	v.Body = body.Clone()
	v.ChangedFields = UnionFields(v.ChangedFields, changed)
	if v.Kind == KindDraft && v.Status != StatusDraft {
		v.Status = StatusDraft
	}
	v.UpdatedAt = now
}

// ApplySubmission copies the draft's body and changed fields onto the pending
// version and restarts the review cycle. Reviewer binding and comments from
// the previous cycle are cleared.
func (v *Version) ApplySubmission(draft *Version, now time.Time) {
	v.Body = draft.Body.Clone()
	v.ChangedFields = append([]string(nil), draft.ChangedFields...)
	v.Status = StatusSubmitted
	v.SubmitCount++
	v.Comments = ""
	v.ReviewerID = ""
	v.UpdatedAt = now
}

// CanBeginReview checks the submitted → checking transition. Re-opening a
// version already in checking is allowed (and a no-op apart from reviewer
// binding, which never reassigns).
func (v *Version) CanBeginReview() error {
	if v.Kind != KindPending {
		return dErrors.New(dErrors.CodeInvariantViolation, "only pending versions can be reviewed")
	}
	if v.Status == StatusChecking {
		return nil
	}
	if !v.Status.CanTransitionTo(StatusChecking) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"version is not awaiting review (status: "+string(v.Status)+")")
	}
	return nil
}

// ApplyBeginReview moves a submitted version to checking and binds the
// reviewer. Idempotent: an already-checking version keeps its reviewer.
func (v *Version) ApplyBeginReview(reviewer id.ReviewerID, now time.Time) {
	if v.Status == StatusChecking {
		return
	}
	v.Status = StatusChecking
	v.ReviewerID = reviewer
	v.UpdatedAt = now
}

// CanDecide checks that decision is a terminal outcome reachable from the
// version's current status.
func (v *Version) CanDecide(decision ReviewStatus) error {
	if v.Kind != KindPending {
		return dErrors.New(dErrors.CodeInvariantViolation, "only pending versions can be decided")
	}
	if !decision.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "decision must be a terminal status")
	}
	if !v.Status.CanTransitionTo(decision) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"cannot decide a version in status "+string(v.Status))
	}
	return nil
}

// ApplyDecision records the reviewer's terminal decision and closes the
// review cycle: the cumulative changed-field set is cleared so the next cycle
// starts from a clean baseline.
func (v *Version) ApplyDecision(decision ReviewStatus, comments string, reviewer id.ReviewerID, now time.Time) {
	v.Status = decision
	v.Comments = comments
	v.ReviewerID = reviewer
	v.ChangedFields = []string{}
	v.UpdatedAt = now
}

// Clone returns a deep copy so stores can hand out versions without aliasing
// their internal state.
func (v *Version) Clone() *Version {
	if v == nil {
		return nil
	}
	clone := *v
	clone.Body = v.Body.Clone()
	clone.ChangedFields = append([]string(nil), v.ChangedFields...)
	return &clone
}
