package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"folio/internal/audit"
	"folio/internal/profile/models"
	profilestore "folio/internal/profile/store/profile"
	versionstore "folio/internal/profile/store/version"
	"folio/internal/review/questionnaire"
	"folio/internal/review/service"
	id "folio/pkg/domain"
	dErrors "folio/pkg/domain-errors"
)

type WorkflowSuite struct {
	suite.Suite
	ctx        context.Context
	versions   *versionstore.InMemory
	profiles   *profilestore.InMemory
	auditStore *audit.InMemoryStore
	workflow   *service.Workflow
}

func (s *WorkflowSuite) SetupTest() {
	s.ctx = context.Background()
	s.versions = versionstore.NewInMemory()
	s.profiles = profilestore.NewInMemory()
	s.auditStore = audit.NewInMemoryStore()
	s.workflow = service.New(s.versions, s.profiles, service.NewInMemoryOwnerTx(),
		service.WithAuditPublisher(audit.NewPublisher(s.auditStore)),
	)
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) provisionProfile(owner id.OwnerID, visible bool) *models.Profile {
	p := models.NewProfile(owner, models.Body{"name": "initial"}, time.Now())
	p.Visible = visible
	s.Require().NoError(s.profiles.Create(s.ctx, p))
	return p
}

func (s *WorkflowSuite) TestSaveDraft() {
	owner := id.OwnerID("owner-1")

	s.Run("first save creates the draft", func() {
		draft, err := s.workflow.SaveDraft(s.ctx, owner, models.Body{"name": "Aziz", "city": "Tashkent"})
		s.Require().NoError(err)
		s.Equal(models.KindDraft, draft.Kind)
		s.Equal(models.StatusDraft, draft.Status)
		s.Equal([]string{"city", "name"}, draft.ChangedFields)
	})

	s.Run("subsequent saves merge changed fields", func() {
		draft, err := s.workflow.SaveDraft(s.ctx, owner, models.Body{"name": "Aziz", "city": "Samarkand", "age": 21})
		s.Require().NoError(err)
		s.Equal([]string{"age", "city", "name"}, draft.ChangedFields)
	})

	s.Run("rejects empty owner and nil body", func() {
		_, err := s.workflow.SaveDraft(s.ctx, "", models.Body{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, err = s.workflow.SaveDraft(s.ctx, owner, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *WorkflowSuite) TestSubmitForReview() {
	owner := id.OwnerID("owner-1")

	s.Run("unknown version is not found", func() {
		_, err := s.workflow.SubmitForReview(s.ctx, id.NewVersionID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("first submission creates the pending copy", func() {
		draft, err := s.workflow.SaveDraft(s.ctx, owner, models.Body{"name": "Aziz"})
		s.Require().NoError(err)

		pending, err := s.workflow.SubmitForReview(s.ctx, draft.ID)
		s.Require().NoError(err)
		s.Equal(models.KindPending, pending.Kind)
		s.Equal(models.StatusSubmitted, pending.Status)
		s.Equal(1, pending.SubmitCount)
		s.Equal(draft.ChangedFields, pending.ChangedFields)
		s.True(pending.Body.Equal(draft.Body))

		updatedDraft, err := s.versions.FindByID(s.ctx, draft.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusSubmitted, updatedDraft.Status)
	})

	s.Run("submitting a pending version is a conflict", func() {
		pending, err := s.versions.FindByOwner(s.ctx, owner, models.KindPending)
		s.Require().NoError(err)

		_, err = s.workflow.SubmitForReview(s.ctx, pending.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("resubmitting over an unanswered submission is a conflict", func() {
		draft, err := s.versions.FindByOwner(s.ctx, owner, models.KindDraft)
		s.Require().NoError(err)

		_, err = s.workflow.SubmitForReview(s.ctx, draft.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("resubmitting while a reviewer is checking is allowed", func() {
		pending, err := s.versions.FindByOwner(s.ctx, owner, models.KindPending)
		s.Require().NoError(err)
		_, err = s.workflow.ViewAsReviewer(s.ctx, pending.ID, "staff-1")
		s.Require().NoError(err)

		draft, err := s.workflow.SaveDraft(s.ctx, owner, models.Body{"name": "Aziz", "phone": "998"})
		s.Require().NoError(err)

		resubmitted, err := s.workflow.SubmitForReview(s.ctx, draft.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusSubmitted, resubmitted.Status)
		s.Equal(2, resubmitted.SubmitCount)
		s.True(resubmitted.ReviewerID.IsEmpty())
	})
}

func (s *WorkflowSuite) TestSubmitValidation() {
	schema := questionnaire.Schema{
		"career": {
			"goal": {Text: "What is your career goal?", Required: true},
		},
	}
	workflow := service.New(s.versions, s.profiles, service.NewInMemoryOwnerTx(),
		service.WithQuestionnaire(questionnaire.New(schema)),
	)
	owner := id.OwnerID("owner-v")

	s.Run("missing required answers block submission before any write", func() {
		draft, err := workflow.SaveDraft(s.ctx, owner, models.Body{"name": "Aziz"})
		s.Require().NoError(err)

		_, err = workflow.SubmitForReview(s.ctx, draft.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		details, ok := dErrors.DetailsOf(err).(map[string]any)
		s.Require().True(ok)
		s.Equal(1, details["count"])

		// No pending version was created and the draft was not touched.
		_, err = s.versions.FindByOwner(s.ctx, owner, models.KindPending)
		s.Require().Error(err)
		untouched, err := s.versions.FindByID(s.ctx, draft.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusDraft, untouched.Status)
	})

	s.Run("answered questionnaire passes", func() {
		draft, err := workflow.SaveDraft(s.ctx, owner, models.Body{
			"name": "Aziz",
			"qa": map[string]any{
				"career": map[string]any{"goal": map[string]any{"answer": "engineer"}},
			},
		})
		s.Require().NoError(err)

		pending, err := workflow.SubmitForReview(s.ctx, draft.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusSubmitted, pending.Status)
	})
}

func (s *WorkflowSuite) TestViewAsReviewer() {
	owner := id.OwnerID("owner-1")
	draft, err := s.workflow.SaveDraft(s.ctx, owner, models.Body{"name": "Aziz"})
	s.Require().NoError(err)
	pending, err := s.workflow.SubmitForReview(s.ctx, draft.ID)
	s.Require().NoError(err)

	s.Run("submitted moves to checking and binds the reviewer", func() {
		checked, err := s.workflow.ViewAsReviewer(s.ctx, pending.ID, "staff-1")
		s.Require().NoError(err)
		s.Equal(models.StatusChecking, checked.Status)
		s.Equal(id.ReviewerID("staff-1"), checked.ReviewerID)
	})

	s.Run("idempotent, never reassigns the reviewer", func() {
		checked, err := s.workflow.ViewAsReviewer(s.ctx, pending.ID, "staff-2")
		s.Require().NoError(err)
		s.Equal(models.StatusChecking, checked.Status)
		s.Equal(id.ReviewerID("staff-1"), checked.ReviewerID)
	})

	s.Run("viewing a draft is rejected", func() {
		_, err := s.workflow.ViewAsReviewer(s.ctx, draft.ID, "staff-1")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("reviewer id is required", func() {
		_, err := s.workflow.ViewAsReviewer(s.ctx, pending.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("decided version reads back without a transition", func() {
		_, err := s.workflow.Decide(s.ctx, pending.ID, models.StatusApproved, "ok", "staff-1")
		s.Require().NoError(err)

		viewed, err := s.workflow.ViewAsReviewer(s.ctx, pending.ID, "staff-2")
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, viewed.Status)
		s.Equal(id.ReviewerID("staff-1"), viewed.ReviewerID)

		stored, err := s.versions.FindByID(s.ctx, pending.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, stored.Status)
	})
}

func (s *WorkflowSuite) TestDecide() {
	owner := id.OwnerID("owner-1")

	submit := func() *models.Version {
		draft, err := s.workflow.SaveDraft(s.ctx, owner, models.Body{"name": "Aziz", "jlpt": map[string]any{"level": "N2"}})
		s.Require().NoError(err)
		pending, err := s.workflow.SubmitForReview(s.ctx, draft.ID)
		s.Require().NoError(err)
		return pending
	}

	s.Run("deciding a submitted version without viewing is rejected", func() {
		pending := submit()
		_, err := s.workflow.Decide(s.ctx, pending.ID, models.StatusApproved, "", "staff-1")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("resubmission_required records comments without promoting", func() {
		pending, err := s.versions.FindByOwner(s.ctx, owner, models.KindPending)
		s.Require().NoError(err)
		_, err = s.workflow.ViewAsReviewer(s.ctx, pending.ID, "staff-1")
		s.Require().NoError(err)

		result, err := s.workflow.Decide(s.ctx, pending.ID, models.StatusResubmissionRequired, "please add your phone", "staff-1")
		s.Require().NoError(err)
		s.False(result.Promoted)
		s.Equal(models.StatusResubmissionRequired, result.Pending.Status)
		s.Equal("please add your phone", result.Pending.Comments)
		s.Empty(result.Pending.ChangedFields)

		_, err = s.profiles.FindByOwner(s.ctx, owner)
		s.Require().Error(err)
	})

	s.Run("approval without a live profile records the decision and skips promotion", func() {
		draft, err := s.versions.FindByOwner(s.ctx, owner, models.KindDraft)
		s.Require().NoError(err)
		pending, err := s.workflow.SubmitForReview(s.ctx, draft.ID)
		s.Require().NoError(err)
		_, err = s.workflow.ViewAsReviewer(s.ctx, pending.ID, "staff-1")
		s.Require().NoError(err)

		result, err := s.workflow.Decide(s.ctx, pending.ID, models.StatusApproved, "welcome", "staff-1")
		s.Require().NoError(err)
		s.False(result.Promoted)
		s.Equal(models.StatusApproved, result.Pending.Status)
		s.Empty(result.Pending.ChangedFields)

		// Profiles come from enrollment; the decision must not invent one.
		_, err = s.profiles.FindByOwner(s.ctx, owner)
		s.Require().Error(err)
	})

	s.Run("approval promotes onto the live profile", func() {
		s.provisionProfile(owner, true)
		draft, err := s.versions.FindByOwner(s.ctx, owner, models.KindDraft)
		s.Require().NoError(err)
		pending, err := s.workflow.SubmitForReview(s.ctx, draft.ID)
		s.Require().NoError(err)
		_, err = s.workflow.ViewAsReviewer(s.ctx, pending.ID, "staff-1")
		s.Require().NoError(err)

		result, err := s.workflow.Decide(s.ctx, pending.ID, models.StatusApproved, "welcome", "staff-1")
		s.Require().NoError(err)
		s.True(result.Promoted)
		s.Empty(result.Pending.ChangedFields)

		profile, err := s.profiles.FindByOwner(s.ctx, owner)
		s.Require().NoError(err)
		s.Equal("Aziz", profile.Body["name"])
		s.JSONEq(`{"level":"N2"}`, profile.Body["jlpt"].(string))

		// The draft's accumulated set is untouched by the decision.
		draftAfter, err := s.versions.FindByID(s.ctx, draft.ID)
		s.Require().NoError(err)
		s.NotEmpty(draftAfter.ChangedFields)
	})

	s.Run("non-terminal decision is a bad request", func() {
		pending, err := s.versions.FindByOwner(s.ctx, owner, models.KindPending)
		s.Require().NoError(err)
		_, err = s.workflow.Decide(s.ctx, pending.ID, models.StatusChecking, "", "staff-1")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *WorkflowSuite) TestStaffEditPending() {
	owner := id.OwnerID("owner-1")

	s.Run("creates a pending version in checking status", func() {
		result, err := s.workflow.StaffEditPending(s.ctx, owner, "staff-1", models.Body{"name": "Aziz"})
		s.Require().NoError(err)
		s.Equal(models.StatusChecking, result.Pending.Status)
		s.Equal(1, result.Pending.SubmitCount)
		s.False(result.Promoted)
	})

	s.Run("editing keeps the current status", func() {
		result, err := s.workflow.StaffEditPending(s.ctx, owner, "staff-1", models.Body{"name": "Aziz", "city": "Tashkent"})
		s.Require().NoError(err)
		s.Equal(models.StatusChecking, result.Pending.Status)
		s.Equal([]string{"city", "name"}, result.Pending.ChangedFields)
	})

	s.Run("no auto-promotion while under review", func() {
		s.provisionProfile(owner, true)
		result, err := s.workflow.StaffEditPending(s.ctx, owner, "staff-1", models.Body{"name": "Aziz", "city": "Bukhara"})
		s.Require().NoError(err)
		s.False(result.Promoted)

		profile, err := s.profiles.FindByOwner(s.ctx, owner)
		s.Require().NoError(err)
		s.Equal("initial", profile.Body["name"])
	})

	s.Run("auto-promotes a terminal pending on a visible profile", func() {
		pending, err := s.versions.FindByOwner(s.ctx, owner, models.KindPending)
		s.Require().NoError(err)
		_, err = s.workflow.Decide(s.ctx, pending.ID, models.StatusResubmissionRequired, "tweak", "staff-1")
		s.Require().NoError(err)

		result, err := s.workflow.StaffEditPending(s.ctx, owner, "staff-1", models.Body{"name": "Azizbek", "city": "Bukhara"})
		s.Require().NoError(err)
		s.True(result.Promoted)
		// Status unchanged and changed fields intact: promotion is not a decision.
		s.Equal(models.StatusResubmissionRequired, result.Pending.Status)
		s.Equal([]string{"name"}, result.Pending.ChangedFields)

		profile, err := s.profiles.FindByOwner(s.ctx, owner)
		s.Require().NoError(err)
		s.Equal("Azizbek", profile.Body["name"])
	})

	s.Run("first edit on a visible profile promotes immediately", func() {
		// No pending exists yet for this owner, so there is no owner
		// submission awaiting an answer and the shortcut applies.
		freshOwner := id.OwnerID("owner-fresh")
		s.provisionProfile(freshOwner, true)

		result, err := s.workflow.StaffEditPending(s.ctx, freshOwner, "staff-1", models.Body{"name": "edited"})
		s.Require().NoError(err)
		s.True(result.Promoted)
		s.Equal(models.StatusChecking, result.Pending.Status)

		profile, err := s.profiles.FindByOwner(s.ctx, freshOwner)
		s.Require().NoError(err)
		s.Equal("edited", profile.Body["name"])
	})

	s.Run("hidden profile never auto-promotes", func() {
		hiddenOwner := id.OwnerID("owner-hidden")
		s.provisionProfile(hiddenOwner, false)

		result, err := s.workflow.StaffEditPending(s.ctx, hiddenOwner, "staff-1", models.Body{"name": "Nigora"})
		s.Require().NoError(err)
		s.False(result.Promoted)

		profile, err := s.profiles.FindByOwner(s.ctx, hiddenOwner)
		s.Require().NoError(err)
		s.Equal("initial", profile.Body["name"])
	})
}

func (s *WorkflowSuite) TestOwnerVersions() {
	owner := id.OwnerID("owner-1")

	s.Run("missing tiers come back nil", func() {
		set, err := s.workflow.OwnerVersions(s.ctx, owner)
		s.Require().NoError(err)
		s.Nil(set.Draft)
		s.Nil(set.Pending)
		s.Nil(set.Profile)
	})

	s.Run("returns whatever exists", func() {
		_, err := s.workflow.SaveDraft(s.ctx, owner, models.Body{"name": "Aziz"})
		s.Require().NoError(err)
		s.provisionProfile(owner, true)

		set, err := s.workflow.OwnerVersions(s.ctx, owner)
		s.Require().NoError(err)
		s.NotNil(set.Draft)
		s.Nil(set.Pending)
		s.NotNil(set.Profile)
	})
}

// TestFullReviewCycle walks one owner through the complete workflow: draft
// edits, a rejected submission, staff corrections with auto-promotion, and a
// final approval.
func (s *WorkflowSuite) TestFullReviewCycle() {
	owner := id.OwnerID("student-42")
	s.provisionProfile(owner, true)

	// Owner drafts over several sessions; the changed set accumulates.
	draft, err := s.workflow.SaveDraft(s.ctx, owner, models.Body{"name": "Aziz", "city": "Tashkent"})
	s.Require().NoError(err)
	draft, err = s.workflow.SaveDraft(s.ctx, owner, models.Body{"name": "Aziz", "city": "Tashkent", "jlpt": map[string]any{"level": "N3"}})
	s.Require().NoError(err)
	s.Equal([]string{"city", "jlpt", "name"}, draft.ChangedFields)

	// First submission.
	pending, err := s.workflow.SubmitForReview(s.ctx, draft.ID)
	s.Require().NoError(err)
	s.Equal(1, pending.SubmitCount)

	// Reviewer opens it and asks for changes; the cycle closes, changed
	// fields reset on the pending copy only.
	_, err = s.workflow.ViewAsReviewer(s.ctx, pending.ID, "staff-7")
	s.Require().NoError(err)
	rejection, err := s.workflow.Decide(s.ctx, pending.ID, models.StatusResubmissionRequired, "JLPT certificate missing", "staff-7")
	s.Require().NoError(err)
	s.Empty(rejection.Pending.ChangedFields)
	s.False(rejection.Promoted)

	// Staff fix a typo directly; terminal status + visible profile means the
	// correction reaches the live profile immediately.
	edit, err := s.workflow.StaffEditPending(s.ctx, owner, "staff-7", models.Body{
		"name": "Aziz", "city": "Tashkent", "jlpt": map[string]any{"level": "N3"}, "note": "verified",
	})
	s.Require().NoError(err)
	s.True(edit.Promoted)
	profile, err := s.profiles.FindByOwner(s.ctx, owner)
	s.Require().NoError(err)
	s.Equal("verified", profile.Body["note"])

	// Owner updates the draft and resubmits; the pending copy is replaced
	// wholesale and the counter advances.
	draft, err = s.workflow.SaveDraft(s.ctx, owner, models.Body{"name": "Aziz", "city": "Tashkent", "jlpt": map[string]any{"level": "N2"}})
	s.Require().NoError(err)
	pending, err = s.workflow.SubmitForReview(s.ctx, draft.ID)
	s.Require().NoError(err)
	s.Equal(2, pending.SubmitCount)
	s.Empty(pending.Comments)

	// Approval closes the cycle and promotes with field serialization.
	_, err = s.workflow.ViewAsReviewer(s.ctx, pending.ID, "staff-7")
	s.Require().NoError(err)
	approval, err := s.workflow.Decide(s.ctx, pending.ID, models.StatusApproved, "ok", "staff-7")
	s.Require().NoError(err)
	s.True(approval.Promoted)
	s.Empty(approval.Pending.ChangedFields)

	profile, err = s.profiles.FindByOwner(s.ctx, owner)
	s.Require().NoError(err)
	s.JSONEq(`{"level":"N2"}`, profile.Body["jlpt"].(string))

	// The audit trail recorded the whole story.
	events, err := s.auditStore.ListByOwner(s.ctx, owner.String())
	s.Require().NoError(err)
	var actions []audit.Action
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	s.Contains(actions, audit.ActionDraftSaved)
	s.Contains(actions, audit.ActionReviewSubmitted)
	s.Contains(actions, audit.ActionReviewOpened)
	s.Contains(actions, audit.ActionReviewDecided)
	s.Contains(actions, audit.ActionProfilePromoted)
}

// TestConcurrentDraftSaves hammers one owner with parallel saves; the
// per-owner lock must serialize them so every field survives in the union.
func (s *WorkflowSuite) TestConcurrentDraftSaves() {
	owner := id.OwnerID("owner-hot")
	const writers = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			body := models.Body{"name": "Aziz", fmt.Sprintf("field_%02d", n): n}
			_, err := s.workflow.SaveDraft(s.ctx, owner, body)
			s.NoError(err)
		}(i)
	}
	wg.Wait()

	draft, err := s.versions.FindByOwner(s.ctx, owner, models.KindDraft)
	s.Require().NoError(err)
	for i := 0; i < writers; i++ {
		s.Contains(draft.ChangedFields, fmt.Sprintf("field_%02d", i))
	}
}
