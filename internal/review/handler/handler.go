// Package handler exposes the review workflow over HTTP. Handlers stay thin:
// decode, resolve the acting principal, call the workflow, translate the
// domain error. Reviewer identity always travels as an explicit argument.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"folio/internal/profile/models"
	"folio/internal/review/service"
	id "folio/pkg/domain"
	dErrors "folio/pkg/domain-errors"
	"folio/pkg/platform/httputil"
	"folio/pkg/platform/middleware/auth"
)

// Workflow is the slice of the review service the HTTP surface needs.
type Workflow interface {
	SaveDraft(ctx context.Context, owner id.OwnerID, body models.Body) (*models.Version, error)
	StaffEditPending(ctx context.Context, owner id.OwnerID, actor id.ReviewerID, body models.Body) (*service.StaffEditResult, error)
	SubmitForReview(ctx context.Context, versionID id.VersionID) (*models.Version, error)
	ViewAsReviewer(ctx context.Context, versionID id.VersionID, reviewer id.ReviewerID) (*models.Version, error)
	Decide(ctx context.Context, versionID id.VersionID, decision models.ReviewStatus, comments string, reviewer id.ReviewerID) (*service.DecideResult, error)
	OwnerVersions(ctx context.Context, owner id.OwnerID) (*service.VersionSet, error)
}

type Handler struct {
	workflow  Workflow
	validator auth.TokenValidator
	logger    *slog.Logger
}

func NewHandler(workflow Workflow, validator auth.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{workflow: workflow, validator: validator, logger: logger}
}

// Register mounts the review routes. Owner routes accept staff tokens too
// (staff act on behalf of owners through the admin surface); staff routes
// require the staff role.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Require(h.validator, h.logger, auth.RoleOwner, auth.RoleStaff))
			r.Put("/profiles/{ownerID}/draft", h.saveDraft)
			r.Post("/versions/{versionID}/submit", h.submitForReview)
			r.Get("/profiles/{ownerID}/versions", h.ownerVersions)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.Require(h.validator, h.logger, auth.RoleStaff))
			r.Put("/profiles/{ownerID}/pending", h.staffEditPending)
			r.Post("/versions/{versionID}/review", h.viewAsReviewer)
			r.Post("/versions/{versionID}/decision", h.decide)
		})
	})
}

func (h *Handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	owner := id.OwnerID(chi.URLParam(r, "ownerID"))
	if err := requireOwnerAccess(r.Context(), owner); err != nil {
		httputil.WriteError(w, err)
		return
	}

	body, err := decodeBody(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	draft, err := h.workflow.SaveDraft(r.Context(), owner, body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, versionResponse{Version: draft})
}

func (h *Handler) staffEditPending(w http.ResponseWriter, r *http.Request) {
	owner := id.OwnerID(chi.URLParam(r, "ownerID"))
	actor := id.ReviewerID(auth.Subject(r.Context()))

	body, err := decodeBody(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.workflow.StaffEditPending(r.Context(), owner, actor, body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, staffEditResponse{
		Pending:  result.Pending,
		Promoted: result.Promoted,
	})
}

func (h *Handler) submitForReview(w http.ResponseWriter, r *http.Request) {
	versionID, err := parseVersionID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	pending, err := h.workflow.SubmitForReview(r.Context(), versionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, versionResponse{Version: pending})
}

func (h *Handler) viewAsReviewer(w http.ResponseWriter, r *http.Request) {
	versionID, err := parseVersionID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	reviewer := id.ReviewerID(auth.Subject(r.Context()))

	pending, err := h.workflow.ViewAsReviewer(r.Context(), versionID, reviewer)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, versionResponse{Version: pending})
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	versionID, err := parseVersionID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	reviewer := id.ReviewerID(auth.Subject(r.Context()))

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	decision, err := models.ParseDecision(req.Decision)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.workflow.Decide(r.Context(), versionID, decision, req.Comments, reviewer)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decisionResponse{
		Pending:  result.Pending,
		Promoted: result.Promoted,
	})
}

func (h *Handler) ownerVersions(w http.ResponseWriter, r *http.Request) {
	owner := id.OwnerID(chi.URLParam(r, "ownerID"))
	if err := requireOwnerAccess(r.Context(), owner); err != nil {
		httputil.WriteError(w, err)
		return
	}

	set, err := h.workflow.OwnerVersions(r.Context(), owner)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, versionSetResponse{
		Draft:   set.Draft,
		Pending: set.Pending,
		Profile: set.Profile,
	})
}

// requireOwnerAccess blocks owners from touching other owners' records. Staff
// pass through.
func requireOwnerAccess(ctx context.Context, owner id.OwnerID) error {
	if auth.ActorRole(ctx) == auth.RoleStaff {
		return nil
	}
	if auth.Subject(ctx) != owner.String() {
		return dErrors.New(dErrors.CodeForbidden, "not your profile")
	}
	return nil
}

// decodeBody reads the profile body from the request. The whole JSON object
// is the body; there is no envelope.
func decodeBody(r *http.Request) (models.Body, error) {
	var body models.Body
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	return body, nil
}

func parseVersionID(r *http.Request) (id.VersionID, error) {
	versionID, err := id.ParseVersionID(chi.URLParam(r, "versionID"))
	if err != nil {
		return id.VersionID{}, dErrors.New(dErrors.CodeBadRequest, "invalid version id")
	}
	return versionID, nil
}
