package service

import (
	"context"
	"time"

	"folio/internal/profile/models"
)

// Promoter copies a version body onto the live profile. Promotion is the only
// way a live body changes: either a reviewer approves the pending version, or
// a staff edit qualifies for the auto-promotion shortcut.
type Promoter struct {
	profiles ProfileStore
	schema   models.Schema
}

func NewPromoter(profiles ProfileStore, schema models.Schema) *Promoter {
	return &Promoter{profiles: profiles, schema: schema}
}

// ShouldAutoPromote gates the staff-edit shortcut on the state BEFORE the
// edit: the profile must be publicly visible and there must be no fresh owner
// submission awaiting its answer. prior is the pending version as it existed
// before the upsert; nil (no pending at all) qualifies, and terminal statuses
// qualify because the owner has already been answered for that cycle.
func (p *Promoter) ShouldAutoPromote(profile *models.Profile, prior *models.Version) bool {
	if profile == nil || !profile.Visible {
		return false
	}
	return prior == nil || !prior.Status.IsUnderReview()
}

// Promote merges the body onto the live profile and persists it. Does not
// touch the pending version: promotion never clears changed fields.
func (p *Promoter) Promote(ctx context.Context, profile *models.Profile, body models.Body, now time.Time) error {
	profile.ApplyPromotion(body, p.schema, now)
	return p.profiles.Update(ctx, profile)
}
