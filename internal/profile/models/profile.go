package models

import (
	"time"

	id "folio/pkg/domain"
)

// Profile is the live, public record of truth for an owner. Exactly one
// exists per owner, created at provisioning time and never deleted here.
// Its body is mutated only by promotion: either a reviewer's terminal
// approval or an auto-promoted staff edit.
type Profile struct {
	OwnerID   id.OwnerID `json:"owner_id"`
	Body      Body       `json:"body"`
	Visible   bool       `json:"visible"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewProfile provisions a live profile. New profiles start hidden; a staff
// decision flips visibility through the surrounding CRUD layer.
func NewProfile(owner id.OwnerID, body Body, now time.Time) *Profile {
	if body == nil {
		body = Body{}
	}
	return &Profile{
		OwnerID:   owner,
		Body:      body.Clone(),
		Visible:   false,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplyPromotion shallow-merges a version body onto the live body. Fields the
// live layout stores as serialized text are flattened first; keys absent from
// the incoming body are left untouched.
func (p *Profile) ApplyPromotion(body Body, schema Schema, now time.Time) {
	serialized := schema.SerializeForLive(body)
	if p.Body == nil {
		p.Body = Body{}
	}
	for k, v := range serialized {
		p.Body[k] = v
	}
	p.UpdatedAt = now
}

// Clone returns a deep copy for stores handing out profiles.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Body = p.Body.Clone()
	return &clone
}
