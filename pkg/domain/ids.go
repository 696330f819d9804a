package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Typed identifiers keep owner, version, and reviewer references from being
// mixed up at call sites. OwnerID and ReviewerID are externally assigned
// strings (they come from the enrollment and staff systems); VersionID is
// generated here.

// OwnerID identifies the profile owner a Live profile and its versions belong to.
type OwnerID string

func (o OwnerID) String() string { return string(o) }

// IsEmpty returns true when the owner ID carries no value.
func (o OwnerID) IsEmpty() bool { return strings.TrimSpace(string(o)) == "" }

// ReviewerID identifies the staff member handling a review.
type ReviewerID string

func (r ReviewerID) String() string { return string(r) }

func (r ReviewerID) IsEmpty() bool { return strings.TrimSpace(string(r)) == "" }

// VersionID identifies a single draft or pending version record.
type VersionID uuid.UUID

// NewVersionID generates a random version ID.
func NewVersionID() VersionID {
	return VersionID(uuid.New())
}

// ParseVersionID validates and returns a VersionID.
func ParseVersionID(s string) (VersionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return VersionID{}, fmt.Errorf("invalid version id %q: %w", s, err)
	}
	return VersionID(u), nil
}

func (v VersionID) String() string { return uuid.UUID(v).String() }

// MarshalText renders the canonical UUID form; defined types do not inherit
// uuid.UUID's marshalers.
func (v VersionID) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *VersionID) UnmarshalText(b []byte) error {
	parsed, err := ParseVersionID(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// IsNil returns true for the zero version ID.
func (v VersionID) IsNil() bool { return uuid.UUID(v) == uuid.Nil }
