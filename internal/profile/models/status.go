package models

import (
	"fmt"

	dErrors "folio/pkg/domain-errors"
)

// VersionKind distinguishes the owner's private working copy from the
// snapshot under staff review. Exactly one version of each kind exists per
// owner at a time; the stores find-or-create rather than enforce uniqueness.
type VersionKind string

const (
	KindDraft   VersionKind = "draft"
	KindPending VersionKind = "pending"
)

// ParseVersionKind validates a kind string.
func ParseVersionKind(s string) (VersionKind, error) {
	switch VersionKind(s) {
	case KindDraft, KindPending:
		return VersionKind(s), nil
	}
	return "", fmt.Errorf("unknown version kind: %s", s)
}

// ReviewStatus is the review lifecycle state of a version.
//
// For kind=draft only StatusDraft is meaningful (neutral "being edited");
// consumers must ignore any other value. For kind=pending the cycle is:
//
//	submitted → checking → approved | resubmission_required | disapproved
//
// plus checking → submitted (owner resubmits while a reviewer is still
// looking) and terminal → submitted (owner starts a new cycle). Anything not
// in the table below is rejected.
type ReviewStatus string

const (
	StatusDraft                ReviewStatus = "draft"
	StatusSubmitted            ReviewStatus = "submitted"
	StatusChecking             ReviewStatus = "checking"
	StatusApproved             ReviewStatus = "approved"
	StatusResubmissionRequired ReviewStatus = "resubmission_required"
	StatusDisapproved          ReviewStatus = "disapproved"
)

var statusTransitions = map[ReviewStatus][]ReviewStatus{
	StatusSubmitted:            {StatusChecking},
	StatusChecking:             {StatusApproved, StatusResubmissionRequired, StatusDisapproved, StatusSubmitted},
	StatusApproved:             {StatusSubmitted},
	StatusResubmissionRequired: {StatusSubmitted},
	StatusDisapproved:          {StatusSubmitted},
	StatusDraft:                {StatusSubmitted},
}

// CanTransitionTo reports whether the transition is listed in the table.
func (s ReviewStatus) CanTransitionTo(target ReviewStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status completes a review cycle. Terminal
// transitions clear the version's changed-field set.
func (s ReviewStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusResubmissionRequired, StatusDisapproved:
		return true
	}
	return false
}

// IsUnderReview reports whether the version represents a fresh owner
// submission that a reviewer has not answered yet. Auto-promotion is gated
// off while this holds.
func (s ReviewStatus) IsUnderReview() bool {
	return s == StatusSubmitted || s == StatusChecking
}

// ParseDecision validates a reviewer decision. Only the three terminal
// outcomes are decisions; everything else is rejected.
func ParseDecision(s string) (ReviewStatus, error) {
	status := ReviewStatus(s)
	if !status.IsTerminal() {
		return "", dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid decision: %s", s))
	}
	return status, nil
}
