package audit

import "time"

// Action names the review workflow events worth auditing. External
// notifiers (email, chat) consume this stream instead of hooking into the
// workflow directly.
type Action string

const (
	ActionDraftSaved      Action = "draft.saved"
	ActionPendingEdited   Action = "pending.staff_edited"
	ActionReviewSubmitted Action = "review.submitted"
	ActionReviewOpened    Action = "review.opened"
	ActionReviewDecided   Action = "review.decided"
	ActionProfilePromoted Action = "profile.promoted"
)

// Event is emitted from the workflow to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	OwnerID   string    `json:"owner_id"`
	Actor     string    `json:"actor,omitempty"`
	Action    Action    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
}
