package audit

import "time"

// Event records one gate decision or session transition worth auditing.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Path      string    `json:"path,omitempty"`
	Target    string    `json:"target,omitempty"`
	Rule      string    `json:"rule,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

type Action string

const (
	ActionGateRedirect   Action = "gate_redirect"
	ActionSessionCleared Action = "session_cleared"
	ActionSignedIn       Action = "signed_in"
	ActionSignedOut      Action = "signed_out"
	ActionCallbackFailed Action = "auth_callback_failed"
)
