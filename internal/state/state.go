// Package state keeps the per-user purchase conversation in Redis.
package state

import "time"

// State represents a step of the purchase conversation.
type State string

const (
	// StateIdle means no purchase is in progress.
	StateIdle State = "idle"
	// StateChoosingMethod means a plan was picked and the user must choose a rail.
	StateChoosingMethod State = "choosing_method"
	// StateAwaitingPhone means the bot waits for the phone the payment will come from.
	StateAwaitingPhone State = "awaiting_phone"
	// StateError indicates that the conversation must be restarted.
	StateError State = "error"
)

// Context keys stored alongside a state.
const (
	KeyPlan   = "plan"
	KeyMethod = "method"
)

// UserState captures the current conversation step for a Telegram user.
type UserState struct {
	UserID       int64                  `json:"user_id"`
	CurrentState State                  `json:"current_state"`
	Context      map[string]interface{} `json:"context"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// String returns the context value stored under key, or "".
func (s *UserState) String(key string) string {
	if s == nil || s.Context == nil {
		return ""
	}
	v, _ := s.Context[key].(string)
	return v
}
