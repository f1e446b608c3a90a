package bot

import (
	"context"
	"log/slog"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/vidbot/internal/bot/handlers"
	"github.com/Proton-105/vidbot/internal/state"
)

// Dispatcher resolves free text to the handler of the sender's purchase step.
type Dispatcher struct {
	fsm           state.StateMachine
	stateHandlers map[state.State]handlers.Handler
	log           *slog.Logger
	mu            sync.RWMutex
}

// NewDispatcher creates a Dispatcher with an empty handlers registry.
func NewDispatcher(fsm state.StateMachine, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		fsm:           fsm,
		stateHandlers: make(map[state.State]handlers.Handler),
		log:           log,
	}
}

// RegisterStateHandler registers a handler for the provided state.
func (d *Dispatcher) RegisterStateHandler(s state.State, h handlers.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateHandlers[s] = h
}

// Resolve returns the handler for the sender's current state, or nil when the state
// has none.
func (d *Dispatcher) Resolve(c telebot.Context) (handlers.Handler, error) {
	if c == nil || c.Sender() == nil || d.fsm == nil {
		return nil, nil
	}

	userState, err := d.fsm.GetState(context.Background(), c.Sender().ID)
	if err != nil {
		return nil, err
	}

	handler := d.getHandler(userState.CurrentState)
	if handler == nil && userState.CurrentState != state.StateIdle {
		d.log.Debug("no handler registered for state",
			slog.String("state", string(userState.CurrentState)),
			slog.Int64("user_id", c.Sender().ID),
		)
	}
	return handler, nil
}

func (d *Dispatcher) getHandler(s state.State) handlers.Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stateHandlers[s]
}
