package dialogue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Timeout describes a countdown attached to a state. OnTick receives the time
// left rounded to the tick; OnExpire runs once the state is forced back to idle.
type Timeout struct {
	Window   time.Duration
	Tick     time.Duration
	OnTick   func(left time.Duration)
	OnExpire func()
}

type enterOptions struct {
	timeout        *Timeout
	subscribedOnly bool
}

type Option func(*enterOptions)

func WithTimeout(t Timeout) Option {
	return func(o *enterOptions) { o.timeout = &t }
}

// WithSubscribedOnly narrows a pending broadcast to subscribers.
func WithSubscribedOnly(v bool) Option {
	return func(o *enterOptions) { o.subscribedOnly = v }
}

type timer struct {
	token  string
	cancel context.CancelFunc
}

// Machine is the per-user state machine. Entering a mode replaces whatever
// was pending before, including its countdown.
type Machine struct {
	store Store
	log   *slog.Logger

	mu     sync.Mutex
	timers map[int64]timer
}

func NewMachine(store Store, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{store: store, log: log, timers: make(map[int64]timer)}
}

func (m *Machine) Enter(ctx context.Context, userID int64, mode Mode, opts ...Option) (State, error) {
	var o enterOptions
	for _, opt := range opts {
		opt(&o)
	}

	m.stopTimer(userID, "")
	if mode == Idle || mode == "" {
		return State{Mode: Idle}, m.store.Delete(ctx, userID)
	}

	st := State{Mode: mode, Token: uuid.NewString(), SubscribedOnly: o.subscribedOnly}
	if err := m.store.Set(ctx, userID, st); err != nil {
		return State{}, err
	}
	if o.timeout != nil && o.timeout.Window > 0 {
		m.startTimer(userID, st.Token, *o.timeout)
	}
	return st, nil
}

// Current returns the pending state, or an idle state when nothing is pending.
func (m *Machine) Current(ctx context.Context, userID int64) (State, error) {
	st, ok, err := m.store.Get(ctx, userID)
	if err != nil {
		return State{Mode: Idle}, err
	}
	if !ok {
		return State{Mode: Idle}, nil
	}
	return st, nil
}

// Consume clears the state only when it is in mode, and reports whether this
// call did the clearing.
func (m *Machine) Consume(ctx context.Context, userID int64, mode Mode) (State, bool, error) {
	st, ok, err := m.store.Get(ctx, userID)
	if err != nil || !ok || st.Mode != mode {
		return State{Mode: Idle}, false, err
	}
	deleted, err := m.store.DeleteIfToken(ctx, userID, st.Token)
	if err != nil || !deleted {
		return State{Mode: Idle}, false, err
	}
	m.stopTimer(userID, st.Token)
	return st, true, nil
}

// Cancel clears any pending state and returns the mode it replaced.
func (m *Machine) Cancel(ctx context.Context, userID int64) (Mode, error) {
	m.stopTimer(userID, "")
	st, ok, err := m.store.Get(ctx, userID)
	if err != nil {
		return Idle, err
	}
	if err := m.store.Delete(ctx, userID); err != nil {
		return Idle, err
	}
	if !ok {
		return Idle, nil
	}
	return st.Mode, nil
}

// Close stops every running countdown.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.cancel()
		delete(m.timers, id)
	}
}

func (m *Machine) startTimer(userID int64, token string, t Timeout) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if prev, ok := m.timers[userID]; ok {
		prev.cancel()
	}
	m.timers[userID] = timer{token: token, cancel: cancel}
	m.mu.Unlock()

	go m.countdown(ctx, userID, token, t)
}

// stopTimer cancels the user's countdown; a non-empty token limits it to that state.
func (m *Machine) stopTimer(userID int64, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[userID]
	if !ok || (token != "" && t.token != token) {
		return
	}
	t.cancel()
	delete(m.timers, userID)
}

func (m *Machine) countdown(ctx context.Context, userID int64, token string, t Timeout) {
	defer m.stopTimer(userID, token)

	tick := t.Tick
	if tick <= 0 || tick > t.Window {
		tick = t.Window
	}
	deadline := time.Now().Add(t.Window)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	expire := time.NewTimer(t.Window)
	defer expire.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			left := time.Until(deadline).Round(tick)
			if left <= 0 || t.OnTick == nil {
				continue
			}
			if !m.holds(ctx, userID, token) {
				return
			}
			t.OnTick(left)
		case <-expire.C:
			if ctx.Err() != nil {
				return
			}
			deleted, err := m.store.DeleteIfToken(context.Background(), userID, token)
			if err != nil {
				m.log.Error("expire dialogue state", "user_id", userID, "err", err)
				return
			}
			if deleted && t.OnExpire != nil {
				t.OnExpire()
			}
			return
		}
	}
}

func (m *Machine) holds(ctx context.Context, userID int64, token string) bool {
	st, ok, err := m.store.Get(ctx, userID)
	if err != nil {
		m.log.Warn("read dialogue state", "user_id", userID, "err", err)
		return false
	}
	return ok && st.Token == token
}
