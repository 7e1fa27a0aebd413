package realtime

import (
	"context"
	"errors"
	"sync"

	"commi8/internal/models"
	"commi8/internal/utils"

	"golang.org/x/time/rate"
)

var ErrSessionClosed = errors.New("session closed")

// Transport is the write side of a live connection. Send must enqueue
// without blocking and preserve order.
type Transport interface {
	Send(frame []byte) error
	Close() error
}

type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one live connection. A user may hold several at once.
type Session struct {
	id        string
	transport Transport

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	user    models.User
	servers []string

	limiter *rate.Limiter
}

func NewSession(parent context.Context, transport Transport) *Session {
	id, err := utils.RandomID(16)
	if err != nil {
		id = "session"
	}

	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:        id,
		transport: transport,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateConnecting,
	}
}

func (s *Session) ID() string { return s.id }

// Context is canceled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) User() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) Deliver(frame []byte) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	return s.transport.Send(frame)
}

// Emit sends an event to this session only.
func (s *Session) Emit(event string, data any) error {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	return s.Deliver(frame)
}

// authenticate moves Connecting to Authenticated.
func (s *Session) authenticate(user models.User, limiter *rate.Limiter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		return false
	}
	s.state = StateAuthenticated
	s.user = user
	s.limiter = limiter
	return true
}

func (s *Session) setServers(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers = ids
}

func (s *Session) addServer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, known := range s.servers {
		if known == id {
			return
		}
	}
	s.servers = append(s.servers, id)
}

func (s *Session) knownServers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.servers...)
}

// close moves the session to Closed and returns the state it left.
// Only the first call has any effect.
func (s *Session) close() State {
	s.mu.Lock()
	prev := s.state
	s.state = StateClosed
	s.mu.Unlock()

	if prev != StateClosed {
		s.cancel()
		s.transport.Close()
	}
	return prev
}

func (s *Session) allow() bool {
	s.mu.Lock()
	limiter := s.limiter
	s.mu.Unlock()
	return limiter == nil || limiter.Allow()
}
