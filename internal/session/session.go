// Package session tracks one messaging account per tenant: its transport,
// its job manager and its authentication lifecycle.
package session

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"schedbot/internal/jobs"
	"schedbot/internal/transport"
)

var (
	ErrAlreadyExists = errors.New("session already exists")
	ErrInvalidTenant = errors.New("invalid tenant name")
)

var tenantRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidTenant reports whether name can identify a session.
func ValidTenant(name string) bool { return tenantRe.MatchString(name) && name != "." && name != ".." }

type State string

const (
	StateCreated        State = "created"
	StateAuthenticating State = "authenticating"
	StateReady          State = "ready"
	StateAuthFailed     State = "auth_failed"
	StateDestroyed      State = "destroyed"
)

// MessageHandler consumes inbound chat messages of a ready session.
type MessageHandler interface {
	Handle(ctx context.Context, msg *transport.Message)
}

type MessageHandlerFunc func(ctx context.Context, msg *transport.Message)

func (f MessageHandlerFunc) Handle(ctx context.Context, msg *transport.Message) { f(ctx, msg) }

// HandlerFactory builds the message handler once a session becomes ready.
type HandlerFactory func(s *Session) MessageHandler

type Session struct {
	tenant    string
	client    transport.Client
	mgr       *jobs.Manager
	createdAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	state   State
	handler MessageHandler
	qr      string
	reason  string
	readyAt time.Time
	seeded  bool
}

func (s *Session) Tenant() string           { return s.tenant }
func (s *Session) Jobs() *jobs.Manager      { return s.mgr }
func (s *Session) Client() transport.Client { return s.client }
func (s *Session) CreatedAt() time.Time     { return s.createdAt }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsReady() bool { return s.State() == StateReady }

// Terminal reports whether st is final; no event moves a session out of it.
func (st State) Terminal() bool { return st == StateAuthFailed || st == StateDestroyed }

// setState reports false when the session already sits in a terminal state.
func (s *Session) setState(st State, reason string) bool {
	s.mu.Lock()
	if s.state.Terminal() && st != StateDestroyed {
		s.mu.Unlock()
		return false
	}
	s.state = st
	s.reason = reason
	if st == StateReady {
		s.readyAt = time.Now()
		s.qr = ""
	}
	s.mu.Unlock()
	return true
}

// Info is the JSON view of a session.
type Info struct {
	Tenant    string       `json:"tenant"`
	State     State        `json:"state"`
	Ready     bool         `json:"ready"`
	CreatedAt time.Time    `json:"created_at"`
	ReadyAt   *time.Time   `json:"ready_at,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	QR        string       `json:"qr,omitempty"`
	Jobs      jobs.Summary `json:"jobs"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		Tenant:    s.tenant,
		State:     s.state,
		Ready:     s.state == StateReady,
		CreatedAt: s.createdAt,
		Reason:    s.reason,
	}
	if s.state == StateAuthenticating {
		info.QR = s.qr
	}
	if !s.readyAt.IsZero() {
		at := s.readyAt
		info.ReadyAt = &at
	}
	s.mu.Unlock()
	info.Jobs = s.mgr.Summary()
	return info
}
