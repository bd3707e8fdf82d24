package pgmcp

import (
	"github.com/google/uuid"
)

type sessionState int

const (
	stateUninitialized sessionState = iota
	stateReady
)

func (s sessionState) String() string {
	if s == stateReady {
		return "ready"
	}
	return "uninitialized"
}

// Session is the protocol state of one transport connection. It is not safe
// for concurrent use; a transport delivers one message at a time per
// Session.
type Session struct {
	id     string
	policy Policy
	state  sessionState

	clientName    string
	clientVersion string
}

// NewSession returns an uninitialized session with the given write policy.
// The policy never changes for the life of the session.
func NewSession(policy Policy) *Session {
	return &Session{
		id:     uuid.NewString(),
		policy: policy,
		state:  stateUninitialized,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Policy returns the session's write policy.
func (s *Session) Policy() Policy { return s.policy }

// Initialized reports whether the initialize handshake has completed.
func (s *Session) Initialized() bool { return s.state == stateReady }

// Client returns the client name and version sent with initialize.
func (s *Session) Client() (name, version string) {
	return s.clientName, s.clientVersion
}
