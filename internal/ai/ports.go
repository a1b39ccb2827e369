package ai

import (
	"context"
	"errors"
	"fmt"
)

// Agent answers one user question. It knows nothing about the queue or Telegram.
type Agent interface {
	Respond(ctx context.Context, req Request) (string, error)
}

// Message is one turn of dialogue passed to the model.
type Message struct {
	Role string // "user" | "assistant" | "system"
	Text string
}

// Profile is what the model is told about the person asking.
type Profile struct {
	FirstName  string
	BirthDate  string
	BirthTime  string
	BirthPlace string
}

type Request struct {
	UserText string
	History  []Message
	Memories []string
	Profile  Profile
}

type ErrorKind int

const (
	Transient ErrorKind = iota + 1
	Permanent
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// InferenceError is the only error type Respond returns.
type InferenceError struct {
	Kind ErrorKind
	Err  error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Kind, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie.Kind == Transient
	}
	return false
}
