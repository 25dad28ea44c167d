package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a message or stored value does not exist
var ErrNotFound = errors.New("not found")

// Store is the opaque key-value persistence collaborator.
// Values are whole JSON documents; there are no cross-key transactions.
type Store interface {
	// Get returns the raw value for key; ok is false when the key is absent
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set replaces the value for key
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key; removing an absent key is not an error
	Remove(ctx context.Context, key string) error
}

// Completer sends a rendered prompt to a language model and returns its raw text output
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// MailStore is the mutable message store the rule engine acts upon
type MailStore interface {
	GetFull(ctx context.Context, id MessageID) (*Message, error)
	GetHeader(ctx context.Context, id MessageID) (*MessageHeader, error)
	Update(ctx context.Context, id MessageID, update MessageUpdate) error
	Move(ctx context.Context, id MessageID, folder string) error
	Copy(ctx context.Context, id MessageID, folder string) error
	Delete(ctx context.Context, id MessageID) error
	Archive(ctx context.Context, id MessageID) error
	Forward(ctx context.Context, id MessageID, address string) error
	Reply(ctx context.Context, id MessageID, replyType ReplyType) error
	List(ctx context.Context, folder string, cursor string) (*MessagePage, error)
}

// Deliverer is implemented by mail stores that accept newly received raw messages
type Deliverer interface {
	Deliver(ctx context.Context, raw []byte, folder string) (MessageID, error)
}

// Mailer sends composed RFC 822 messages
type Mailer interface {
	Send(ctx context.Context, from string, to []string, data []byte) error
}

// StatusError reports a non-2xx response from an HTTP collaborator
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s", e.Status)
}
