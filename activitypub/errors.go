package activitypub

import (
	"errors"
	"fmt"
)

// ErrRetryLater marks transient failures: the message should be
// requeued with backoff, never surfaced as a protocol error.
var ErrRetryLater = errors.New("retry later")

// ErrResolutionDeferred is returned when an actor cannot be resolved
// right now and no usable cached copy exists.
var ErrResolutionDeferred = fmt.Errorf("actor resolution deferred: %w", ErrRetryLater)

// ErrNotAuthorized marks moderation activities from actors without the
// required authority. These are dropped silently.
var ErrNotAuthorized = errors.New("actor not authorized")

// InvalidActorError means a remote actor document is malformed or is
// missing its public key.
type InvalidActorError struct {
	URI    string
	Reason string
}

func (e *InvalidActorError) Error() string {
	return fmt.Sprintf("invalid actor document %s: %s", e.URI, e.Reason)
}

// InboxForwardingError is raised when an activity arrives through an
// inbox that is neither its origin nor its addressee: the embedded
// object must not be trusted, only a canonical fetch from the real
// origin counts.
type InboxForwardingError struct {
	ReceivedFrom string
	RealOrigin   string
}

func (e *InboxForwardingError) Error() string {
	return fmt.Sprintf("inbox forwarding detected: received from %s, real origin %s", e.ReceivedFrom, e.RealOrigin)
}
