package domain

import (
	"time"

	"github.com/google/uuid"
)

// Follow represents a follow/subscription relationship. For magazine
// subscriptions the target is the magazine's Group actor.
type Follow struct {
	Id        uuid.UUID
	ActorId   uuid.UUID // the follower
	TargetId  uuid.UUID // the actor being followed
	URI       string    // Follow activity URI, empty for local-only follows
	Accepted  bool
	CreatedAt time.Time
}

// SeenActivity is the idempotency log: one row per processed activity
// URI.
type SeenActivity struct {
	Id        uuid.UUID
	URI       string
	Type      string
	ActorURI  string
	ObjectURI string
	CreatedAt time.Time
}

// DeliveryQueueItem is one pending signed POST to a remote inbox.
// SenderId names the local actor whose key signs the request.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActivityJSON string
	SenderId     uuid.UUID
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

// InboxQueueItem is one raw, unvalidated incoming POST. The HTTP layer
// only ever enqueues these; all semantic processing happens in the
// inbox worker.
type InboxQueueItem struct {
	Id          uuid.UUID
	Body        string
	SourceHost  string
	Path        string
	Signature   string
	Digest      string
	Date        string
	Attempts    int
	NextRetryAt time.Time
	CreatedAt   time.Time
}

// DeadLetter is a delivery or inbox message that failed permanently or
// exhausted its retries. Kept for operational inspection only.
type DeadLetter struct {
	Id        uuid.UUID
	Queue     string // "delivery" or "inbox"
	Payload   string
	Reason    string
	CreatedAt time.Time
}
