package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActorType discriminates people from magazines (ActivityPub Groups).
type ActorType string

const (
	ActorPerson ActorType = "Person"
	ActorGroup  ActorType = "Group"
)

// Actor is a federated identity, local or remote. A local actor
// (ApID == "") owns its key pair; for remote actors only the cached
// verification key is stored, never a private key.
type Actor struct {
	Id       uuid.UUID
	Username string
	Domain   string
	Type     ActorType
	Summary  string

	// Local key material. OldPrivateKeyPem holds the previous key for a
	// short window after rotation so in-flight deliveries can be
	// re-signed.
	PublicKeyPem     string
	PrivateKeyPem    string
	OldPrivateKeyPem string

	// Remote (ap*) fields, empty/nil for local actors.
	ApID             string
	ApProfileID      string
	ApInboxURL       string
	ApSharedInboxURL string
	ApFollowersURL   string
	ApPublicKeyPem   string
	ApFetchedAt      *time.Time
	ApTimeoutAt      *time.Time
	ApDeletedAt      *time.Time

	CreatedAt time.Time
}

// IsRemote reports whether the actor is authoritative on another
// instance.
func (a *Actor) IsRemote() bool {
	return a.ApID != ""
}

// DeliveryInbox prefers the shared inbox when the remote instance
// advertises one.
func (a *Actor) DeliveryInbox() string {
	if a.ApSharedInboxURL != "" {
		return a.ApSharedInboxURL
	}
	return a.ApInboxURL
}

// Moderator grants an actor moderation authority over a magazine.
type Moderator struct {
	Id         uuid.UUID
	MagazineId uuid.UUID
	ActorId    uuid.UUID
	CreatedAt  time.Time
}

// Report is a Flag activity persisted for moderator review.
type Report struct {
	Id        uuid.UUID
	ActorURI  string
	ObjectURI string
	Content   string
	CreatedAt time.Time
}

// Block is an actor-level mute of another actor.
type Block struct {
	Id        uuid.UUID
	ActorId   uuid.UUID
	TargetId  uuid.UUID
	CreatedAt time.Time
}
