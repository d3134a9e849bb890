package activitypub

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/dkroell/mazine/db"
	"github.com/dkroell/mazine/domain"
	"github.com/dkroell/mazine/util"
	"github.com/google/uuid"
)

// Outcome is the terminal state of one inbox message.
type Outcome int

const (
	// OutcomeHandled: the activity was applied (or was a known
	// duplicate).
	OutcomeHandled Outcome = iota
	// OutcomeForwarded: the activity came through a forwarding inbox;
	// the embedded object was discarded and a canonical fetch queued.
	OutcomeForwarded
	// OutcomeRejected: protocol or authorization violation; dropped,
	// never retried.
	OutcomeRejected
	// OutcomeDeferred: transient failure; the message should be
	// requeued with backoff.
	OutcomeDeferred
)

type handlerFunc func(act *Activity, sender *domain.Actor) error

// Dispatcher routes validated incoming activities to per-type
// handlers. Every handler invocation is idempotent: the at-least-once
// queue may replay any message.
type Dispatcher struct {
	db       *db.DB
	conf     *util.AppConfig
	resolver *Resolver
	outbox   *Outbox
	handlers map[string]handlerFunc
}

func NewDispatcher(database *db.DB, conf *util.AppConfig, resolver *Resolver, outbox *Outbox) *Dispatcher {
	d := &Dispatcher{
		db:       database,
		conf:     conf,
		resolver: resolver,
		outbox:   outbox,
	}
	d.handlers = map[string]handlerFunc{
		"Create":   d.handleCreate,
		"Update":   d.handleUpdate,
		"Delete":   d.handleDelete,
		"Like":     d.handleLike,
		"Dislike":  d.handleDislike,
		"Announce": d.handleAnnounce,
		"Follow":   d.handleFollow,
		"Accept":   d.handleAccept,
		"Undo":     d.handleUndo,
		"Add":      d.handleAdd,
		"Remove":   d.handleRemove,
		"Block":    d.handleBlock,
		"Flag":     d.handleFlag,
		"Lock":     d.handleLock,
	}
	return d
}

// Dispatch classifies and applies one previously signature-verified
// activity. sourceHost is the host that delivered the message.
func (d *Dispatcher) Dispatch(body []byte, sourceHost string) (Outcome, error) {
	act, err := ParseActivity(body)
	if err != nil {
		log.Printf("Inbox: rejecting malformed payload from %s: %v", sourceHost, err)
		return OutcomeRejected, err
	}

	// Duplicate deliveries of the same activity collapse here.
	if err, seen := d.db.HasSeenActivity(act.ID); err == nil && seen {
		log.Printf("Inbox: activity %s already processed, skipping", act.ID)
		return OutcomeHandled, nil
	}

	if fwd := d.detectForwarding(act, sourceHost); fwd != nil {
		log.Printf("Inbox: %v", fwd)
		// Do not materialize anything from the relayed payload; fetch
		// the object from its real origin instead.
		d.queueCanonicalFetch(act, fwd.RealOrigin)
		return OutcomeForwarded, fwd
	}

	sender, err := d.resolver.Resolve(act.Actor)
	if err != nil {
		if errors.Is(err, ErrRetryLater) {
			return OutcomeDeferred, err
		}
		log.Printf("Inbox: rejecting %s from unresolvable actor %s: %v", act.Type, act.Actor, err)
		return OutcomeRejected, err
	}

	handler, ok := d.handlers[act.Type]
	if !ok {
		log.Printf("Inbox: unsupported activity type %s from %s, dropping", act.Type, act.Actor)
		return OutcomeRejected, nil
	}

	if err := handler(act, sender); err != nil {
		if errors.Is(err, ErrRetryLater) {
			return OutcomeDeferred, err
		}
		if errors.Is(err, ErrNotAuthorized) {
			log.Printf("Inbox: dropping unauthorized %s from %s", act.Type, act.Actor)
			return OutcomeRejected, nil
		}
		log.Printf("Inbox: failed to handle %s from %s: %v", act.Type, act.Actor, err)
		return OutcomeRejected, err
	}

	d.db.RecordSeenActivity(&domain.SeenActivity{
		Id:        uuid.New(),
		URI:       act.ID,
		Type:      act.Type,
		ActorURI:  act.Actor,
		ObjectURI: act.ObjectURI(),
		CreatedAt: time.Now(),
	})
	return OutcomeHandled, nil
}

// detectForwarding flags activities relayed through a third-party
// inbox: the activity's actor lives on a different host than the one
// that signed the delivery. The relayed copy of the object cannot be
// trusted no matter whom the activity is addressed to; servers that
// relay on behalf of members wrap the activity in an Announce under
// their own identity instead.
func (d *Dispatcher) detectForwarding(act *Activity, sourceHost string) *InboxForwardingError {
	if sourceHost == "" {
		return nil
	}
	actorHost, err := util.ExtractDomain(act.Actor)
	if err != nil || actorHost == sourceHost {
		return nil
	}
	return &InboxForwardingError{ReceivedFrom: sourceHost, RealOrigin: actorHost}
}

// queueCanonicalFetch enqueues a resolution of the activity's object
// from its real origin. The fetched document will arrive as a fresh
// inbox item attributed to the origin host.
func (d *Dispatcher) queueCanonicalFetch(act *Activity, realOrigin string) {
	objectURI := act.ObjectURI()
	if objectURI == "" {
		return
	}
	objectHost, err := util.ExtractDomain(objectURI)
	if err != nil || !strings.EqualFold(objectHost, realOrigin) {
		// The object does not even live at the actor's origin; nothing
		// trustworthy to fetch.
		return
	}
	if _, err := d.resolveObjectByURI(objectURI, 0); err != nil {
		log.Printf("Inbox: canonical fetch of %s failed: %v", objectURI, err)
	}
}
