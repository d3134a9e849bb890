package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dkroell/mazine/db"
	"github.com/dkroell/mazine/domain"
	"github.com/dkroell/mazine/util"
	"github.com/google/uuid"
)

// Outbox builds outgoing activities and fans them out through the
// delivery queue. Nothing here performs network I/O; the delivery
// worker owns that. Hooks (OnContentCreated etc.) are meant to be
// called after the local write has committed, so a crash between
// commit and enqueue loses at most one remote notification, never
// local state.
type Outbox struct {
	db   *db.DB
	conf *util.AppConfig
}

func NewOutbox(database *db.DB, conf *util.AppConfig) *Outbox {
	return &Outbox{db: database, conf: conf}
}

// BuildCreate wraps a content object in a Create addressed to the
// public and the author's followers. Entries carry the magazine in cc.
func BuildCreate(conf *util.AppConfig, author *domain.Actor, content *domain.Content, magazine *domain.Actor) map[string]interface{} {
	actorURI := LocalActorURI(conf, author)
	cc := []string{LocalFollowersURI(conf, author)}
	if magazine != nil {
		cc = append(cc, ProfileURI(conf, magazine))
	}
	return map[string]interface{}{
		"@context":  ActivityStreamsContext,
		"id":        NewActivityURI(conf),
		"type":      "Create",
		"actor":     actorURI,
		"published": content.CreatedAt.Format(time.RFC3339),
		"to":        []string{PublicAudience},
		"cc":        cc,
		"object":    buildObjectDoc(conf, author, content, cc),
	}
}

func BuildUpdate(conf *util.AppConfig, author *domain.Actor, content *domain.Content, magazine *domain.Actor) map[string]interface{} {
	actorURI := LocalActorURI(conf, author)
	cc := []string{LocalFollowersURI(conf, author)}
	if magazine != nil {
		cc = append(cc, ProfileURI(conf, magazine))
	}
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       NewActivityURI(conf),
		"type":     "Update",
		"actor":    actorURI,
		"to":       []string{PublicAudience},
		"cc":       cc,
		"object":   buildObjectDoc(conf, author, content, cc),
	}
}

// BuildDelete carries a Tombstone so receivers that never saw the
// object can still tell what kind of thing disappeared.
func BuildDelete(conf *util.AppConfig, author *domain.Actor, content *domain.Content) map[string]interface{} {
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       NewActivityURI(conf),
		"type":     "Delete",
		"actor":    LocalActorURI(conf, author),
		"to":       []string{PublicAudience},
		"object": map[string]interface{}{
			"id":         ObjectURI(conf, content),
			"type":       "Tombstone",
			"formerType": objectTypeFor(content.Kind),
		},
	}
}

func BuildLike(conf *util.AppConfig, actor *domain.Actor, objectURI string) map[string]interface{} {
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       NewActivityURI(conf),
		"type":     "Like",
		"actor":    LocalActorURI(conf, actor),
		"object":   objectURI,
	}
}

func BuildDislike(conf *util.AppConfig, actor *domain.Actor, objectURI string) map[string]interface{} {
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       NewActivityURI(conf),
		"type":     "Dislike",
		"actor":    LocalActorURI(conf, actor),
		"object":   objectURI,
	}
}

// BuildUndo wraps a previously sent activity. The inner document must
// carry enough shape for the receiver to find what to revert.
func BuildUndo(conf *util.AppConfig, actor *domain.Actor, inner map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       NewActivityURI(conf),
		"type":     "Undo",
		"actor":    LocalActorURI(conf, actor),
		"object":   inner,
	}
}

func BuildAnnounce(conf *util.AppConfig, actor *domain.Actor, object interface{}) map[string]interface{} {
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       NewActivityURI(conf),
		"type":     "Announce",
		"actor":    LocalActorURI(conf, actor),
		"to":       []string{PublicAudience},
		"cc":       []string{LocalFollowersURI(conf, actor)},
		"object":   object,
	}
}

func BuildFollow(conf *util.AppConfig, actor *domain.Actor, targetURI, followURI string) map[string]interface{} {
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       followURI,
		"type":     "Follow",
		"actor":    LocalActorURI(conf, actor),
		"object":   targetURI,
	}
}

func BuildAccept(conf *util.AppConfig, local *domain.Actor, follower *domain.Actor, followURI string) map[string]interface{} {
	actorURI := LocalActorURI(conf, local)
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       NewActivityURI(conf),
		"type":     "Accept",
		"actor":    actorURI,
		"object": map[string]interface{}{
			"id":     followURI,
			"type":   "Follow",
			"actor":  ProfileURI(conf, follower),
			"object": actorURI,
		},
	}
}

// BuildAdd targets a magazine collection: .../moderators for grants,
// .../pinned for pins.
func BuildAdd(conf *util.AppConfig, actor *domain.Actor, objectURI, targetURI string) map[string]interface{} {
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       NewActivityURI(conf),
		"type":     "Add",
		"actor":    LocalActorURI(conf, actor),
		"object":   objectURI,
		"target":   targetURI,
	}
}

func BuildRemove(conf *util.AppConfig, actor *domain.Actor, objectURI, targetURI string) map[string]interface{} {
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       NewActivityURI(conf),
		"type":     "Remove",
		"actor":    LocalActorURI(conf, actor),
		"object":   objectURI,
		"target":   targetURI,
	}
}

func BuildLock(conf *util.AppConfig, actor *domain.Actor, objectURI string) map[string]interface{} {
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       NewActivityURI(conf),
		"type":     "Lock",
		"actor":    LocalActorURI(conf, actor),
		"object":   objectURI,
	}
}

func BuildFlag(conf *util.AppConfig, actor *domain.Actor, objectURI, note string) map[string]interface{} {
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       NewActivityURI(conf),
		"type":     "Flag",
		"actor":    LocalActorURI(conf, actor),
		"object":   objectURI,
		"content":  note,
	}
}

func BuildBlock(conf *util.AppConfig, actor *domain.Actor, targetURI string) map[string]interface{} {
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       NewActivityURI(conf),
		"type":     "Block",
		"actor":    LocalActorURI(conf, actor),
		"object":   targetURI,
	}
}

func buildObjectDoc(conf *util.AppConfig, author *domain.Actor, content *domain.Content, cc []string) map[string]interface{} {
	doc := map[string]interface{}{
		"id":           ObjectURI(conf, content),
		"type":         objectTypeFor(content.Kind),
		"attributedTo": LocalActorURI(conf, author),
		"content":      content.Body,
		"published":    content.CreatedAt.Format(time.RFC3339),
		"to":           []string{PublicAudience},
		"cc":           cc,
	}
	if content.Title != "" {
		doc["name"] = content.Title
	}
	if content.URL != "" {
		doc["url"] = content.URL
	}
	if content.ParentURI != "" {
		doc["inReplyTo"] = content.ParentURI
	}
	return doc
}

func objectTypeFor(kind domain.ContentKind) string {
	switch kind {
	case domain.KindEntry:
		return "Page"
	default:
		return "Note"
	}
}

// deliverToFollowers queues one copy of the activity per distinct
// follower inbox. Shared inboxes collapse, so two followers on the
// same server cost one POST.
func (o *Outbox) deliverToFollowers(sender *domain.Actor, activity map[string]interface{}) error {
	err, followers := o.db.ReadFollowersOf(sender.Id)
	if err != nil {
		return fmt.Errorf("failed to read followers: %w", err)
	}
	if followers == nil || len(*followers) == 0 {
		return nil
	}

	payload := mustMarshal(activity)
	inboxes := make(map[string]bool)
	for _, follow := range *followers {
		err, follower := o.db.ReadActorById(follow.ActorId)
		if err != nil || follower == nil || !follower.IsRemote() {
			continue
		}
		inbox := follower.DeliveryInbox()
		if inbox == "" || inboxes[inbox] {
			continue
		}
		inboxes[inbox] = true
		o.enqueue(inbox, payload, sender)
	}
	log.Printf("Outbox: queued %s to %d inboxes for %s", activity["type"], len(inboxes), sender.Username)
	return nil
}

func (o *Outbox) enqueue(inboxURI, payload string, sender *domain.Actor) {
	item := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     inboxURI,
		ActivityJSON: payload,
		SenderId:     sender.Id,
		Attempts:     0,
		NextRetryAt:  time.Now(),
		CreatedAt:    time.Now(),
	}
	if err := o.db.EnqueueDelivery(item); err != nil {
		log.Printf("Outbox: failed to queue delivery to %s: %v", inboxURI, err)
	}
}

// SendAccept confirms a Follow directly to the follower's inbox.
func (o *Outbox) SendAccept(local *domain.Actor, follower *domain.Actor, followURI string) error {
	if !o.conf.Conf.WithAp {
		return nil
	}
	accept := BuildAccept(o.conf, local, follower, followURI)
	inbox := follower.DeliveryInbox()
	if inbox == "" {
		return fmt.Errorf("follower %s has no inbox", follower.Username)
	}
	o.enqueue(inbox, mustMarshal(accept), local)
	return nil
}

// SendFollow subscribes a local actor to a remote one. The follow row
// stays pending until the Accept comes back.
func (o *Outbox) SendFollow(local *domain.Actor, remote *domain.Actor) error {
	if !o.conf.Conf.WithAp {
		return nil
	}
	followURI := NewActivityURI(o.conf)
	follow := &domain.Follow{
		Id:        uuid.New(),
		ActorId:   local.Id,
		TargetId:  remote.Id,
		URI:       followURI,
		Accepted:  false,
		CreatedAt: time.Now(),
	}
	if err := o.db.CreateFollow(follow); err != nil {
		return fmt.Errorf("failed to store follow: %w", err)
	}
	activity := BuildFollow(o.conf, local, remote.ApProfileID, followURI)
	o.enqueue(remote.DeliveryInbox(), mustMarshal(activity), local)
	return nil
}

// SendUnfollow retracts a pending or accepted follow.
func (o *Outbox) SendUnfollow(local *domain.Actor, remote *domain.Actor) error {
	err, follow := o.db.ReadFollowByPair(local.Id, remote.Id)
	if err != nil || follow == nil {
		return nil
	}
	if o.conf.Conf.WithAp && remote.IsRemote() {
		undo := BuildUndo(o.conf, local, map[string]interface{}{
			"id":     follow.URI,
			"type":   "Follow",
			"actor":  LocalActorURI(o.conf, local),
			"object": remote.ApProfileID,
		})
		o.enqueue(remote.DeliveryInbox(), mustMarshal(undo), local)
	}
	return o.db.DeleteFollowByURI(follow.URI)
}

// SendBlock records the block and notifies the blocked actor's
// instance. The stored row is what later rejects their follows.
func (o *Outbox) SendBlock(local *domain.Actor, remote *domain.Actor) error {
	if err := o.db.CreateBlock(&domain.Block{
		Id:        uuid.New(),
		ActorId:   local.Id,
		TargetId:  remote.Id,
		CreatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to store block: %w", err)
	}
	if o.conf.Conf.WithAp && remote.IsRemote() {
		block := BuildBlock(o.conf, local, remote.ApProfileID)
		o.enqueue(remote.DeliveryInbox(), mustMarshal(block), local)
	}
	return nil
}

// AnnounceAsMagazine relays an activity to the magazine's followers
// under the magazine's own Group identity.
func (o *Outbox) AnnounceAsMagazine(magazine *domain.Actor, inner json.RawMessage) error {
	if !o.conf.Conf.WithAp {
		return nil
	}
	var obj interface{}
	if err := json.Unmarshal(inner, &obj); err != nil {
		return fmt.Errorf("failed to parse announced activity: %w", err)
	}
	announce := BuildAnnounce(o.conf, magazine, obj)
	return o.deliverToFollowers(magazine, announce)
}

// OnContentCreated fans out a Create after a local content write. When
// the content lives in a local magazine, the magazine additionally
// announces the Create to its own followers.
func (o *Outbox) OnContentCreated(author *domain.Actor, content *domain.Content) error {
	if !o.conf.Conf.WithAp {
		return nil
	}
	magazine := o.localMagazineOf(content)
	create := BuildCreate(o.conf, author, content, magazine)
	if err := o.deliverToFollowers(author, create); err != nil {
		return err
	}
	if magazine != nil {
		announce := BuildAnnounce(o.conf, magazine, create)
		if err := o.deliverToFollowers(magazine, announce); err != nil {
			return err
		}
	}
	return nil
}

func (o *Outbox) OnContentUpdated(author *domain.Actor, content *domain.Content) error {
	if !o.conf.Conf.WithAp {
		return nil
	}
	magazine := o.localMagazineOf(content)
	update := BuildUpdate(o.conf, author, content, magazine)
	if err := o.deliverToFollowers(author, update); err != nil {
		return err
	}
	if magazine != nil {
		return o.deliverToFollowers(magazine, BuildAnnounce(o.conf, magazine, update))
	}
	return nil
}

func (o *Outbox) OnContentDeleted(author *domain.Actor, content *domain.Content) error {
	if !o.conf.Conf.WithAp {
		return nil
	}
	del := BuildDelete(o.conf, author, content)
	if err := o.deliverToFollowers(author, del); err != nil {
		return err
	}
	if magazine := o.localMagazineOf(content); magazine != nil {
		return o.deliverToFollowers(magazine, BuildAnnounce(o.conf, magazine, del))
	}
	return nil
}

// OnVote sends the vote to the object's origin instance.
func (o *Outbox) OnVote(actor *domain.Actor, content *domain.Content, choice domain.VoteChoice) error {
	if !o.conf.Conf.WithAp || !content.IsRemote() {
		return nil
	}
	err, origin := o.db.ReadActorById(content.AuthorId)
	if err != nil || origin == nil || !origin.IsRemote() {
		return nil
	}
	var activity map[string]interface{}
	if choice == domain.VoteUp {
		activity = BuildLike(o.conf, actor, content.ApID)
	} else {
		activity = BuildDislike(o.conf, actor, content.ApID)
	}
	o.enqueue(origin.DeliveryInbox(), mustMarshal(activity), actor)
	return nil
}

// OnLockChanged fans a Lock (or its Undo) out to the magazine's
// followers under the actor that performed the moderation.
func (o *Outbox) OnLockChanged(moderator *domain.Actor, content *domain.Content, locked bool) error {
	if !o.conf.Conf.WithAp {
		return nil
	}
	objectURI := ObjectURI(o.conf, content)
	var activity map[string]interface{}
	if locked {
		activity = BuildLock(o.conf, moderator, objectURI)
	} else {
		activity = BuildUndo(o.conf, moderator, map[string]interface{}{
			"type":   "Lock",
			"actor":  LocalActorURI(o.conf, moderator),
			"object": objectURI,
		})
	}
	if magazine := o.localMagazineOf(content); magazine != nil {
		return o.deliverToFollowers(magazine, activity)
	}
	return o.deliverToFollowers(moderator, activity)
}

// OnCollectionChanged fans out an Add or Remove against a magazine
// collection (pins, moderator grants).
func (o *Outbox) OnCollectionChanged(actor *domain.Actor, magazine *domain.Actor, objectURI, collection string, add bool) error {
	if !o.conf.Conf.WithAp {
		return nil
	}
	targetURI := ProfileURI(o.conf, magazine) + "/" + collection
	var activity map[string]interface{}
	if add {
		activity = BuildAdd(o.conf, actor, objectURI, targetURI)
	} else {
		activity = BuildRemove(o.conf, actor, objectURI, targetURI)
	}
	return o.deliverToFollowers(magazine, activity)
}

// SendFlag reports an object to its origin instance only; reports are
// not broadcast.
func (o *Outbox) SendFlag(reporter *domain.Actor, content *domain.Content, note string) error {
	if !o.conf.Conf.WithAp || !content.IsRemote() {
		return nil
	}
	err, origin := o.db.ReadActorById(content.AuthorId)
	if err != nil || origin == nil || !origin.IsRemote() {
		return nil
	}
	flag := BuildFlag(o.conf, reporter, content.ApID, note)
	o.enqueue(origin.DeliveryInbox(), mustMarshal(flag), reporter)
	return nil
}

func (o *Outbox) localMagazineOf(content *domain.Content) *domain.Actor {
	if content.MagazineId == uuid.Nil {
		return nil
	}
	err, magazine := o.db.ReadActorById(content.MagazineId)
	if err != nil || magazine == nil || magazine.IsRemote() {
		return nil
	}
	return magazine
}

// mustMarshal marshals v to JSON, panicking on error
func mustMarshal(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal: %v", err))
	}
	return string(b)
}
