package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dkroell/mazine/domain"
	"github.com/dkroell/mazine/util"
	"github.com/google/uuid"
)

// handleCreate materializes a remote content object. Matching by ApID
// before insert makes duplicate deliveries a no-op.
func (d *Dispatcher) handleCreate(act *Activity, sender *domain.Actor) error {
	doc, err := ParseObjectDoc(act.Object)
	if err != nil {
		return err
	}
	if doc.Type == "" {
		// A bare URI Create: fetch the canonical object instead.
		_, err := d.resolveObjectByURI(doc.ID, 0)
		return err
	}
	if doc.AttributedTo != "" && doc.AttributedTo != act.Actor {
		return fmt.Errorf("object %s not attributed to activity actor %s", doc.ID, act.Actor)
	}

	if err, existing := d.db.ReadContentByApId(doc.ID); err == nil && existing != nil {
		log.Printf("Inbox: object %s already exists, skipping", doc.ID)
		return nil
	}

	_, err = d.materializeObject(doc, sender, 0)
	return err
}

// materializeObject inserts a remote object, resolving its parent
// first when it is a reply. depth counts parent hops already taken.
func (d *Dispatcher) materializeObject(doc *ObjectDoc, author *domain.Actor, depth int) (*domain.Content, error) {
	kind := domain.KindPost
	var magazineId uuid.UUID
	var parent *domain.Content

	if doc.InReplyTo != "" {
		var err error
		parent, err = d.resolveObjectByURI(doc.InReplyTo, depth+1)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve parent %s: %w", doc.InReplyTo, err)
		}
		kind = commentKindFor(parent.Kind)
		magazineId = parent.MagazineId
	} else {
		switch doc.Type {
		case "Page", "Article":
			kind = domain.KindEntry
		default:
			kind = domain.KindPost
		}
		if mag := d.magazineFromAudience(doc.Audience()); mag != nil {
			magazineId = mag.Id
			if kind == domain.KindPost {
				kind = domain.KindEntry
			}
		}
	}

	created := time.Now()
	if doc.Published != "" {
		if t, err := time.Parse(time.RFC3339, doc.Published); err == nil {
			created = t
		}
	}

	content := &domain.Content{
		Id:             uuid.New(),
		Kind:           kind,
		AuthorId:       author.Id,
		MagazineId:     magazineId,
		Title:          doc.Name,
		URL:            doc.URL,
		Body:           doc.Content,
		ApID:           doc.ID,
		ParentURI:      doc.InReplyTo,
		ApLikeCount:    doc.Likes.N,
		ApDislikeCount: doc.Dislikes.N,
		ApShareCount:   doc.Shares.N,
		CreatedAt:      created,
	}
	if err := d.db.CreateContent(content); err != nil {
		// Unique index on ap_id: a concurrent worker won the insert.
		if err2, existing := d.db.ReadContentByApId(doc.ID); err2 == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to store object %s: %w", doc.ID, err)
	}
	return content, nil
}

func commentKindFor(parentKind domain.ContentKind) domain.ContentKind {
	switch parentKind {
	case domain.KindEntry, domain.KindEntryComment:
		return domain.KindEntryComment
	default:
		return domain.KindPostComment
	}
}

// magazineFromAudience finds a Group actor addressed in to/cc.
func (d *Dispatcher) magazineFromAudience(audience []string) *domain.Actor {
	for _, aud := range audience {
		if aud == PublicAudience {
			continue
		}
		if err, actor := d.db.ReadActorByProfileId(aud); err == nil && actor != nil && actor.Type == domain.ActorGroup {
			return actor
		}
		if name, ok := localMagazineName(d.conf, aud); ok {
			if err, actor := d.db.ReadLocalMagazine(name); err == nil && actor != nil {
				return actor
			}
		}
	}
	return nil
}

func (d *Dispatcher) handleUpdate(act *Activity, sender *domain.Actor) error {
	doc, err := ParseObjectDoc(act.Object)
	if err != nil {
		return err
	}

	var docType struct {
		Type string `json:"type"`
	}
	json.Unmarshal(act.Object, &docType)

	switch docType.Type {
	case "Person", "Group", "Service":
		// Profile update: re-fetch the authoritative document rather
		// than trusting the embedded copy.
		if _, err := d.resolver.Refresh(act.Actor); err != nil {
			return fmt.Errorf("failed to refresh actor %s: %w", act.Actor, err)
		}
		return nil
	}

	content := d.contentByURI(doc.ID)
	if content == nil {
		log.Printf("Inbox: object %s not found for update, ignoring", doc.ID)
		return nil
	}

	if err := d.requireEditAuthority(sender, content); err != nil {
		return err
	}

	now := time.Now()
	content.Title = doc.Name
	content.URL = doc.URL
	content.Body = doc.Content
	content.EditedAt = &now
	if err := d.db.UpdateContentBody(content); err != nil {
		return fmt.Errorf("failed to update object %s: %w", doc.ID, err)
	}

	// Remote counter mirrors, when the origin reports them.
	if content.IsRemote() && (doc.Likes.N != nil || doc.Dislikes.N != nil || doc.Shares.N != nil) {
		content.ApLikeCount = doc.Likes.N
		content.ApDislikeCount = doc.Dislikes.N
		content.ApShareCount = doc.Shares.N
		if err := d.db.UpdateContentCounters(content); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) handleDelete(act *Activity, sender *domain.Actor) error {
	objectURI := act.ObjectURI()
	if objectURI == "" {
		return fmt.Errorf("delete activity has no object")
	}

	if objectURI == act.Actor {
		// Actor self-deletion: soft-mark and drop follows in one
		// transaction. Re-processing is a no-op because the row stays.
		log.Printf("Inbox: actor %s deleted their account", act.Actor)
		return d.db.DeleteActorAccount(sender.Id)
	}

	content := d.contentByURI(objectURI)
	if content == nil || content.DeletedAt != nil {
		// Delete-before-Create ordering or a replay; both tolerated.
		log.Printf("Inbox: object %s not found or already deleted, ignoring", objectURI)
		return nil
	}

	if err := d.requireEditAuthority(sender, content); err != nil {
		return err
	}
	return d.db.MarkContentDeleted(content.Id)
}

func (d *Dispatcher) handleLike(act *Activity, sender *domain.Actor) error {
	return d.applyVote(act, sender, domain.VoteUp)
}

func (d *Dispatcher) handleDislike(act *Activity, sender *domain.Actor) error {
	return d.applyVote(act, sender, domain.VoteDown)
}

// applyVote upserts keyed on (actor, object): duplicate Likes collapse
// and a Dislike replaces a Like.
func (d *Dispatcher) applyVote(act *Activity, sender *domain.Actor, choice domain.VoteChoice) error {
	objectURI := act.ObjectURI()
	if objectURI == "" {
		return fmt.Errorf("%s activity has no object", act.Type)
	}

	content, err := d.resolveObjectByURI(objectURI, 0)
	if err != nil {
		return err
	}

	// The same vote replayed under a fresh activity id changes nothing;
	// skip the write and the recount.
	if err, existing := d.db.ReadVote(sender.Id, content.Id); err == nil && existing != nil && existing.Choice == choice {
		return nil
	}

	return d.db.UpsertVote(&domain.Vote{
		Id:        uuid.New(),
		ActorId:   sender.Id,
		ContentId: content.Id,
		Choice:    choice,
		CreatedAt: time.Now(),
	})
}

func (d *Dispatcher) handleAnnounce(act *Activity, sender *domain.Actor) error {
	// A wrapped activity (group servers announce member Creates this
	// way): apply the inner activity with its own actor.
	if inner := act.EmbeddedActivity(); inner != nil {
		return d.dispatchInner(inner, 1)
	}

	objectURI := act.ObjectURI()
	if objectURI == "" {
		return fmt.Errorf("announce activity has no object")
	}
	content, err := d.resolveObjectByURI(objectURI, 0)
	if err != nil {
		return err
	}
	return d.db.IncrementContentShares(content.Id, 1)
}

// dispatchInner applies a chained activity. Depth is bounded: an
// Announce wrapping an Announce wrapping a Create is as far as it goes.
func (d *Dispatcher) dispatchInner(inner *Activity, depth int) error {
	if depth > 2 {
		return fmt.Errorf("activity nesting too deep: %w", ErrRetryLater)
	}
	if inner.ID != "" {
		if err, seen := d.db.HasSeenActivity(inner.ID); err == nil && seen {
			return nil
		}
	}

	sender, err := d.resolver.Resolve(inner.Actor)
	if err != nil {
		return err
	}

	if inner.Type == "Announce" {
		if next := inner.EmbeddedActivity(); next != nil {
			return d.dispatchInner(next, depth+1)
		}
	}

	handler, ok := d.handlers[inner.Type]
	if !ok {
		log.Printf("Inbox: unsupported wrapped activity type %s, dropping", inner.Type)
		return nil
	}
	if err := handler(inner, sender); err != nil {
		return err
	}
	if inner.ID != "" {
		d.db.RecordSeenActivity(&domain.SeenActivity{
			Id:        uuid.New(),
			URI:       inner.ID,
			Type:      inner.Type,
			ActorURI:  inner.Actor,
			ObjectURI: inner.ObjectURI(),
			CreatedAt: time.Now(),
		})
	}
	return nil
}

func (d *Dispatcher) handleFollow(act *Activity, sender *domain.Actor) error {
	targetURI := act.ObjectURI()
	target := d.localActorByURI(targetURI)
	if target == nil {
		return fmt.Errorf("follow target %s is not a local actor", targetURI)
	}

	if err, blocked := d.db.IsBlocked(target.Id, sender.Id); err == nil && blocked {
		return ErrNotAuthorized
	}

	if err, existing := d.db.ReadFollowByPair(sender.Id, target.Id); err == nil && existing != nil {
		// Duplicate Follow: just re-confirm.
		return d.outbox.SendAccept(target, sender, act.ID)
	}

	follow := &domain.Follow{
		Id:        uuid.New(),
		ActorId:   sender.Id,
		TargetId:  target.Id,
		URI:       act.ID,
		Accepted:  true,
		CreatedAt: time.Now(),
	}
	if err := d.db.CreateFollow(follow); err != nil {
		return fmt.Errorf("failed to create follow: %w", err)
	}
	return d.outbox.SendAccept(target, sender, act.ID)
}

func (d *Dispatcher) handleAccept(act *Activity, sender *domain.Actor) error {
	var inner struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(act.Object, &inner); err != nil {
		return fmt.Errorf("failed to parse Accept object: %w", err)
	}
	if inner.Type != "Follow" || inner.ID == "" {
		return nil
	}
	return d.db.AcceptFollowByURI(inner.ID)
}

func (d *Dispatcher) handleUndo(act *Activity, sender *domain.Actor) error {
	var inner struct {
		ID     string          `json:"id"`
		Type   string          `json:"type"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(act.Object, &inner); err != nil {
		return fmt.Errorf("failed to parse Undo object: %w", err)
	}

	innerObjectURI := ""
	if len(inner.Object) > 0 {
		var s string
		if err := json.Unmarshal(inner.Object, &s); err == nil {
			innerObjectURI = s
		} else {
			var o struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(inner.Object, &o); err == nil {
				innerObjectURI = o.ID
			}
		}
	}

	switch inner.Type {
	case "Follow":
		return d.db.DeleteFollowByURI(inner.ID)
	case "Like", "Dislike":
		content := d.contentByURI(innerObjectURI)
		if content == nil {
			return nil
		}
		return d.db.DeleteVote(sender.Id, content.Id)
	case "Announce":
		content := d.contentByURI(innerObjectURI)
		if content == nil {
			return nil
		}
		return d.db.IncrementContentShares(content.Id, -1)
	case "Block":
		target := d.actorByURIOrNil(innerObjectURI)
		if target == nil {
			return nil
		}
		return d.db.DeleteBlock(sender.Id, target.Id)
	case "Lock":
		content := d.contentByURI(innerObjectURI)
		if content == nil {
			return nil
		}
		if err := d.requireModAuthority(sender, content); err != nil {
			return err
		}
		return d.db.UpdateContentLocked(content.Id, false)
	default:
		log.Printf("Inbox: unsupported Undo object type %s, dropping", inner.Type)
		return nil
	}
}

// handleAdd covers moderator grants (target: .../moderators) and entry
// pins (target: .../pinned).
func (d *Dispatcher) handleAdd(act *Activity, sender *domain.Actor) error {
	return d.applyCollectionChange(act, sender, true)
}

func (d *Dispatcher) handleRemove(act *Activity, sender *domain.Actor) error {
	return d.applyCollectionChange(act, sender, false)
}

func (d *Dispatcher) applyCollectionChange(act *Activity, sender *domain.Actor, add bool) error {
	target := act.Target
	if target == "" {
		return fmt.Errorf("%s activity has no target", act.Type)
	}

	var collection string
	var magazineURI string
	for _, suffix := range []string{"/moderators", "/pinned"} {
		if strings.HasSuffix(target, suffix) {
			collection = strings.TrimPrefix(suffix, "/")
			magazineURI = strings.TrimSuffix(target, suffix)
		}
	}
	if collection == "" {
		log.Printf("Inbox: unsupported %s target %s, dropping", act.Type, target)
		return nil
	}

	magazine := d.actorByURIOrNil(magazineURI)
	if magazine == nil || magazine.Type != domain.ActorGroup {
		return fmt.Errorf("%s target %s is not a magazine", act.Type, magazineURI)
	}

	// Only the magazine's own actor or one of its moderators may
	// change its collections.
	if sender.Id != magazine.Id {
		if err, isMod := d.db.IsModerator(magazine.Id, sender.Id); err != nil || !isMod {
			return ErrNotAuthorized
		}
	}

	objectURI := act.ObjectURI()
	switch collection {
	case "moderators":
		subject, err := d.resolver.Resolve(objectURI)
		if err != nil {
			if local := d.localActorByURI(objectURI); local != nil {
				subject = local
			} else {
				return err
			}
		}
		if add {
			return d.db.CreateModerator(&domain.Moderator{
				Id:         uuid.New(),
				MagazineId: magazine.Id,
				ActorId:    subject.Id,
				CreatedAt:  time.Now(),
			})
		}
		return d.db.DeleteModerator(magazine.Id, subject.Id)
	case "pinned":
		content := d.contentByURI(objectURI)
		if content == nil {
			return nil
		}
		return d.db.UpdateContentPinned(content.Id, add)
	}
	return nil
}

func (d *Dispatcher) handleBlock(act *Activity, sender *domain.Actor) error {
	target := d.actorByURIOrNil(act.ObjectURI())
	if target == nil {
		return nil
	}
	return d.db.CreateBlock(&domain.Block{
		Id:        uuid.New(),
		ActorId:   sender.Id,
		TargetId:  target.Id,
		CreatedAt: time.Now(),
	})
}

func (d *Dispatcher) handleFlag(act *Activity, sender *domain.Actor) error {
	objectURI := act.ObjectURI()
	if objectURI == "" {
		return fmt.Errorf("flag activity has no object")
	}
	return d.db.CreateReport(&domain.Report{
		Id:        uuid.New(),
		ActorURI:  act.Actor,
		ObjectURI: objectURI,
		Content:   act.Content,
		CreatedAt: time.Now(),
	})
}

// handleLock applies a moderation lock. The re-announce to our own
// followers happens here and only here, so a lock arriving both
// directly and via a group Announce cannot be announced twice (the
// seen-activity check in Dispatch already collapsed the duplicate).
func (d *Dispatcher) handleLock(act *Activity, sender *domain.Actor) error {
	content := d.contentByURI(act.ObjectURI())
	if content == nil {
		log.Printf("Inbox: object %s not found for lock, ignoring", act.ObjectURI())
		return nil
	}

	if err := d.requireModAuthority(sender, content); err != nil {
		return err
	}

	if err := d.db.UpdateContentLocked(content.Id, true); err != nil {
		return err
	}

	// If the magazine is ours, relay the lock to its remote followers
	// under the magazine's own identity.
	if content.MagazineId != uuid.Nil {
		if err, mag := d.db.ReadActorById(content.MagazineId); err == nil && mag != nil && !mag.IsRemote() {
			raw, err := json.Marshal(act)
			if err == nil {
				if err := d.outbox.AnnounceAsMagazine(mag, raw); err != nil {
					log.Printf("Inbox: failed to announce lock for %s: %v", act.ObjectURI(), err)
				}
			}
		}
	}
	return nil
}

// requireEditAuthority: the author, the owning magazine's actor, or one
// of its moderators.
func (d *Dispatcher) requireEditAuthority(sender *domain.Actor, content *domain.Content) error {
	if sender.Id == content.AuthorId {
		return nil
	}
	return d.requireModAuthority(sender, content)
}

// requireModAuthority: the owning magazine's own actor or one of its
// moderators. Content outside a magazine has no moderators.
func (d *Dispatcher) requireModAuthority(sender *domain.Actor, content *domain.Content) error {
	if content.MagazineId == uuid.Nil {
		return ErrNotAuthorized
	}
	if sender.Id == content.MagazineId {
		return nil
	}
	if err, isMod := d.db.IsModerator(content.MagazineId, sender.Id); err == nil && isMod {
		return nil
	}
	return ErrNotAuthorized
}

// contentByURI looks up a content object by local URI or remote ApID.
// Returns nil when unknown; no network.
func (d *Dispatcher) contentByURI(uri string) *domain.Content {
	if uri == "" {
		return nil
	}
	if id, ok := LocalObjectId(d.conf, uri); ok {
		if err, c := d.db.ReadContentById(id); err == nil {
			return c
		}
		return nil
	}
	if err, c := d.db.ReadContentByApId(uri); err == nil {
		return c
	}
	return nil
}

// localActorByURI maps /u/<name> and /m/<name> URIs to local actors.
func (d *Dispatcher) localActorByURI(uri string) *domain.Actor {
	if name, ok := localUserName(d.conf, uri); ok {
		if err, a := d.db.ReadLocalActorByUsername(name); err == nil {
			return a
		}
	}
	if name, ok := localMagazineName(d.conf, uri); ok {
		if err, a := d.db.ReadLocalMagazine(name); err == nil {
			return a
		}
	}
	return nil
}

// actorByURIOrNil finds a local or already-cached remote actor without
// triggering a fetch.
func (d *Dispatcher) actorByURIOrNil(uri string) *domain.Actor {
	if uri == "" {
		return nil
	}
	if local := d.localActorByURI(uri); local != nil {
		return local
	}
	if err, a := d.db.ReadActorByProfileId(uri); err == nil {
		return a
	}
	return nil
}

func localUserName(conf *util.AppConfig, uri string) (string, bool) {
	prefix := fmt.Sprintf("https://%s/u/", conf.Conf.Domain)
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(uri, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

func localMagazineName(conf *util.AppConfig, uri string) (string, bool) {
	prefix := fmt.Sprintf("https://%s/m/", conf.Conf.Domain)
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(uri, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
