package activitypub

import (
	"testing"
	"time"

	"github.com/dkroell/mazine/domain"
	"github.com/google/uuid"
)

func TestBuildCreateShape(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createLocalActor(t, "alice", domain.ActorPerson)
	magazine := env.createLocalActor(t, "golang", domain.ActorGroup)
	content := &domain.Content{
		Id:         uuid.New(),
		Kind:       domain.KindEntry,
		AuthorId:   alice.Id,
		MagazineId: magazine.Id,
		Title:      "a link",
		URL:        "https://example.com/article",
		CreatedAt:  time.Now(),
	}

	create := BuildCreate(env.conf, alice, content, magazine)

	if create["type"] != "Create" {
		t.Errorf("Expected type Create, got %v", create["type"])
	}
	if create["actor"] != "https://mazine.example/u/alice" {
		t.Errorf("Unexpected actor %v", create["actor"])
	}
	to := create["to"].([]string)
	if len(to) != 1 || to[0] != PublicAudience {
		t.Errorf("Expected public addressing, got %v", to)
	}
	cc := create["cc"].([]string)
	if len(cc) != 2 || cc[0] != "https://mazine.example/u/alice/followers" || cc[1] != "https://mazine.example/m/golang" {
		t.Errorf("Unexpected cc %v", cc)
	}

	object := create["object"].(map[string]interface{})
	if object["type"] != "Page" {
		t.Errorf("Expected entry to serialize as Page, got %v", object["type"])
	}
	if object["name"] != "a link" || object["url"] != "https://example.com/article" {
		t.Errorf("Unexpected object fields: %v", object)
	}
	if object["attributedTo"] != "https://mazine.example/u/alice" {
		t.Errorf("Unexpected attribution %v", object["attributedTo"])
	}
}

func TestBuildDeleteCarriesTombstone(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createLocalActor(t, "alice", domain.ActorPerson)
	content := &domain.Content{Id: uuid.New(), Kind: domain.KindPost, AuthorId: alice.Id, CreatedAt: time.Now()}

	del := BuildDelete(env.conf, alice, content)
	object := del["object"].(map[string]interface{})
	if object["type"] != "Tombstone" {
		t.Errorf("Expected Tombstone, got %v", object["type"])
	}
	if object["formerType"] != "Note" {
		t.Errorf("Expected formerType Note, got %v", object["formerType"])
	}
}

func TestBuildAcceptEchoesFollow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createLocalActor(t, "alice", domain.ActorPerson)
	bob := env.createRemoteActor(t, "bob", "origin.example")

	accept := BuildAccept(env.conf, alice, bob, "https://origin.example/activities/1")
	if accept["type"] != "Accept" {
		t.Errorf("Expected type Accept, got %v", accept["type"])
	}
	inner := accept["object"].(map[string]interface{})
	if inner["id"] != "https://origin.example/activities/1" || inner["type"] != "Follow" {
		t.Errorf("Unexpected inner follow: %v", inner)
	}
	if inner["actor"] != bob.ApProfileID {
		t.Errorf("Expected follower as inner actor, got %v", inner["actor"])
	}
	if inner["object"] != "https://mazine.example/u/alice" {
		t.Errorf("Expected follow target as inner object, got %v", inner["object"])
	}
}

func addFollower(t *testing.T, env *testEnv, follower, target *domain.Actor) {
	t.Helper()
	if err := env.db.CreateFollow(&domain.Follow{
		Id: uuid.New(), ActorId: follower.Id, TargetId: target.Id,
		URI: NewActivityURI(env.conf), Accepted: true, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateFollow failed: %v", err)
	}
}

func TestFanoutCollapsesSharedInboxes(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createLocalActor(t, "alice", domain.ActorPerson)

	// Two followers on the same instance advertising one shared inbox.
	for _, name := range []string{"bob", "carol"} {
		f := env.createRemoteActor(t, name, "origin.example")
		f.ApSharedInboxURL = "https://origin.example/inbox"
		if err := env.db.UpdateRemoteActor(f); err != nil {
			t.Fatalf("UpdateRemoteActor failed: %v", err)
		}
		addFollower(t, env, f, alice)
	}
	// And one follower elsewhere with only a personal inbox.
	dave := env.createRemoteActor(t, "dave", "other.example")
	addFollower(t, env, dave, alice)

	content := &domain.Content{Id: uuid.New(), Kind: domain.KindPost, AuthorId: alice.Id, Body: "hi", CreatedAt: time.Now()}
	if err := env.db.CreateContent(content); err != nil {
		t.Fatalf("CreateContent failed: %v", err)
	}
	if err := env.outbox.OnContentCreated(alice, content); err != nil {
		t.Fatalf("OnContentCreated failed: %v", err)
	}

	err, due := env.db.ReadDueDeliveries(10)
	if err != nil {
		t.Fatalf("ReadDueDeliveries failed: %v", err)
	}
	if len(*due) != 2 {
		t.Fatalf("Expected 2 deliveries (shared inbox collapsed), got %d", len(*due))
	}
	inboxes := map[string]bool{}
	for _, item := range *due {
		inboxes[item.InboxURI] = true
		if item.SenderId != alice.Id {
			t.Errorf("Expected sender alice, got %s", item.SenderId)
		}
	}
	if !inboxes["https://origin.example/inbox"] || !inboxes[dave.ApInboxURL] {
		t.Errorf("Unexpected inbox set: %v", inboxes)
	}
}

func TestMagazineAnnouncesMemberCreate(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createLocalActor(t, "alice", domain.ActorPerson)
	magazine := env.createLocalActor(t, "golang", domain.ActorGroup)
	subscriber := env.createRemoteActor(t, "bob", "origin.example")
	addFollower(t, env, subscriber, magazine)

	content := &domain.Content{
		Id: uuid.New(), Kind: domain.KindEntry, AuthorId: alice.Id,
		MagazineId: magazine.Id, Title: "a link", CreatedAt: time.Now(),
	}
	if err := env.db.CreateContent(content); err != nil {
		t.Fatalf("CreateContent failed: %v", err)
	}
	if err := env.outbox.OnContentCreated(alice, content); err != nil {
		t.Fatalf("OnContentCreated failed: %v", err)
	}

	// Alice has no followers; the only delivery is the magazine's
	// Announce to its subscriber.
	err, due := env.db.ReadDueDeliveries(10)
	if err != nil {
		t.Fatalf("ReadDueDeliveries failed: %v", err)
	}
	if len(*due) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(*due))
	}
	item := (*due)[0]
	if item.SenderId != magazine.Id {
		t.Error("Expected the Announce signed by the magazine")
	}
	act, err2 := ParseActivity([]byte(item.ActivityJSON))
	if err2 != nil {
		t.Fatalf("Queued payload is not a valid activity: %v", err2)
	}
	if act.Type != "Announce" {
		t.Errorf("Expected Announce, got %s", act.Type)
	}
	inner := act.EmbeddedActivity()
	if inner == nil || inner.Type != "Create" {
		t.Fatal("Expected an embedded Create")
	}
}

func TestOnVoteDeliversToOriginOnly(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createLocalActor(t, "alice", domain.ActorPerson)
	author := env.createRemoteActor(t, "bob", "origin.example")
	content := env.createRemoteContent(t, author, "https://origin.example/o/1", uuid.Nil)

	if err := env.outbox.OnVote(alice, content, domain.VoteUp); err != nil {
		t.Fatalf("OnVote failed: %v", err)
	}
	err, due := env.db.ReadDueDeliveries(10)
	if err != nil || len(*due) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(*due))
	}
	if (*due)[0].InboxURI != author.ApInboxURL {
		t.Errorf("Expected delivery to the origin inbox, got %s", (*due)[0].InboxURI)
	}

	// Votes on local content stay local.
	local := &domain.Content{Id: uuid.New(), Kind: domain.KindPost, AuthorId: alice.Id, CreatedAt: time.Now()}
	if err := env.db.CreateContent(local); err != nil {
		t.Fatalf("CreateContent failed: %v", err)
	}
	if err := env.outbox.OnVote(alice, local, domain.VoteUp); err != nil {
		t.Fatalf("OnVote (local) failed: %v", err)
	}
	err, due = env.db.ReadDueDeliveries(10)
	if err != nil || len(*due) != 1 {
		t.Errorf("Expected no additional delivery for a local vote, got %d", len(*due))
	}
}

func TestSendFollowStaysPendingUntilAccepted(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createLocalActor(t, "alice", domain.ActorPerson)
	remote := env.createRemoteActor(t, "bob", "origin.example")

	if err := env.outbox.SendFollow(alice, remote); err != nil {
		t.Fatalf("SendFollow failed: %v", err)
	}

	err, follow := env.db.ReadFollowByPair(alice.Id, remote.Id)
	if err != nil || follow == nil {
		t.Fatalf("Expected a follow row: %v", err)
	}
	if follow.Accepted {
		t.Error("Follow must stay pending until the Accept arrives")
	}
	err, count := env.db.CountFollowersOf(remote.Id)
	if err != nil || count != 0 {
		t.Errorf("Pending follow must not count, got %d", count)
	}

	// The remote Accept flips it.
	outcome, err2 := env.dispatcher.Dispatch([]byte(`{
		"id": "https://origin.example/activities/accept-1",
		"type": "Accept",
		"actor": "`+remote.ApProfileID+`",
		"object": {"id": "`+follow.URI+`", "type": "Follow"}
	}`), "origin.example")
	if err2 != nil || outcome != OutcomeHandled {
		t.Fatalf("Accept dispatch failed: outcome=%v err=%v", outcome, err2)
	}
	err, count = env.db.CountFollowersOf(remote.Id)
	if err != nil || count != 1 {
		t.Errorf("Expected 1 accepted follow, got %d", count)
	}
}

func TestOnContentUpdatedAnnouncesViaMagazine(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createLocalActor(t, "alice", domain.ActorPerson)
	magazine := env.createLocalActor(t, "golang", domain.ActorGroup)
	subscriber := env.createRemoteActor(t, "bob", "origin.example")
	addFollower(t, env, subscriber, magazine)

	content := &domain.Content{
		Id: uuid.New(), Kind: domain.KindEntry, AuthorId: alice.Id,
		MagazineId: magazine.Id, Title: "edited link", CreatedAt: time.Now(),
	}
	if err := env.db.CreateContent(content); err != nil {
		t.Fatalf("CreateContent failed: %v", err)
	}
	if err := env.outbox.OnContentUpdated(alice, content); err != nil {
		t.Fatalf("OnContentUpdated failed: %v", err)
	}

	err, due := env.db.ReadDueDeliveries(10)
	if err != nil || len(*due) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(*due))
	}
	act, err2 := ParseActivity([]byte((*due)[0].ActivityJSON))
	if err2 != nil {
		t.Fatalf("Queued payload is not a valid activity: %v", err2)
	}
	if act.Type != "Announce" {
		t.Errorf("Expected Announce, got %s", act.Type)
	}
	inner := act.EmbeddedActivity()
	if inner == nil || inner.Type != "Update" {
		t.Fatal("Expected an embedded Update")
	}
}

func TestOnContentDeletedDeliversToFollowers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createLocalActor(t, "alice", domain.ActorPerson)
	follower := env.createRemoteActor(t, "bob", "origin.example")
	addFollower(t, env, follower, alice)

	content := &domain.Content{Id: uuid.New(), Kind: domain.KindPost, AuthorId: alice.Id, Body: "gone soon", CreatedAt: time.Now()}
	if err := env.db.CreateContent(content); err != nil {
		t.Fatalf("CreateContent failed: %v", err)
	}
	if err := env.outbox.OnContentDeleted(alice, content); err != nil {
		t.Fatalf("OnContentDeleted failed: %v", err)
	}

	err, due := env.db.ReadDueDeliveries(10)
	if err != nil || len(*due) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(*due))
	}
	item := (*due)[0]
	if item.InboxURI != follower.ApInboxURL {
		t.Errorf("Expected delivery to %s, got %s", follower.ApInboxURL, item.InboxURI)
	}
	act, err2 := ParseActivity([]byte(item.ActivityJSON))
	if err2 != nil || act.Type != "Delete" {
		t.Errorf("Expected a Delete activity, got %v (err=%v)", act, err2)
	}
}

func TestOnLockChangedFansOutThroughMagazine(t *testing.T) {
	env := newTestEnv(t)
	mod := env.createLocalActor(t, "mod", domain.ActorPerson)
	magazine := env.createLocalActor(t, "golang", domain.ActorGroup)
	subscriber := env.createRemoteActor(t, "bob", "origin.example")
	addFollower(t, env, subscriber, magazine)

	content := &domain.Content{
		Id: uuid.New(), Kind: domain.KindEntry, AuthorId: mod.Id,
		MagazineId: magazine.Id, Title: "heated thread", CreatedAt: time.Now(),
	}
	if err := env.db.CreateContent(content); err != nil {
		t.Fatalf("CreateContent failed: %v", err)
	}

	if err := env.outbox.OnLockChanged(mod, content, true); err != nil {
		t.Fatalf("OnLockChanged failed: %v", err)
	}
	err, due := env.db.ReadDueDeliveries(10)
	if err != nil || len(*due) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(*due))
	}
	item := (*due)[0]
	if item.SenderId != magazine.Id {
		t.Error("Expected the Lock signed by the magazine")
	}
	act, err2 := ParseActivity([]byte(item.ActivityJSON))
	if err2 != nil || act.Type != "Lock" {
		t.Errorf("Expected a Lock activity, got %v (err=%v)", act, err2)
	}

	// Unlocking fans out the matching Undo.
	if err := env.outbox.OnLockChanged(mod, content, false); err != nil {
		t.Fatalf("OnLockChanged (unlock) failed: %v", err)
	}
	err, due = env.db.ReadDueDeliveries(10)
	if err != nil || len(*due) != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", len(*due))
	}
	types := map[string]bool{}
	for _, d := range *due {
		if a, err := ParseActivity([]byte(d.ActivityJSON)); err == nil {
			types[a.Type] = true
		}
	}
	if !types["Lock"] || !types["Undo"] {
		t.Errorf("Expected a Lock and an Undo queued, got %v", types)
	}
}

func TestOnCollectionChangedTargetsMagazineCollection(t *testing.T) {
	env := newTestEnv(t)
	mod := env.createLocalActor(t, "mod", domain.ActorPerson)
	magazine := env.createLocalActor(t, "golang", domain.ActorGroup)
	subscriber := env.createRemoteActor(t, "bob", "origin.example")
	addFollower(t, env, subscriber, magazine)

	objectURI := "https://mazine.example/o/" + uuid.NewString()
	if err := env.outbox.OnCollectionChanged(mod, magazine, objectURI, "pinned", true); err != nil {
		t.Fatalf("OnCollectionChanged failed: %v", err)
	}
	err, due := env.db.ReadDueDeliveries(10)
	if err != nil || len(*due) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(*due))
	}
	act, err2 := ParseActivity([]byte((*due)[0].ActivityJSON))
	if err2 != nil {
		t.Fatalf("Queued payload is not a valid activity: %v", err2)
	}
	if act.Type != "Add" {
		t.Errorf("Expected Add, got %s", act.Type)
	}
	if act.Target != "https://mazine.example/m/golang/pinned" {
		t.Errorf("Unexpected target %s", act.Target)
	}

	if err := env.outbox.OnCollectionChanged(mod, magazine, objectURI, "pinned", false); err != nil {
		t.Fatalf("OnCollectionChanged (remove) failed: %v", err)
	}
	err, due = env.db.ReadDueDeliveries(10)
	if err != nil || len(*due) != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", len(*due))
	}
	types := map[string]bool{}
	for _, d := range *due {
		if a, err := ParseActivity([]byte(d.ActivityJSON)); err == nil {
			types[a.Type] = true
		}
	}
	if !types["Add"] || !types["Remove"] {
		t.Errorf("Expected an Add and a Remove queued, got %v", types)
	}
}

func TestSendFlagDeliversToOriginOnly(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createLocalActor(t, "alice", domain.ActorPerson)
	author := env.createRemoteActor(t, "bob", "origin.example")
	content := env.createRemoteContent(t, author, "https://origin.example/o/1", uuid.Nil)

	if err := env.outbox.SendFlag(alice, content, "spam"); err != nil {
		t.Fatalf("SendFlag failed: %v", err)
	}
	err, due := env.db.ReadDueDeliveries(10)
	if err != nil || len(*due) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(*due))
	}
	item := (*due)[0]
	if item.InboxURI != author.ApInboxURL {
		t.Errorf("Expected delivery to the origin inbox, got %s", item.InboxURI)
	}
	act, err2 := ParseActivity([]byte(item.ActivityJSON))
	if err2 != nil || act.Type != "Flag" {
		t.Errorf("Expected a Flag activity, got %v (err=%v)", act, err2)
	}

	// Reports about local content are not broadcast anywhere.
	local := &domain.Content{Id: uuid.New(), Kind: domain.KindPost, AuthorId: alice.Id, CreatedAt: time.Now()}
	if err := env.db.CreateContent(local); err != nil {
		t.Fatalf("CreateContent failed: %v", err)
	}
	if err := env.outbox.SendFlag(alice, local, "spam"); err != nil {
		t.Fatalf("SendFlag (local) failed: %v", err)
	}
	err, due = env.db.ReadDueDeliveries(10)
	if err != nil || len(*due) != 1 {
		t.Errorf("Expected no additional delivery for a local report, got %d", len(*due))
	}
}

func TestSendBlockStoresRowAndDelivers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createLocalActor(t, "alice", domain.ActorPerson)
	remote := env.createRemoteActor(t, "bob", "origin.example")

	if err := env.outbox.SendBlock(alice, remote); err != nil {
		t.Fatalf("SendBlock failed: %v", err)
	}

	err, blocked := env.db.IsBlocked(alice.Id, remote.Id)
	if err != nil || !blocked {
		t.Error("Expected the block to be recorded")
	}
	err, due := env.db.ReadDueDeliveries(10)
	if err != nil || len(*due) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(*due))
	}
	act, err2 := ParseActivity([]byte((*due)[0].ActivityJSON))
	if err2 != nil || act.Type != "Block" {
		t.Errorf("Expected a Block activity, got %v (err=%v)", act, err2)
	}
}

func TestSendUnfollowRemovesFollowAndDelivers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createLocalActor(t, "alice", domain.ActorPerson)
	remote := env.createRemoteActor(t, "bob", "origin.example")
	addFollower(t, env, alice, remote)

	if err := env.outbox.SendUnfollow(alice, remote); err != nil {
		t.Fatalf("SendUnfollow failed: %v", err)
	}

	if err, follow := env.db.ReadFollowByPair(alice.Id, remote.Id); err == nil && follow != nil {
		t.Error("Expected the follow row to be removed")
	}
	err, due := env.db.ReadDueDeliveries(10)
	if err != nil || len(*due) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(*due))
	}
	act, err2 := ParseActivity([]byte((*due)[0].ActivityJSON))
	if err2 != nil || act.Type != "Undo" {
		t.Errorf("Expected an Undo activity, got %v (err=%v)", act, err2)
	}
}

func TestOutboxDisabledWithoutFederation(t *testing.T) {
	env := newTestEnv(t)
	env.conf.Conf.WithAp = false
	alice := env.createLocalActor(t, "alice", domain.ActorPerson)
	bob := env.createRemoteActor(t, "bob", "origin.example")
	addFollower(t, env, bob, alice)

	content := &domain.Content{Id: uuid.New(), Kind: domain.KindPost, AuthorId: alice.Id, CreatedAt: time.Now()}
	if err := env.outbox.OnContentCreated(alice, content); err != nil {
		t.Fatalf("OnContentCreated failed: %v", err)
	}
	err, due := env.db.ReadDueDeliveries(10)
	if err != nil || len(*due) != 0 {
		t.Errorf("Expected no deliveries with federation disabled, got %d", len(*due))
	}
}
