package db

import (
	"testing"
	"time"

	"github.com/dkroell/mazine/domain"
	"github.com/google/uuid"
)

func TestDeliveryQueueDueFiltering(t *testing.T) {
	db := setupTestDB(t)
	sender := createTestActor(t, db, "alice")

	due := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     "https://remote.example/inbox",
		ActivityJSON: `{"type":"Create"}`,
		SenderId:     sender.Id,
		NextRetryAt:  time.Now().Add(-time.Minute),
		CreatedAt:    time.Now(),
	}
	future := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     "https://other.example/inbox",
		ActivityJSON: `{"type":"Create"}`,
		SenderId:     sender.Id,
		NextRetryAt:  time.Now().Add(time.Hour),
		CreatedAt:    time.Now(),
	}
	if err := db.EnqueueDelivery(due); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}
	if err := db.EnqueueDelivery(future); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	err, items := db.ReadDueDeliveries(10)
	if err != nil {
		t.Fatalf("ReadDueDeliveries failed: %v", err)
	}
	if len(*items) != 1 {
		t.Fatalf("Expected 1 due delivery, got %d", len(*items))
	}
	if (*items)[0].Id != due.Id {
		t.Errorf("Expected due item %s, got %s", due.Id, (*items)[0].Id)
	}

	// Push the due item into the future; nothing remains due.
	if err := db.UpdateDeliveryAttempt(due.Id, 1, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("UpdateDeliveryAttempt failed: %v", err)
	}
	err, items = db.ReadDueDeliveries(10)
	if err != nil {
		t.Fatalf("ReadDueDeliveries failed: %v", err)
	}
	if len(*items) != 0 {
		t.Errorf("Expected 0 due deliveries, got %d", len(*items))
	}
}

func TestDeleteDelivery(t *testing.T) {
	db := setupTestDB(t)
	sender := createTestActor(t, db, "alice")

	item := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     "https://remote.example/inbox",
		ActivityJSON: `{}`,
		SenderId:     sender.Id,
		NextRetryAt:  time.Now().Add(-time.Second),
		CreatedAt:    time.Now(),
	}
	if err := db.EnqueueDelivery(item); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}
	if err := db.DeleteDelivery(item.Id); err != nil {
		t.Fatalf("DeleteDelivery failed: %v", err)
	}

	err, items := db.ReadDueDeliveries(10)
	if err != nil {
		t.Fatalf("ReadDueDeliveries failed: %v", err)
	}
	if len(*items) != 0 {
		t.Errorf("Expected empty queue, got %d items", len(*items))
	}
}

func TestCancelDeliveriesToHost(t *testing.T) {
	db := setupTestDB(t)
	sender := createTestActor(t, db, "alice")

	for _, inbox := range []string{
		"https://blocked.example/inbox",
		"https://blocked.example/u/bob/inbox",
		"https://fine.example/inbox",
	} {
		if err := db.EnqueueDelivery(&domain.DeliveryQueueItem{
			Id:           uuid.New(),
			InboxURI:     inbox,
			ActivityJSON: `{}`,
			SenderId:     sender.Id,
			NextRetryAt:  time.Now().Add(-time.Second),
			CreatedAt:    time.Now(),
		}); err != nil {
			t.Fatalf("EnqueueDelivery failed: %v", err)
		}
	}

	if err := db.CancelDeliveriesToHost("blocked.example"); err != nil {
		t.Fatalf("CancelDeliveriesToHost failed: %v", err)
	}

	err, items := db.ReadDueDeliveries(10)
	if err != nil {
		t.Fatalf("ReadDueDeliveries failed: %v", err)
	}
	if len(*items) != 1 {
		t.Fatalf("Expected 1 remaining delivery, got %d", len(*items))
	}
	if (*items)[0].InboxURI != "https://fine.example/inbox" {
		t.Errorf("Wrong delivery survived: %s", (*items)[0].InboxURI)
	}
}

func TestInboxQueueRoundtrip(t *testing.T) {
	db := setupTestDB(t)

	item := &domain.InboxQueueItem{
		Id:          uuid.New(),
		Body:        `{"type":"Create"}`,
		SourceHost:  "remote.example",
		Path:        "/u/alice/inbox",
		Signature:   `keyId="https://remote.example/u/bob#main-key"`,
		Digest:      "SHA-256=abc",
		Date:        "Mon, 01 Sep 2025 00:00:00 GMT",
		NextRetryAt: time.Now().Add(-time.Second),
		CreatedAt:   time.Now(),
	}
	if err := db.EnqueueInboxItem(item); err != nil {
		t.Fatalf("EnqueueInboxItem failed: %v", err)
	}

	err, items := db.ReadDueInboxItems(10)
	if err != nil {
		t.Fatalf("ReadDueInboxItems failed: %v", err)
	}
	if len(*items) != 1 {
		t.Fatalf("Expected 1 inbox item, got %d", len(*items))
	}
	got := (*items)[0]
	if got.Path != "/u/alice/inbox" {
		t.Errorf("Expected path '/u/alice/inbox', got '%s'", got.Path)
	}
	if got.SourceHost != "remote.example" {
		t.Errorf("Expected source host 'remote.example', got '%s'", got.SourceHost)
	}

	if err := db.DeleteInboxItem(item.Id); err != nil {
		t.Fatalf("DeleteInboxItem failed: %v", err)
	}
	err, items = db.ReadDueInboxItems(10)
	if err != nil {
		t.Fatalf("ReadDueInboxItems failed: %v", err)
	}
	if len(*items) != 0 {
		t.Errorf("Expected empty inbox queue, got %d items", len(*items))
	}
}

func TestDeadLetters(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateDeadLetter(&domain.DeadLetter{
		Id:        uuid.New(),
		Queue:     "delivery",
		Payload:   `{}`,
		Reason:    "retries exhausted",
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateDeadLetter failed: %v", err)
	}

	err, count := db.CountDeadLetters("delivery")
	if err != nil {
		t.Fatalf("CountDeadLetters failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 dead letter, got %d", count)
	}

	err, count = db.CountDeadLetters("inbox")
	if err != nil {
		t.Fatalf("CountDeadLetters failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 inbox dead letters, got %d", count)
	}
}

func TestTryAcquireLock(t *testing.T) {
	db := setupTestDB(t)

	err, acquired := db.TryAcquireLock("actor:abc", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquireLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("Expected to acquire free lock")
	}

	// Held lock is not re-acquirable.
	err, acquired = db.TryAcquireLock("actor:abc", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquireLock failed: %v", err)
	}
	if acquired {
		t.Error("Expected held lock to stay held")
	}

	// A different key is independent.
	err, acquired = db.TryAcquireLock("actor:other", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquireLock failed: %v", err)
	}
	if !acquired {
		t.Error("Expected unrelated lock to be free")
	}

	if err := db.ReleaseLock("actor:abc"); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	err, acquired = db.TryAcquireLock("actor:abc", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquireLock failed: %v", err)
	}
	if !acquired {
		t.Error("Expected released lock to be acquirable")
	}
}

func TestTryAcquireLockExpired(t *testing.T) {
	db := setupTestDB(t)

	// A negative TTL produces an already-expired lock.
	err, acquired := db.TryAcquireLock("actor:stale", -time.Second)
	if err != nil {
		t.Fatalf("TryAcquireLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("Expected to acquire free lock")
	}

	err, acquired = db.TryAcquireLock("actor:stale", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquireLock failed: %v", err)
	}
	if !acquired {
		t.Error("Expected expired lock to be claimable")
	}
}
