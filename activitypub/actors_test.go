package activitypub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkroell/mazine/domain"
	"github.com/dkroell/mazine/util"
	"github.com/google/uuid"
)

// actorDocServer serves a minimal actor document and counts fetches.
func actorDocServer(t *testing.T, publicKeyPem string) (*httptest.Server, *int64) {
	t.Helper()
	var fetches int64
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&fetches, 1)
		profileURL := srv.URL + "/u/bob"
		doc := map[string]interface{}{
			"id":                profileURL,
			"type":              "Person",
			"preferredUsername": "bob",
			"inbox":             profileURL + "/inbox",
			"endpoints":         map[string]string{"sharedInbox": srv.URL + "/inbox"},
			"publicKey": map[string]string{
				"id":           profileURL + "#main-key",
				"owner":        profileURL,
				"publicKeyPem": publicKeyPem,
			},
		}
		w.Header().Set("Content-Type", "application/activity+json")
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func cacheRemoteActor(t *testing.T, env *testEnv, profileURL string, fetchedAgo time.Duration) *domain.Actor {
	t.Helper()
	fetched := time.Now().Add(-fetchedAgo)
	keys := util.GeneratePemKeypair()
	actor := &domain.Actor{
		Id:             uuid.New(),
		Username:       "bob",
		Domain:         "cached.example",
		Type:           domain.ActorPerson,
		ApID:           profileURL,
		ApProfileID:    profileURL,
		ApInboxURL:     profileURL + "/inbox",
		ApPublicKeyPem: keys.Public,
		ApFetchedAt:    &fetched,
		CreatedAt:      time.Now(),
	}
	if err := env.db.CreateActor(actor); err != nil {
		t.Fatalf("CreateActor failed: %v", err)
	}
	return actor
}

func TestResolveDiscoversNewActor(t *testing.T) {
	env := newTestEnv(t)
	keys := util.GeneratePemKeypair()
	srv, fetches := actorDocServer(t, keys.Public)
	env.resolver.Client = srv.Client()

	profileURL := srv.URL + "/u/bob"
	actor, err := env.resolver.Resolve(profileURL)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if actor.Username != "bob" {
		t.Errorf("Expected username bob, got '%s'", actor.Username)
	}
	if !actor.IsRemote() {
		t.Error("Expected a remote actor")
	}
	if actor.ApSharedInboxURL != srv.URL+"/inbox" {
		t.Errorf("Expected shared inbox, got '%s'", actor.ApSharedInboxURL)
	}
	if actor.ApPublicKeyPem != keys.Public {
		t.Error("Expected fetched public key to be cached")
	}
	if n := atomic.LoadInt64(fetches); n != 1 {
		t.Errorf("Expected 1 fetch, got %d", n)
	}

	// The discovered actor is persisted.
	err2, stored := env.db.ReadActorByProfileId(profileURL)
	if err2 != nil || stored == nil {
		t.Fatalf("Expected actor to be stored: %v", err2)
	}
	if stored.ApFetchedAt == nil {
		t.Error("Expected ApFetchedAt to be set")
	}
}

func TestResolveFreshCacheSkipsNetwork(t *testing.T) {
	env := newTestEnv(t)
	keys := util.GeneratePemKeypair()
	srv, fetches := actorDocServer(t, keys.Public)
	env.resolver.Client = srv.Client()

	profileURL := srv.URL + "/u/bob"
	cached := cacheRemoteActor(t, env, profileURL, 30*time.Minute)

	actor, err := env.resolver.Resolve(profileURL)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if actor.Id != cached.Id {
		t.Error("Expected the cached actor to be returned")
	}
	if n := atomic.LoadInt64(fetches); n != 0 {
		t.Errorf("Expected no fetch within the freshness window, got %d", n)
	}
}

func TestResolveStaleCacheRefetches(t *testing.T) {
	env := newTestEnv(t)
	keys := util.GeneratePemKeypair()
	srv, fetches := actorDocServer(t, keys.Public)
	env.resolver.Client = srv.Client()

	profileURL := srv.URL + "/u/bob"
	cached := cacheRemoteActor(t, env, profileURL, 2*time.Hour)

	actor, err := env.resolver.Resolve(profileURL)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if actor.Id != cached.Id {
		t.Error("A refresh must update the existing row, not create a new one")
	}
	if actor.ApPublicKeyPem != keys.Public {
		t.Error("Expected the refreshed key")
	}
	if n := atomic.LoadInt64(fetches); n != 1 {
		t.Errorf("Expected exactly 1 fetch, got %d", n)
	}
}

func TestResolveFetchFailureDegradesToCache(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	env.resolver.Client = srv.Client()

	profileURL := srv.URL + "/u/bob"
	cached := cacheRemoteActor(t, env, profileURL, 2*time.Hour)

	actor, err := env.resolver.Resolve(profileURL)
	if err != nil {
		t.Fatalf("Expected degradation to the cached copy, got error: %v", err)
	}
	if actor.Id != cached.Id {
		t.Error("Expected the cached actor")
	}

	// The failure sets a backoff window on the row.
	err2, stored := env.db.ReadActorByProfileId(profileURL)
	if err2 != nil || stored == nil {
		t.Fatalf("ReadActorByProfileId failed: %v", err2)
	}
	if stored.ApTimeoutAt == nil || !stored.ApTimeoutAt.After(time.Now()) {
		t.Error("Expected a future ApTimeoutAt after a failed fetch")
	}
}

func TestResolveRejectsInvalidActorDoc(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No public key.
		fmt.Fprintf(w, `{"id":"%s/u/bob","type":"Person","inbox":"%s/u/bob/inbox"}`, "https://x.example", "https://x.example")
	}))
	t.Cleanup(srv.Close)
	env.resolver.Client = srv.Client()

	_, err := env.resolver.Resolve(srv.URL + "/u/bob")
	if err == nil {
		t.Fatal("Expected an error for a keyless actor document")
	}
	if _, ok := err.(*InvalidActorError); !ok {
		t.Errorf("Expected InvalidActorError, got %T", err)
	}
}

func TestResolveHandleViaWebfinger(t *testing.T) {
	env := newTestEnv(t)
	keys := util.GeneratePemKeypair()

	// TLS because handle resolution always speaks https to the host in
	// the handle.
	var srv *httptest.Server
	srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profileURL := srv.URL + "/u/bob"
		if r.URL.Path == "/.well-known/webfinger" {
			w.Header().Set("Content-Type", "application/jrd+json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"subject": "acct:bob@" + r.Host,
				"links": []map[string]string{
					{"rel": "self", "type": "application/activity+json", "href": profileURL},
				},
			})
			return
		}
		doc := map[string]interface{}{
			"id":                profileURL,
			"type":              "Person",
			"preferredUsername": "bob",
			"inbox":             profileURL + "/inbox",
			"publicKey": map[string]string{
				"id":           profileURL + "#main-key",
				"owner":        profileURL,
				"publicKeyPem": keys.Public,
			},
		}
		w.Header().Set("Content-Type", "application/activity+json")
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	env.resolver.Client = srv.Client()

	host := strings.TrimPrefix(srv.URL, "https://")
	actor, err := env.resolver.ResolveHandle("bob@" + host)
	if err != nil {
		t.Fatalf("ResolveHandle failed: %v", err)
	}
	if actor.Username != "bob" {
		t.Errorf("Expected username bob, got '%s'", actor.Username)
	}
	if actor.ApProfileID != srv.URL+"/u/bob" {
		t.Errorf("Unexpected profile id '%s'", actor.ApProfileID)
	}

	// A handle without an actor link fails.
	if _, err := env.resolver.ResolveHandle("nobody"); err == nil {
		t.Error("Expected an error for a handle without a domain")
	}
}

func TestEnsureInstanceActorIdempotent(t *testing.T) {
	env := newTestEnv(t)

	first, err := EnsureInstanceActor(env.db, env.conf)
	if err != nil {
		t.Fatalf("EnsureInstanceActor failed: %v", err)
	}
	if first.PrivateKeyPem == "" {
		t.Error("Expected the instance actor to own a private key")
	}

	second, err := EnsureInstanceActor(env.db, env.conf)
	if err != nil {
		t.Fatalf("Second EnsureInstanceActor failed: %v", err)
	}
	if first.Id != second.Id {
		t.Error("Expected the same instance actor on repeated calls")
	}
}
