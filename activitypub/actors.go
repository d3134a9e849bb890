package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/dkroell/mazine/db"
	"github.com/dkroell/mazine/domain"
	"github.com/dkroell/mazine/util"
	"github.com/google/uuid"
)

const userAgent = "mazine/1.0 ActivityPub"

// Resolver resolves remote actors by profile URL, caching keys and
// inbox URLs with a freshness window and failure backoff.
type Resolver struct {
	db     *db.DB
	conf   *util.AppConfig
	Client *http.Client

	// signer is the instance actor whose key signs discovery fetches.
	signer *domain.Actor
}

func NewResolver(database *db.DB, conf *util.AppConfig) *Resolver {
	return &Resolver{
		db:     database,
		conf:   conf,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseSigner sets the local actor used to sign discovery requests.
func (r *Resolver) UseSigner(actor *domain.Actor) {
	r.signer = actor
}

// Resolve returns the actor for a profile URL. A cached record fetched
// within the freshness window is returned without a network call.
// Stale records are refreshed behind a non-blocking per-URL lock;
// losing the lock (or a fetch failure) degrades to the cached copy.
func (r *Resolver) Resolve(profileURL string) (*domain.Actor, error) {
	_, cached := r.db.ReadActorByProfileId(profileURL)

	now := time.Now()
	if cached != nil {
		if !cached.IsRemote() {
			// A local actor addressed by its own profile URL.
			return cached, nil
		}
		if cached.ApDeletedAt != nil {
			return cached, nil
		}
		if cached.ApFetchedAt != nil && now.Sub(*cached.ApFetchedAt) < r.conf.Conf.ActorFreshness {
			return cached, nil
		}
		if cached.ApTimeoutAt != nil && cached.ApTimeoutAt.After(now) {
			// Still backing off from the last failed fetch.
			return cached, nil
		}
	}

	lockKey := "actor:" + util.HashKey(profileURL)
	err, acquired := r.db.TryAcquireLock(lockKey, r.conf.Conf.ResolveLockTTL)
	if err != nil {
		log.Printf("Resolver: lock error for %s: %v", profileURL, err)
	}
	if !acquired {
		// Another worker is already refreshing; last fetch wins.
		if cached != nil {
			return cached, nil
		}
		return nil, ErrResolutionDeferred
	}
	defer r.db.ReleaseLock(lockKey)

	fresh, err := r.refresh(profileURL, cached)
	if err != nil {
		if _, ok := err.(*InvalidActorError); ok {
			return nil, err
		}
		log.Printf("Resolver: fetch failed for %s: %v", profileURL, err)
		if cached != nil {
			r.db.UpdateActorTimeout(profileURL, now.Add(r.nextBackoff(cached)))
			return cached, nil
		}
		return nil, ErrResolutionDeferred
	}
	return fresh, nil
}

// ResolveHandle resolves "user@domain" via WebFinger, then resolves
// the discovered profile URL.
func (r *Resolver) ResolveHandle(handle string) (*domain.Actor, error) {
	user, host, err := util.ParseHandle(handle)
	if err != nil {
		return nil, err
	}

	wfURL := fmt.Sprintf("https://%s/.well-known/webfinger?resource=acct:%s@%s", host, user, host)
	body, err := r.FetchDocument(wfURL)
	if err != nil {
		return nil, fmt.Errorf("webfinger lookup failed: %w", err)
	}

	var jrd struct {
		Subject string `json:"subject"`
		Links   []struct {
			Rel  string `json:"rel"`
			Type string `json:"type"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &jrd); err != nil {
		return nil, fmt.Errorf("malformed webfinger response: %w", err)
	}

	for _, link := range jrd.Links {
		if link.Rel == "self" && link.Type == "application/activity+json" {
			return r.Resolve(link.Href)
		}
	}
	return nil, fmt.Errorf("webfinger response for %s has no actor link", handle)
}

// Refresh forces a fetch regardless of freshness (used for Update
// activities on Person/Group objects).
func (r *Resolver) Refresh(profileURL string) (*domain.Actor, error) {
	_, cached := r.db.ReadActorByProfileId(profileURL)
	fresh, err := r.refresh(profileURL, cached)
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

func (r *Resolver) refresh(profileURL string, cached *domain.Actor) (*domain.Actor, error) {
	body, err := r.FetchDocument(profileURL)
	if err != nil {
		return nil, err
	}

	var doc ActorDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &InvalidActorError{URI: profileURL, Reason: err.Error()}
	}
	if doc.ID == "" || doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, &InvalidActorError{URI: profileURL, Reason: "missing id, inbox or public key"}
	}
	if _, err := ParsePublicKey(doc.PublicKey.PublicKeyPem); err != nil {
		return nil, &InvalidActorError{URI: profileURL, Reason: "unparseable public key"}
	}

	actorType := domain.ActorPerson
	if doc.Type == "Group" {
		actorType = domain.ActorGroup
	}

	domainName, err := util.ExtractDomain(doc.ID)
	if err != nil {
		return nil, &InvalidActorError{URI: profileURL, Reason: err.Error()}
	}

	now := time.Now()
	if cached != nil {
		cached.Summary = doc.Summary
		cached.ApInboxURL = doc.Inbox
		cached.ApSharedInboxURL = doc.Endpoints.SharedInbox
		cached.ApFollowersURL = doc.Followers
		cached.ApPublicKeyPem = doc.PublicKey.PublicKeyPem
		cached.ApFetchedAt = &now
		cached.ApTimeoutAt = nil
		if err := r.db.UpdateRemoteActor(cached); err != nil {
			return nil, fmt.Errorf("failed to update cached actor: %w", err)
		}
		return cached, nil
	}

	// First discovery. Remote actors never get a locally generated
	// private key, only the cached verification key.
	actor := &domain.Actor{
		Id:               uuid.New(),
		Username:         doc.PreferredUsername,
		Domain:           domainName,
		Type:             actorType,
		Summary:          doc.Summary,
		ApID:             doc.ID,
		ApProfileID:      doc.ID,
		ApInboxURL:       doc.Inbox,
		ApSharedInboxURL: doc.Endpoints.SharedInbox,
		ApFollowersURL:   doc.Followers,
		ApPublicKeyPem:   doc.PublicKey.PublicKeyPem,
		ApFetchedAt:      &now,
		CreatedAt:        now,
	}
	if err := r.db.CreateActor(actor); err != nil {
		// Lost a create race; the other writer's copy is fine.
		if err2, existing := r.db.ReadActorByProfileId(doc.ID); err2 == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to store actor: %w", err)
	}
	return actor, nil
}

// FetchDocument performs a GET for an ActivityPub document, signed with
// the instance actor's key when one is configured.
func (r *Resolver) FetchDocument(url string) ([]byte, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	if r.signer != nil && r.signer.PrivateKeyPem != "" {
		privateKey, err := ParsePrivateKey(r.signer.PrivateKeyPem)
		if err == nil {
			keyId := fmt.Sprintf("https://%s/u/%s#main-key", r.conf.Conf.Domain, r.signer.Username)
			if err := SignRequest(req, privateKey, keyId, nil); err != nil {
				log.Printf("Resolver: failed to sign fetch of %s: %v", url, err)
			}
		}
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch of %s failed with status: %d", url, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// nextBackoff doubles the previous failure window, capped at a day.
func (r *Resolver) nextBackoff(cached *domain.Actor) time.Duration {
	backoff := 5 * time.Minute
	if cached.ApTimeoutAt != nil && cached.ApFetchedAt != nil {
		prev := cached.ApTimeoutAt.Sub(*cached.ApFetchedAt)
		if prev > 0 {
			backoff = prev * 2
		}
	}
	if backoff > 24*time.Hour {
		backoff = 24 * time.Hour
	}
	return backoff
}

// EnsureInstanceActor creates the instance service actor on first
// start. Its key signs discovery fetches before any user exists.
func EnsureInstanceActor(database *db.DB, conf *util.AppConfig) (*domain.Actor, error) {
	err, existing := database.ReadLocalActorByUsername("instance")
	if err == nil && existing != nil {
		return existing, nil
	}

	keys := util.GeneratePemKeypair()
	actor := &domain.Actor{
		Id:            uuid.New(),
		Username:      "instance",
		Domain:        conf.Conf.Domain,
		Type:          domain.ActorPerson,
		PublicKeyPem:  keys.Public,
		PrivateKeyPem: keys.Private,
		CreatedAt:     time.Now(),
	}
	if err := database.CreateActor(actor); err != nil {
		return nil, fmt.Errorf("failed to create instance actor: %w", err)
	}
	log.Printf("Created instance actor for %s", conf.Conf.Domain)
	return actor, nil
}
