package activitypub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dkroell/mazine/db"
	"github.com/dkroell/mazine/domain"
	"github.com/dkroell/mazine/util"
	"github.com/google/uuid"
)

// InboxWorker drains the inbox queue. The HTTP layer does nothing but
// store raw requests; verification and dispatch both happen here, so a
// flood of deliveries soaks into the queue instead of tying up request
// handlers.
type InboxWorker struct {
	db         *db.DB
	conf       *util.AppConfig
	resolver   *Resolver
	dispatcher *Dispatcher
}

func NewInboxWorker(database *db.DB, conf *util.AppConfig, resolver *Resolver, dispatcher *Dispatcher) *InboxWorker {
	return &InboxWorker{
		db:         database,
		conf:       conf,
		resolver:   resolver,
		dispatcher: dispatcher,
	}
}

// Start runs the worker loop until ctx is cancelled.
func (w *InboxWorker) Start(ctx context.Context) {
	log.Println("Starting inbox worker...")
	ticker := time.NewTicker(10 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.ProcessQueue()
			}
		}
	}()
}

// ProcessQueue handles one batch of due inbox items.
func (w *InboxWorker) ProcessQueue() {
	err, items := w.db.ReadDueInboxItems(50)
	if err != nil {
		log.Printf("InboxWorker: failed to read queue: %v", err)
		return
	}
	if items == nil || len(*items) == 0 {
		return
	}

	for _, item := range *items {
		w.processItem(&item)
	}
}

func (w *InboxWorker) processItem(item *domain.InboxQueueItem) {
	signerURI, err := w.verifySignature(item)
	if err != nil {
		if errors.Is(err, ErrRetryLater) {
			w.requeue(item, err)
			return
		}
		log.Printf("InboxWorker: dropping message from %s, signature invalid: %v", item.SourceHost, err)
		w.deadLetter(item, fmt.Sprintf("signature rejected: %v", err))
		return
	}

	// The delivering host is the verified signer's, not whatever the
	// payload claims.
	sourceHost, err := util.ExtractDomain(signerURI)
	if err != nil {
		sourceHost = item.SourceHost
	}

	outcome, err := w.dispatcher.Dispatch([]byte(item.Body), sourceHost)
	switch outcome {
	case OutcomeHandled, OutcomeForwarded:
		w.db.DeleteInboxItem(item.Id)
	case OutcomeRejected:
		// Protocol violations never get better; drop without retry.
		w.db.DeleteInboxItem(item.Id)
	case OutcomeDeferred:
		w.requeue(item, err)
	}
}

func (w *InboxWorker) requeue(item *domain.InboxQueueItem, cause error) {
	item.Attempts++
	if item.Attempts >= w.conf.Conf.MaxDeliveryAttempts {
		log.Printf("InboxWorker: giving up on message from %s after %d attempts", item.SourceHost, item.Attempts)
		w.deadLetter(item, fmt.Sprintf("retries exhausted: %v", cause))
		return
	}
	backoffMinutes := retryBackoffMinutes[min(item.Attempts-1, len(retryBackoffMinutes)-1)]
	item.NextRetryAt = time.Now().Add(time.Duration(backoffMinutes) * time.Minute)
	log.Printf("InboxWorker: deferring message from %s (attempt %d), retry in %dm: %v",
		item.SourceHost, item.Attempts, backoffMinutes, cause)
	w.db.UpdateInboxAttempt(item.Id, item.Attempts, item.NextRetryAt)
}

func (w *InboxWorker) deadLetter(item *domain.InboxQueueItem, reason string) {
	w.db.CreateDeadLetter(&domain.DeadLetter{
		Id:        uuid.New(),
		Queue:     "inbox",
		Payload:   item.Body,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
	w.db.DeleteInboxItem(item.Id)
}

// verifySignature checks the stored request's HTTP signature against
// the public key of the actor the signature's keyId names. The signer
// may differ from the activity's actor (inbox forwarding); the
// dispatcher deals with that, here only the signature itself matters.
// Returns the verified signer's URI. A key fetch that fails
// transiently wraps ErrRetryLater so the message is requeued rather
// than rejected.
func (w *InboxWorker) verifySignature(item *domain.InboxQueueItem) (string, error) {
	if item.Signature == "" {
		return "", fmt.Errorf("missing signature header")
	}
	if item.Digest != "" && item.Digest != util.Digest([]byte(item.Body)) {
		return "", fmt.Errorf("digest mismatch")
	}

	req, err := w.reconstructRequest(item)
	if err != nil {
		return "", err
	}
	signerURI, err := SignerURI(req)
	if err != nil {
		return "", err
	}

	signer, err := w.resolver.Resolve(signerURI)
	if err != nil {
		return "", err
	}
	publicKeyPem := signer.ApPublicKeyPem
	if !signer.IsRemote() {
		publicKeyPem = signer.PublicKeyPem
	}
	if publicKeyPem == "" {
		return "", fmt.Errorf("signer %s has no public key", signerURI)
	}

	if _, err := VerifyRequest(req, publicKeyPem); err != nil {
		// A signature made with a rotated key verifies against the
		// refreshed document; refresh once before giving up.
		refreshed, rerr := w.resolver.Refresh(signerURI)
		if rerr != nil || refreshed.ApPublicKeyPem == "" || refreshed.ApPublicKeyPem == publicKeyPem {
			return "", fmt.Errorf("signature verification failed: %w", err)
		}
		if _, err := VerifyRequest(req, refreshed.ApPublicKeyPem); err != nil {
			return "", fmt.Errorf("signature verification failed: %w", err)
		}
	}
	return signerURI, nil
}

// reconstructRequest rebuilds the signed POST from the stored headers
// so the signature can be checked off the hot path.
func (w *InboxWorker) reconstructRequest(item *domain.InboxQueueItem) (*http.Request, error) {
	url := fmt.Sprintf("https://%s%s", w.conf.Conf.Domain, item.Path)
	req, err := http.NewRequest("POST", url, bytes.NewReader([]byte(item.Body)))
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct request: %w", err)
	}
	req.Header.Set("Host", w.conf.Conf.Domain)
	req.Host = w.conf.Conf.Domain
	req.Header.Set("Signature", item.Signature)
	if item.Digest != "" {
		req.Header.Set("Digest", item.Digest)
	}
	if item.Date != "" {
		req.Header.Set("Date", item.Date)
	}
	return req, nil
}
