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

// retryBackoffMinutes is the retry ladder for both queues; attempts
// past its end reuse the last rung.
var retryBackoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// DeliveryWorker drains the delivery queue: one signed POST per queue
// item, retried with backoff on transient failures, dead-lettered on
// permanent ones.
type DeliveryWorker struct {
	db     *db.DB
	conf   *util.AppConfig
	Client *http.Client
}

func NewDeliveryWorker(database *db.DB, conf *util.AppConfig) *DeliveryWorker {
	return &DeliveryWorker{
		db:     database,
		conf:   conf,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Start runs the worker loop until ctx is cancelled.
func (w *DeliveryWorker) Start(ctx context.Context) {
	log.Println("Starting delivery worker...")
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

// ProcessQueue handles one batch of due deliveries.
func (w *DeliveryWorker) ProcessQueue() {
	err, items := w.db.ReadDueDeliveries(50)
	if err != nil {
		log.Printf("DeliveryWorker: failed to read queue: %v", err)
		return
	}
	if items == nil || len(*items) == 0 {
		return
	}

	log.Printf("DeliveryWorker: processing %d pending deliveries", len(*items))
	for _, item := range *items {
		w.processItem(&item)
	}
}

func (w *DeliveryWorker) processItem(item *domain.DeliveryQueueItem) {
	err := w.deliver(item)
	if err == nil {
		log.Printf("DeliveryWorker: delivered to %s", item.InboxURI)
		w.db.DeleteDelivery(item.Id)
		return
	}

	var permErr *permanentDeliveryError
	if errors.As(err, &permErr) {
		log.Printf("DeliveryWorker: permanent failure to %s: %v", item.InboxURI, err)
		w.deadLetter(item, err.Error())
		return
	}

	item.Attempts++
	if item.Attempts >= w.conf.Conf.MaxDeliveryAttempts {
		log.Printf("DeliveryWorker: giving up on %s after %d attempts", item.InboxURI, item.Attempts)
		w.deadLetter(item, fmt.Sprintf("retries exhausted: %v", err))
		return
	}

	backoffMinutes := retryBackoffMinutes[min(item.Attempts-1, len(retryBackoffMinutes)-1)]
	item.NextRetryAt = time.Now().Add(time.Duration(backoffMinutes) * time.Minute)
	log.Printf("DeliveryWorker: delivery to %s failed (attempt %d), retry in %dm: %v",
		item.InboxURI, item.Attempts, backoffMinutes, err)
	w.db.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt)
}

func (w *DeliveryWorker) deadLetter(item *domain.DeliveryQueueItem, reason string) {
	w.db.CreateDeadLetter(&domain.DeadLetter{
		Id:        uuid.New(),
		Queue:     "delivery",
		Payload:   item.ActivityJSON,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
	w.db.DeleteDelivery(item.Id)
}

// permanentDeliveryError marks failures no retry can fix: the remote
// rejected the request itself, not our timing.
type permanentDeliveryError struct {
	reason string
}

func (e *permanentDeliveryError) Error() string {
	return e.reason
}

// deliver performs one signed POST. A 401 is retried once with the
// sender's previous key: during a rotation remote servers may still
// hold the old public key.
func (w *DeliveryWorker) deliver(item *domain.DeliveryQueueItem) error {
	err, sender := w.db.ReadActorById(item.SenderId)
	if err != nil || sender == nil {
		return &permanentDeliveryError{reason: fmt.Sprintf("sender %s not found", item.SenderId)}
	}

	status, err := w.post(item, sender, sender.PrivateKeyPem)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized && sender.OldPrivateKeyPem != "" {
		log.Printf("DeliveryWorker: %s rejected current key, retrying with previous key", item.InboxURI)
		status, err = w.post(item, sender, sender.OldPrivateKeyPem)
		if err != nil {
			return err
		}
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("remote server rate limited us (429)")
	case status >= 400 && status < 500:
		return &permanentDeliveryError{reason: fmt.Sprintf("remote server returned status %d", status)}
	default:
		return fmt.Errorf("remote server returned status %d", status)
	}
}

func (w *DeliveryWorker) post(item *domain.DeliveryQueueItem, sender *domain.Actor, privateKeyPem string) (int, error) {
	privateKey, err := ParsePrivateKey(privateKeyPem)
	if err != nil {
		return 0, &permanentDeliveryError{reason: fmt.Sprintf("unusable private key for %s: %v", sender.Username, err)}
	}

	body := []byte(item.ActivityJSON)
	req, err := http.NewRequest("POST", item.InboxURI, bytes.NewReader(body))
	if err != nil {
		return 0, &permanentDeliveryError{reason: fmt.Sprintf("invalid inbox uri %s: %v", item.InboxURI, err)}
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", "mazine/1.0 ActivityPub")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	keyID := LocalActorURI(w.conf, sender) + "#main-key"
	if err := SignRequest(req, privateKey, keyID, body); err != nil {
		return 0, fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
