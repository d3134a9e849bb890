package db

import (
	"database/sql"
	"time"

	"github.com/dkroell/mazine/domain"
	"github.com/google/uuid"
)

// Delivery queue queries
const (
	sqlInsertDelivery         = `INSERT INTO delivery_queue(id, inbox_uri, activity_json, sender_id, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectDueDeliveries    = `SELECT id, inbox_uri, activity_json, sender_id, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt  = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery         = `DELETE FROM delivery_queue WHERE id = ?`
	sqlDeleteDeliveriesToHost = `DELETE FROM delivery_queue WHERE inbox_uri LIKE ?`
)

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDelivery,
			item.Id.String(), item.InboxURI, item.ActivityJSON, item.SenderId.String(),
			item.Attempts, item.NextRetryAt, item.CreatedAt)
		return err
	})
}

func (db *DB) ReadDueDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	rows, err := db.db.Query(sqlSelectDueDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr, senderStr string
		if err := rows.Scan(&idStr, &item.InboxURI, &item.ActivityJSON, &senderStr, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return err, &items
		}
		item.Id, _ = uuid.Parse(idStr)
		item.SenderId, _ = uuid.Parse(senderStr)
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}

// CancelDeliveriesToHost drops every queued job aimed at a host, used
// when an instance is blocked or defederated.
func (db *DB) CancelDeliveriesToHost(host string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDeliveriesToHost, "https://"+host+"/%")
		return err
	})
}

// Inbox queue queries
const (
	sqlInsertInboxItem       = `INSERT INTO inbox_queue(id, body, source_host, request_path, sig_header, digest_header, date_header, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectDueInboxItems   = `SELECT id, body, source_host, request_path, sig_header, digest_header, date_header, attempts, next_retry_at, created_at FROM inbox_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateInboxAttempt    = `UPDATE inbox_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteInboxItem       = `DELETE FROM inbox_queue WHERE id = ?`
)

func (db *DB) EnqueueInboxItem(item *domain.InboxQueueItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertInboxItem,
			item.Id.String(), item.Body, item.SourceHost, item.Path, item.Signature, item.Digest, item.Date,
			item.Attempts, item.NextRetryAt, item.CreatedAt)
		return err
	})
}

func (db *DB) ReadDueInboxItems(limit int) (error, *[]domain.InboxQueueItem) {
	rows, err := db.db.Query(sqlSelectDueInboxItems, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.InboxQueueItem
	for rows.Next() {
		var item domain.InboxQueueItem
		var idStr string
		if err := rows.Scan(&idStr, &item.Body, &item.SourceHost, &item.Path, &item.Signature, &item.Digest, &item.Date, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return err, &items
		}
		item.Id, _ = uuid.Parse(idStr)
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

func (db *DB) UpdateInboxAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateInboxAttempt, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteInboxItem(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteInboxItem, id.String())
		return err
	})
}

// Dead letter queries
const (
	sqlInsertDeadLetter = `INSERT INTO dead_letters(id, queue, payload, reason, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlCountDeadLetters = `SELECT COUNT(*) FROM dead_letters WHERE queue = ?`
)

func (db *DB) CreateDeadLetter(d *domain.DeadLetter) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeadLetter, d.Id.String(), d.Queue, d.Payload, d.Reason, d.CreatedAt)
		return err
	})
}

func (db *DB) CountDeadLetters(queue string) (error, int) {
	var n int
	err := db.db.QueryRow(sqlCountDeadLetters, queue).Scan(&n)
	return err, n
}

// Lock queries. Locks are best-effort refresh guards: try-acquire only,
// expired rows are reclaimable.
const (
	sqlInsertLock      = `INSERT INTO locks(key, expires_at) VALUES (?, ?)`
	sqlSelectLock      = `SELECT expires_at FROM locks WHERE key = ?`
	sqlUpdateStaleLock = `UPDATE locks SET expires_at = ? WHERE key = ? AND expires_at <= ?`
	sqlDeleteLock      = `DELETE FROM locks WHERE key = ?`
)

// TryAcquireLock acquires the named lock for ttl if it is free or
// expired. Returns false without blocking when another worker holds it.
func (db *DB) TryAcquireLock(key string, ttl time.Duration) (error, bool) {
	now := time.Now()
	expires := now.Add(ttl)

	var current time.Time
	err := db.db.QueryRow(sqlSelectLock, key).Scan(&current)
	if err == sql.ErrNoRows {
		err = db.wrapTransaction(func(tx *sql.Tx) error {
			_, err := tx.Exec(sqlInsertLock, key, expires)
			return err
		})
		if err != nil {
			// Lost the race to another worker.
			return nil, false
		}
		return nil, true
	}
	if err != nil {
		return err, false
	}

	if current.After(now) {
		return nil, false
	}

	var claimed bool
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateStaleLock, expires, key, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		claimed = n > 0
		return err
	})
	return err, claimed
}

func (db *DB) ReleaseLock(key string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteLock, key)
		return err
	})
}
