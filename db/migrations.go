package db

import (
	"database/sql"
	"log"
)

const (
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		type TEXT NOT NULL,
		summary TEXT DEFAULT '',
		public_key_pem TEXT DEFAULT '',
		private_key_pem TEXT DEFAULT '',
		old_private_key_pem TEXT DEFAULT '',
		ap_id TEXT DEFAULT '',
		ap_profile_id TEXT DEFAULT '',
		ap_inbox_url TEXT DEFAULT '',
		ap_shared_inbox_url TEXT DEFAULT '',
		ap_followers_url TEXT DEFAULT '',
		ap_public_key_pem TEXT DEFAULT '',
		ap_fetched_at TIMESTAMP,
		ap_timeout_at TIMESTAMP,
		ap_deleted_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, domain)
	)`

	sqlCreateActorsIndices = `
		CREATE INDEX IF NOT EXISTS idx_actors_ap_profile_id ON actors(ap_profile_id);
		CREATE INDEX IF NOT EXISTS idx_actors_domain ON actors(domain);
	`

	sqlCreateContentsTable = `CREATE TABLE IF NOT EXISTS contents (
		id TEXT NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL,
		author_id TEXT NOT NULL,
		magazine_id TEXT DEFAULT '',
		title TEXT DEFAULT '',
		url TEXT DEFAULT '',
		body TEXT DEFAULT '',
		ap_id TEXT DEFAULT '',
		parent_uri TEXT DEFAULT '',
		up_votes INTEGER DEFAULT 0,
		down_votes INTEGER DEFAULT 0,
		shares INTEGER DEFAULT 0,
		ap_like_count INTEGER,
		ap_dislike_count INTEGER,
		ap_share_count INTEGER,
		is_locked INTEGER DEFAULT 0,
		is_pinned INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP,
		deleted_at TIMESTAMP
	)`

	sqlCreateContentsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_contents_ap_id ON contents(ap_id) WHERE ap_id != '';
		CREATE INDEX IF NOT EXISTS idx_contents_magazine ON contents(magazine_id, kind);
		CREATE INDEX IF NOT EXISTS idx_contents_author ON contents(author_id);
		CREATE INDEX IF NOT EXISTS idx_contents_created_at ON contents(created_at DESC);
	`

	sqlCreateVotesTable = `CREATE TABLE IF NOT EXISTS votes (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		content_id TEXT NOT NULL,
		choice INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(actor_id, content_id)
	)`

	sqlCreateVotesIndices = `
		CREATE INDEX IF NOT EXISTS idx_votes_content_id ON votes(content_id);
	`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		uri TEXT DEFAULT '',
		accepted INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_actor_id ON follows(actor_id);
		CREATE INDEX IF NOT EXISTS idx_follows_target_id ON follows(target_id);
		CREATE INDEX IF NOT EXISTS idx_follows_uri ON follows(uri);
	`

	sqlCreateModeratorsTable = `CREATE TABLE IF NOT EXISTS moderators (
		id TEXT NOT NULL PRIMARY KEY,
		magazine_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(magazine_id, actor_id)
	)`

	sqlCreateReportsTable = `CREATE TABLE IF NOT EXISTS reports (
		id TEXT NOT NULL PRIMARY KEY,
		actor_uri TEXT NOT NULL,
		object_uri TEXT NOT NULL,
		content TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateBlocksTable = `CREATE TABLE IF NOT EXISTS blocks (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(actor_id, target_id)
	)`

	sqlCreateSeenActivitiesTable = `CREATE TABLE IF NOT EXISTS seen_activities (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		type TEXT NOT NULL,
		actor_uri TEXT DEFAULT '',
		object_uri TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`

	sqlCreateInboxQueueTable = `CREATE TABLE IF NOT EXISTS inbox_queue (
		id TEXT NOT NULL PRIMARY KEY,
		body TEXT NOT NULL,
		source_host TEXT DEFAULT '',
		request_path TEXT DEFAULT '',
		sig_header TEXT DEFAULT '',
		digest_header TEXT DEFAULT '',
		date_header TEXT DEFAULT '',
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateInboxQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_inbox_queue_next_retry ON inbox_queue(next_retry_at);
	`

	sqlCreateDeadLettersTable = `CREATE TABLE IF NOT EXISTS dead_letters (
		id TEXT NOT NULL PRIMARY KEY,
		queue TEXT NOT NULL,
		payload TEXT NOT NULL,
		reason TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateLocksTable = `CREATE TABLE IF NOT EXISTS locks (
		key TEXT NOT NULL PRIMARY KEY,
		expires_at TIMESTAMP NOT NULL
	)`
)

// RunMigrations creates the schema. Every statement is idempotent.
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			sql  string
		}{
			{"actors", sqlCreateActorsTable},
			{"contents", sqlCreateContentsTable},
			{"votes", sqlCreateVotesTable},
			{"follows", sqlCreateFollowsTable},
			{"moderators", sqlCreateModeratorsTable},
			{"reports", sqlCreateReportsTable},
			{"blocks", sqlCreateBlocksTable},
			{"seen_activities", sqlCreateSeenActivitiesTable},
			{"delivery_queue", sqlCreateDeliveryQueueTable},
			{"inbox_queue", sqlCreateInboxQueueTable},
			{"dead_letters", sqlCreateDeadLettersTable},
			{"locks", sqlCreateLocksTable},
		}

		for _, t := range tables {
			if _, err := tx.Exec(t.sql); err != nil {
				log.Printf("Error creating table %s: %v", t.name, err)
				return err
			}
		}

		indices := []string{
			sqlCreateActorsIndices,
			sqlCreateContentsIndices,
			sqlCreateVotesIndices,
			sqlCreateFollowsIndices,
			sqlCreateDeliveryQueueIndices,
			sqlCreateInboxQueueIndices,
		}
		for _, idx := range indices {
			if _, err := tx.Exec(idx); err != nil {
				log.Printf("Warning: Failed to create indices: %v", err)
			}
		}

		return nil
	})
}
