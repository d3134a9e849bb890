package db

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/dkroell/mazine/domain"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and applies the
// connection pragmas for a concurrent federation workload.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	db := &DB{db: sqlDB}
	if err := db.RunMigrations(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// Actor queries
const (
	sqlInsertActor = `INSERT INTO actors(id, username, domain, type, summary, public_key_pem, private_key_pem, old_private_key_pem,
						ap_id, ap_profile_id, ap_inbox_url, ap_shared_inbox_url, ap_followers_url, ap_public_key_pem,
						ap_fetched_at, ap_timeout_at, ap_deleted_at, created_at)
					  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActor = `SELECT id, username, domain, type, summary, public_key_pem, private_key_pem, old_private_key_pem,
						ap_id, ap_profile_id, ap_inbox_url, ap_shared_inbox_url, ap_followers_url, ap_public_key_pem,
						ap_fetched_at, ap_timeout_at, ap_deleted_at, created_at FROM actors`
	sqlSelectActorById        = sqlSelectActor + ` WHERE id = ?`
	sqlSelectActorByProfileId = sqlSelectActor + ` WHERE ap_profile_id = ?`
	sqlSelectActorByUsername  = sqlSelectActor + ` WHERE username = ? AND ap_id = ''`
	sqlSelectLocalMagazine    = sqlSelectActor + ` WHERE username = ? AND type = 'Group' AND ap_id = ''`
	sqlUpdateActorRemote      = `UPDATE actors SET summary = ?, ap_inbox_url = ?, ap_shared_inbox_url = ?, ap_followers_url = ?,
						ap_public_key_pem = ?, ap_fetched_at = ?, ap_timeout_at = ? WHERE ap_profile_id = ?`
	sqlUpdateActorTimeout = `UPDATE actors SET ap_timeout_at = ? WHERE ap_profile_id = ?`
	sqlUpdateActorKeys    = `UPDATE actors SET public_key_pem = ?, private_key_pem = ?, old_private_key_pem = ? WHERE id = ?`
	sqlUpdateActorDeleted = `UPDATE actors SET ap_deleted_at = ? WHERE id = ?`
)

func (db *DB) CreateActor(a *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActor,
			a.Id.String(), a.Username, a.Domain, string(a.Type), a.Summary,
			a.PublicKeyPem, a.PrivateKeyPem, a.OldPrivateKeyPem,
			a.ApID, a.ApProfileID, a.ApInboxURL, a.ApSharedInboxURL, a.ApFollowersURL, a.ApPublicKeyPem,
			a.ApFetchedAt, a.ApTimeoutAt, a.ApDeletedAt, a.CreatedAt,
		)
		return err
	})
}

func scanActor(row interface{ Scan(...any) error }) (error, *domain.Actor) {
	var a domain.Actor
	var idStr, typeStr string
	err := row.Scan(&idStr, &a.Username, &a.Domain, &typeStr, &a.Summary,
		&a.PublicKeyPem, &a.PrivateKeyPem, &a.OldPrivateKeyPem,
		&a.ApID, &a.ApProfileID, &a.ApInboxURL, &a.ApSharedInboxURL, &a.ApFollowersURL, &a.ApPublicKeyPem,
		&a.ApFetchedAt, &a.ApTimeoutAt, &a.ApDeletedAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	a.Id, _ = uuid.Parse(idStr)
	a.Type = domain.ActorType(typeStr)
	return nil, &a
}

func (db *DB) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorById, id.String()))
}

func (db *DB) ReadActorByProfileId(profileId string) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorByProfileId, profileId))
}

func (db *DB) ReadLocalActorByUsername(username string) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorByUsername, username))
}

func (db *DB) ReadLocalMagazine(name string) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectLocalMagazine, name))
}

// UpdateRemoteActor refreshes the cached fields of a remote actor after
// a successful profile fetch.
func (db *DB) UpdateRemoteActor(a *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActorRemote,
			a.Summary, a.ApInboxURL, a.ApSharedInboxURL, a.ApFollowersURL,
			a.ApPublicKeyPem, a.ApFetchedAt, a.ApTimeoutAt, a.ApProfileID)
		return err
	})
}

func (db *DB) UpdateActorTimeout(profileId string, timeoutAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActorTimeout, timeoutAt, profileId)
		return err
	})
}

// RotateActorKeys swaps in a fresh key pair, keeping the previous
// private key around for in-flight deliveries.
func (db *DB) RotateActorKeys(id uuid.UUID, publicPem, privatePem, oldPrivatePem string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActorKeys, publicPem, privatePem, oldPrivatePem, id.String())
		return err
	})
}

// MarkActorDeleted soft-deletes; actors are never removed.
func (db *DB) MarkActorDeleted(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActorDeleted, time.Now(), id.String())
		return err
	})
}

// DeleteActorAccount soft-deletes the actor and drops its follow edges
// in the same transaction, so a crash cannot leave follows pointing at
// a deleted account.
func (db *DB) DeleteActorAccount(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeleteFollowsForActor, id.String(), id.String()); err != nil {
			return err
		}
		_, err := tx.Exec(sqlUpdateActorDeleted, time.Now(), id.String())
		return err
	})
}

// Content queries
const (
	sqlInsertContent = `INSERT INTO contents(id, kind, author_id, magazine_id, title, url, body, ap_id, parent_uri,
						up_votes, down_votes, shares, ap_like_count, ap_dislike_count, ap_share_count,
						is_locked, is_pinned, created_at, edited_at, deleted_at)
					  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectContent = `SELECT id, kind, author_id, magazine_id, title, url, body, ap_id, parent_uri,
						up_votes, down_votes, shares, ap_like_count, ap_dislike_count, ap_share_count,
						is_locked, is_pinned, created_at, edited_at, deleted_at FROM contents`
	sqlSelectContentById       = sqlSelectContent + ` WHERE id = ?`
	sqlSelectContentByApId     = sqlSelectContent + ` WHERE ap_id = ?`
	sqlSelectContentByMagazine = sqlSelectContent + ` WHERE magazine_id = ? AND kind = 'entry' AND deleted_at IS NULL ORDER BY created_at DESC LIMIT ?`
	sqlSelectContentByAuthor   = sqlSelectContent + ` WHERE author_id = ? AND deleted_at IS NULL ORDER BY created_at DESC LIMIT ? OFFSET ?`
	sqlCountContentByAuthor    = `SELECT COUNT(*) FROM contents WHERE author_id = ? AND deleted_at IS NULL`
	sqlUpdateContentBody       = `UPDATE contents SET title = ?, url = ?, body = ?, edited_at = ? WHERE id = ?`
	sqlUpdateContentCounters   = `UPDATE contents SET ap_like_count = ?, ap_dislike_count = ?, ap_share_count = ? WHERE id = ?`
	sqlUpdateContentVotes      = `UPDATE contents SET up_votes = ?, down_votes = ? WHERE id = ?`
	sqlUpdateContentShares     = `UPDATE contents SET shares = shares + ? WHERE id = ?`
	sqlUpdateContentLocked     = `UPDATE contents SET is_locked = ? WHERE id = ?`
	sqlUpdateContentPinned     = `UPDATE contents SET is_pinned = ? WHERE id = ?`
	sqlUpdateContentDeleted    = `UPDATE contents SET deleted_at = ?, body = '', title = '' WHERE id = ?`
)

func (db *DB) CreateContent(c *domain.Content) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertContent,
			c.Id.String(), string(c.Kind), c.AuthorId.String(), c.MagazineId.String(),
			c.Title, c.URL, c.Body, c.ApID, c.ParentURI,
			c.UpVotes, c.DownVotes, c.Shares, c.ApLikeCount, c.ApDislikeCount, c.ApShareCount,
			c.IsLocked, c.IsPinned, c.CreatedAt, c.EditedAt, c.DeletedAt,
		)
		return err
	})
}

func scanContent(row interface{ Scan(...any) error }) (error, *domain.Content) {
	var c domain.Content
	var idStr, kindStr, authorStr, magStr string
	err := row.Scan(&idStr, &kindStr, &authorStr, &magStr,
		&c.Title, &c.URL, &c.Body, &c.ApID, &c.ParentURI,
		&c.UpVotes, &c.DownVotes, &c.Shares, &c.ApLikeCount, &c.ApDislikeCount, &c.ApShareCount,
		&c.IsLocked, &c.IsPinned, &c.CreatedAt, &c.EditedAt, &c.DeletedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	c.Id, _ = uuid.Parse(idStr)
	c.Kind = domain.ContentKind(kindStr)
	c.AuthorId, _ = uuid.Parse(authorStr)
	c.MagazineId, _ = uuid.Parse(magStr)
	return nil, &c
}

func (db *DB) ReadContentById(id uuid.UUID) (error, *domain.Content) {
	return scanContent(db.db.QueryRow(sqlSelectContentById, id.String()))
}

func (db *DB) ReadContentByApId(apId string) (error, *domain.Content) {
	return scanContent(db.db.QueryRow(sqlSelectContentByApId, apId))
}

func (db *DB) readContentRows(query string, args ...any) (error, *[]domain.Content) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.Content
	for rows.Next() {
		err, c := scanContent(rows)
		if err != nil {
			return err, &items
		}
		items = append(items, *c)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

func (db *DB) ReadEntriesByMagazine(magazineId uuid.UUID, limit int) (error, *[]domain.Content) {
	return db.readContentRows(sqlSelectContentByMagazine, magazineId.String(), limit)
}

func (db *DB) ReadContentByAuthor(authorId uuid.UUID, limit, offset int) (error, *[]domain.Content) {
	return db.readContentRows(sqlSelectContentByAuthor, authorId.String(), limit, offset)
}

func (db *DB) CountContentByAuthor(authorId uuid.UUID) (error, int) {
	var n int
	err := db.db.QueryRow(sqlCountContentByAuthor, authorId.String()).Scan(&n)
	return err, n
}

func (db *DB) UpdateContentBody(c *domain.Content) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateContentBody, c.Title, c.URL, c.Body, c.EditedAt, c.Id.String())
		return err
	})
}

func (db *DB) UpdateContentCounters(c *domain.Content) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateContentCounters, c.ApLikeCount, c.ApDislikeCount, c.ApShareCount, c.Id.String())
		return err
	})
}

func (db *DB) IncrementContentShares(id uuid.UUID, delta int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateContentShares, delta, id.String())
		return err
	})
}

func (db *DB) UpdateContentLocked(id uuid.UUID, locked bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateContentLocked, locked, id.String())
		return err
	})
}

func (db *DB) UpdateContentPinned(id uuid.UUID, pinned bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateContentPinned, pinned, id.String())
		return err
	})
}

// MarkContentDeleted tombstones the object: the row stays for
// idempotent re-deletes and dedup, the body is cleared.
func (db *DB) MarkContentDeleted(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateContentDeleted, time.Now(), id.String())
		return err
	})
}

// Vote queries
const (
	sqlUpsertVote = `INSERT INTO votes(id, actor_id, content_id, choice, created_at) VALUES (?, ?, ?, ?, ?)
					ON CONFLICT(actor_id, content_id) DO UPDATE SET choice = excluded.choice`
	sqlSelectVote = `SELECT id, actor_id, content_id, choice, created_at FROM votes WHERE actor_id = ? AND content_id = ?`
	sqlDeleteVote = `DELETE FROM votes WHERE actor_id = ? AND content_id = ?`
	sqlCountVotes = `SELECT COUNT(*) FROM votes WHERE content_id = ? AND choice = ?`
)

// UpsertVote records a vote keyed on (actor, content): a duplicate Like
// collapses, a Dislike replaces a Like. The content tallies are
// recomputed in the same transaction.
func (db *DB) UpsertVote(v *domain.Vote) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlUpsertVote, v.Id.String(), v.ActorId.String(), v.ContentId.String(), int(v.Choice), v.CreatedAt); err != nil {
			return err
		}
		return db.recountVotes(tx, v.ContentId)
	})
}

func (db *DB) DeleteVote(actorId, contentId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeleteVote, actorId.String(), contentId.String()); err != nil {
			return err
		}
		return db.recountVotes(tx, contentId)
	})
}

func (db *DB) recountVotes(tx *sql.Tx, contentId uuid.UUID) error {
	var up, down int
	if err := tx.QueryRow(sqlCountVotes, contentId.String(), int(domain.VoteUp)).Scan(&up); err != nil {
		return err
	}
	if err := tx.QueryRow(sqlCountVotes, contentId.String(), int(domain.VoteDown)).Scan(&down); err != nil {
		return err
	}
	_, err := tx.Exec(sqlUpdateContentVotes, up, down, contentId.String())
	return err
}

func (db *DB) ReadVote(actorId, contentId uuid.UUID) (error, *domain.Vote) {
	row := db.db.QueryRow(sqlSelectVote, actorId.String(), contentId.String())
	var v domain.Vote
	var idStr, actorStr, contentStr string
	var choice int
	err := row.Scan(&idStr, &actorStr, &contentStr, &choice, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	v.Id, _ = uuid.Parse(idStr)
	v.ActorId, _ = uuid.Parse(actorStr)
	v.ContentId, _ = uuid.Parse(contentStr)
	v.Choice = domain.VoteChoice(choice)
	return nil, &v
}

// Follow queries
const (
	sqlInsertFollow          = `INSERT INTO follows(id, actor_id, target_id, uri, accepted, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectFollowByURI     = `SELECT id, actor_id, target_id, uri, accepted, created_at FROM follows WHERE uri = ?`
	sqlSelectFollowByPair    = `SELECT id, actor_id, target_id, uri, accepted, created_at FROM follows WHERE actor_id = ? AND target_id = ?`
	sqlSelectFollowersOf     = `SELECT id, actor_id, target_id, uri, accepted, created_at FROM follows WHERE target_id = ? AND accepted = 1`
	sqlCountFollowersOf      = `SELECT COUNT(*) FROM follows WHERE target_id = ? AND accepted = 1`
	sqlDeleteFollowByURI     = `DELETE FROM follows WHERE uri = ?`
	sqlDeleteFollowsForActor = `DELETE FROM follows WHERE actor_id = ? OR target_id = ?`
	sqlAcceptFollowByURI     = `UPDATE follows SET accepted = 1 WHERE uri = ?`
)

func (db *DB) CreateFollow(f *domain.Follow) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow, f.Id.String(), f.ActorId.String(), f.TargetId.String(), f.URI, f.Accepted, f.CreatedAt)
		return err
	})
}

func scanFollow(row interface{ Scan(...any) error }) (error, *domain.Follow) {
	var f domain.Follow
	var idStr, actorStr, targetStr string
	err := row.Scan(&idStr, &actorStr, &targetStr, &f.URI, &f.Accepted, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	f.Id, _ = uuid.Parse(idStr)
	f.ActorId, _ = uuid.Parse(actorStr)
	f.TargetId, _ = uuid.Parse(targetStr)
	return nil, &f
}

func (db *DB) ReadFollowByURI(uri string) (error, *domain.Follow) {
	return scanFollow(db.db.QueryRow(sqlSelectFollowByURI, uri))
}

func (db *DB) ReadFollowByPair(actorId, targetId uuid.UUID) (error, *domain.Follow) {
	return scanFollow(db.db.QueryRow(sqlSelectFollowByPair, actorId.String(), targetId.String()))
}

// ReadFollowersOf returns accepted followers of a local actor.
func (db *DB) ReadFollowersOf(targetId uuid.UUID) (error, *[]domain.Follow) {
	rows, err := db.db.Query(sqlSelectFollowersOf, targetId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var followers []domain.Follow
	for rows.Next() {
		err, f := scanFollow(rows)
		if err != nil {
			return err, &followers
		}
		followers = append(followers, *f)
	}
	if err = rows.Err(); err != nil {
		return err, &followers
	}
	return nil, &followers
}

func (db *DB) CountFollowersOf(targetId uuid.UUID) (error, int) {
	var n int
	err := db.db.QueryRow(sqlCountFollowersOf, targetId.String()).Scan(&n)
	return err, n
}

func (db *DB) DeleteFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByURI, uri)
		return err
	})
}

func (db *DB) AcceptFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAcceptFollowByURI, uri)
		return err
	})
}

// Moderator queries
const (
	sqlInsertModerator = `INSERT OR IGNORE INTO moderators(id, magazine_id, actor_id, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectModerator = `SELECT COUNT(*) FROM moderators WHERE magazine_id = ? AND actor_id = ?`
	sqlDeleteModerator = `DELETE FROM moderators WHERE magazine_id = ? AND actor_id = ?`
)

func (db *DB) CreateModerator(m *domain.Moderator) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertModerator, m.Id.String(), m.MagazineId.String(), m.ActorId.String(), m.CreatedAt)
		return err
	})
}

func (db *DB) IsModerator(magazineId, actorId uuid.UUID) (error, bool) {
	var n int
	err := db.db.QueryRow(sqlSelectModerator, magazineId.String(), actorId.String()).Scan(&n)
	return err, n > 0
}

func (db *DB) DeleteModerator(magazineId, actorId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteModerator, magazineId.String(), actorId.String())
		return err
	})
}

// Report queries
const (
	sqlInsertReport = `INSERT INTO reports(id, actor_uri, object_uri, content, created_at) VALUES (?, ?, ?, ?, ?)`
)

func (db *DB) CreateReport(r *domain.Report) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertReport, r.Id.String(), r.ActorURI, r.ObjectURI, r.Content, r.CreatedAt)
		return err
	})
}

// Block queries
const (
	sqlInsertBlock = `INSERT OR IGNORE INTO blocks(id, actor_id, target_id, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectBlock = `SELECT COUNT(*) FROM blocks WHERE actor_id = ? AND target_id = ?`
	sqlDeleteBlock = `DELETE FROM blocks WHERE actor_id = ? AND target_id = ?`
)

func (db *DB) CreateBlock(b *domain.Block) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertBlock, b.Id.String(), b.ActorId.String(), b.TargetId.String(), b.CreatedAt)
		return err
	})
}

func (db *DB) IsBlocked(actorId, targetId uuid.UUID) (error, bool) {
	var n int
	err := db.db.QueryRow(sqlSelectBlock, actorId.String(), targetId.String()).Scan(&n)
	return err, n > 0
}

func (db *DB) DeleteBlock(actorId, targetId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteBlock, actorId.String(), targetId.String())
		return err
	})
}

// Seen-activity queries (idempotency log)
const (
	sqlInsertSeenActivity = `INSERT OR IGNORE INTO seen_activities(id, uri, type, actor_uri, object_uri, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectSeenActivity = `SELECT COUNT(*) FROM seen_activities WHERE uri = ?`
)

func (db *DB) RecordSeenActivity(s *domain.SeenActivity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertSeenActivity, s.Id.String(), s.URI, s.Type, s.ActorURI, s.ObjectURI, s.CreatedAt)
		return err
	})
}

func (db *DB) HasSeenActivity(uri string) (error, bool) {
	var n int
	err := db.db.QueryRow(sqlSelectSeenActivity, uri).Scan(&n)
	return err, n > 0
}
