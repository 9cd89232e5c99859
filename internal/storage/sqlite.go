package storage

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/forever-august/renews/internal/wire"
)

const schemaVersion = 1

const (
	sqliteMessagesTable = `CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		headers TEXT,
		body TEXT,
		size INTEGER NOT NULL
	)`
	sqliteGroupArticlesTable = `CREATE TABLE IF NOT EXISTS group_articles (
		group_name TEXT,
		number INTEGER,
		message_id TEXT,
		inserted_at INTEGER NOT NULL,
		PRIMARY KEY(group_name, number),
		FOREIGN KEY(message_id) REFERENCES messages(message_id)
	)`
	sqliteGroupsTable = `CREATE TABLE IF NOT EXISTS groups (
		name TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		moderated INTEGER NOT NULL DEFAULT 0
	)`
	sqliteSchemaVersionTable = `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`
)

// SqliteStorage is a Storage backend on top of database/sql + go-sqlite3,
// grounded on the teacher's internal/database package: WAL mode, a retry
// wrapper around "database is locked" contention (retry.go, adapted from
// sqlite_retry.go), and an idempotent migration step run at open time
// (migrate, adapted from db_migrate.go/db_init.go).
type SqliteStorage struct {
	db *sql.DB

	mu       sync.Mutex
	groupMus map[string]*sync.Mutex
}

// OpenSqlite opens (creating if absent) a SQLite-backed Storage at path,
// running its migration.
func OpenSqlite(ctx context.Context, path string) (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer, matching WAL + retry-wrapper strategy
	s := &SqliteStorage{db: db, groupMus: make(map[string]*sync.Mutex)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqliteStorage) migrate(ctx context.Context) error {
	for _, stmt := range []string{sqliteMessagesTable, sqliteGroupArticlesTable, sqliteGroupsTable, sqliteSchemaVersionTable} {
		if _, err := retryExecContext(ctx, s.db, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return fmt.Errorf("storage: migrate: check schema_version: %w", err)
	}
	if count == 0 {
		if _, err := retryExecContext(ctx, s.db, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("storage: migrate: seed schema_version: %w", err)
		}
		log.Printf("[STORAGE] sqlite schema initialized at version %d", schemaVersion)
	}
	return nil
}

func (s *SqliteStorage) groupLock(group string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.groupMus[group]
	if !ok {
		m = &sync.Mutex{}
		s.groupMus[group] = m
	}
	return m
}

func (s *SqliteStorage) StoreArticle(ctx context.Context, article wire.Message) (int64, error) {
	id, ok := messageID(article)
	if !ok {
		return 0, fmt.Errorf("storage: %w", ErrNoHeaders)
	}
	groups := newsgroups(article)
	if len(groups) == 0 {
		return 0, fmt.Errorf("storage: %w", ErrNoHeaders)
	}

	var existing []string
	for _, g := range groups {
		var name string
		if err := s.db.QueryRowContext(ctx, "SELECT name FROM groups WHERE name = ?", g).Scan(&name); err == nil {
			existing = append(existing, g)
		} else if err != sql.ErrNoRows {
			return 0, fmt.Errorf("storage: check group %q: %w", g, err)
		}
	}
	if len(existing) == 0 {
		return 0, fmt.Errorf("storage: store_article: %w", ErrNoSuchGroup)
	}

	body := article.Body
	headers := encodeHeaders(article.Headers)
	size := int64(len(body))

	if _, err := retryExecContext(ctx, s.db,
		"INSERT OR IGNORE INTO messages (message_id, headers, body, size) VALUES (?, ?, ?, ?)",
		id, headers, body, size); err != nil {
		return 0, fmt.Errorf("storage: insert message: %w", err)
	}

	var firstNumber int64
	now := time.Now().Unix()
	for i, g := range existing {
		lock := s.groupLock(g)
		lock.Lock()
		number, err := s.nextNumberLocked(ctx, g)
		if err == nil {
			_, err = retryExecContext(ctx, s.db,
				"INSERT OR IGNORE INTO group_articles (group_name, number, message_id, inserted_at) VALUES (?, ?, ?, ?)",
				g, number, id, now)
		}
		lock.Unlock()
		if err != nil {
			return 0, fmt.Errorf("storage: insert membership in %q: %w", g, err)
		}
		if i == 0 {
			firstNumber = number
		}
	}
	return firstNumber, nil
}

// nextNumberLocked computes max(number)+1 for group. Caller must hold the
// group's lock.
func (s *SqliteStorage) nextNumberLocked(ctx context.Context, group string) (int64, error) {
	var maxNumber sql.NullInt64
	if err := retryQueryRowScanContext(ctx, s.db,
		"SELECT MAX(number) FROM group_articles WHERE group_name = ?", []any{group}, &maxNumber); err != nil {
		return 0, err
	}
	if !maxNumber.Valid {
		return 1, nil
	}
	return maxNumber.Int64 + 1, nil
}

func (s *SqliteStorage) GetArticleByNumber(ctx context.Context, group string, number int64) (wire.Message, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT message_id FROM group_articles WHERE group_name = ? AND number = ?", group, number).Scan(&id)
	if err == sql.ErrNoRows {
		return wire.Message{}, false, nil
	}
	if err != nil {
		return wire.Message{}, false, fmt.Errorf("storage: get article by number: %w", err)
	}
	return s.GetArticleByID(ctx, id)
}

func (s *SqliteStorage) GetArticleByID(ctx context.Context, messageID string) (wire.Message, bool, error) {
	var headers, body string
	err := s.db.QueryRowContext(ctx,
		"SELECT headers, body FROM messages WHERE message_id = ?", messageID).Scan(&headers, &body)
	if err == sql.ErrNoRows {
		return wire.Message{}, false, nil
	}
	if err != nil {
		return wire.Message{}, false, fmt.Errorf("storage: get article by id: %w", err)
	}
	return wire.Message{Headers: decodeHeaders(headers), Body: body}, true, nil
}

func (s *SqliteStorage) AddGroup(ctx context.Context, group string, moderated bool) error {
	_, err := retryExecContext(ctx, s.db,
		`INSERT INTO groups (name, created_at, moderated) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET moderated = excluded.moderated`,
		group, time.Now().Unix(), boolToInt(moderated))
	if err != nil {
		return fmt.Errorf("storage: add group %q: %w", group, err)
	}
	return nil
}

func (s *SqliteStorage) RemoveGroup(ctx context.Context, group string) error {
	return retryTxContext(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM group_articles WHERE group_name = ?", group); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM groups WHERE name = ?", group)
		return err
	})
}

func (s *SqliteStorage) ListGroups(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rows, err := s.db.QueryContext(ctx, "SELECT name FROM groups ORDER BY name")
		if err != nil {
			yield("", fmt.Errorf("storage: list groups: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				yield("", err)
				return
			}
			if !yield(name, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", err)
		}
	}
}

func (s *SqliteStorage) ListGroupsSince(ctx context.Context, since time.Time) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rows, err := s.db.QueryContext(ctx, "SELECT name FROM groups WHERE created_at > ? ORDER BY created_at", since.Unix())
		if err != nil {
			yield("", fmt.Errorf("storage: list groups since: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				yield("", err)
				return
			}
			if !yield(name, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", err)
		}
	}
}

func (s *SqliteStorage) ListGroupsWithTimes(ctx context.Context) iter.Seq2[GroupTime, error] {
	return func(yield func(GroupTime, error) bool) {
		rows, err := s.db.QueryContext(ctx, "SELECT name, created_at FROM groups ORDER BY name")
		if err != nil {
			yield(GroupTime{}, fmt.Errorf("storage: list groups with times: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			var createdAt int64
			if err := rows.Scan(&name, &createdAt); err != nil {
				yield(GroupTime{}, err)
				return
			}
			if !yield(GroupTime{Name: name, CreatedAt: time.Unix(createdAt, 0).UTC()}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(GroupTime{}, err)
		}
	}
}

func (s *SqliteStorage) ListArticleNumbers(ctx context.Context, group string) iter.Seq2[int64, error] {
	return func(yield func(int64, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			"SELECT number FROM group_articles WHERE group_name = ? ORDER BY number", group)
		if err != nil {
			yield(0, fmt.Errorf("storage: list article numbers: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var n int64
			if err := rows.Scan(&n); err != nil {
				yield(0, err)
				return
			}
			if !yield(n, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(0, err)
		}
	}
}

func (s *SqliteStorage) ListArticleIDs(ctx context.Context, group string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			"SELECT message_id FROM group_articles WHERE group_name = ? ORDER BY number", group)
		if err != nil {
			yield("", fmt.Errorf("storage: list article ids: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				yield("", err)
				return
			}
			if !yield(id, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", err)
		}
	}
}

func (s *SqliteStorage) ListArticleIDsSince(ctx context.Context, group string, since time.Time) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			"SELECT message_id FROM group_articles WHERE group_name = ? AND inserted_at > ? ORDER BY number",
			group, since.Unix())
		if err != nil {
			yield("", fmt.Errorf("storage: list article ids since: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				yield("", err)
				return
			}
			if !yield(id, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", err)
		}
	}
}

func (s *SqliteStorage) PurgeGroupBefore(ctx context.Context, group string, before time.Time) error {
	lock := s.groupLock(group)
	lock.Lock()
	defer lock.Unlock()
	_, err := retryExecContext(ctx, s.db,
		"DELETE FROM group_articles WHERE group_name = ? AND inserted_at < ?", group, before.Unix())
	if err != nil {
		return fmt.Errorf("storage: purge group %q: %w", group, err)
	}
	return nil
}

func (s *SqliteStorage) PurgeOrphanMessages(ctx context.Context) error {
	_, err := retryExecContext(ctx, s.db,
		"DELETE FROM messages WHERE message_id NOT IN (SELECT DISTINCT message_id FROM group_articles)")
	if err != nil {
		return fmt.Errorf("storage: purge orphan messages: %w", err)
	}
	return nil
}

func (s *SqliteStorage) GetMessageSize(ctx context.Context, messageID string) (int64, bool, error) {
	var size int64
	err := s.db.QueryRowContext(ctx, "SELECT size FROM messages WHERE message_id = ?", messageID).Scan(&size)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage: get message size: %w", err)
	}
	return size, true, nil
}

func (s *SqliteStorage) DeleteArticleByID(ctx context.Context, messageID string) error {
	return retryTxContext(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM group_articles WHERE message_id = ?", messageID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE message_id = ?", messageID)
		return err
	})
}

func (s *SqliteStorage) IsGroupModerated(ctx context.Context, group string) (bool, error) {
	var moderated int
	err := s.db.QueryRowContext(ctx, "SELECT moderated FROM groups WHERE name = ?", group).Scan(&moderated)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("storage: is group moderated: %w", ErrNoSuchGroup)
	}
	if err != nil {
		return false, fmt.Errorf("storage: is group moderated: %w", err)
	}
	return moderated != 0, nil
}

func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
