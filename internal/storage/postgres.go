package storage

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/forever-august/renews/internal/wire"
)

const (
	postgresMessagesTable = `CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		headers TEXT,
		body TEXT,
		size BIGINT NOT NULL
	)`
	postgresGroupArticlesTable = `CREATE TABLE IF NOT EXISTS group_articles (
		group_name TEXT,
		number BIGINT,
		message_id TEXT,
		inserted_at BIGINT NOT NULL,
		PRIMARY KEY(group_name, number),
		FOREIGN KEY(message_id) REFERENCES messages(message_id)
	)`
	postgresGroupsTable = `CREATE TABLE IF NOT EXISTS groups (
		name TEXT PRIMARY KEY,
		created_at BIGINT NOT NULL,
		moderated BOOLEAN NOT NULL DEFAULT FALSE
	)`
	postgresSchemaVersionTable = `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`
)

// PostgresStorage is a Storage backend on top of database/sql + lib/pq,
// sharing schema and per-group numbering semantics with SqliteStorage but
// without the lock-retry wrapper, which is SQLite-specific contention
// handling that a real multi-writer Postgres server does not need.
type PostgresStorage struct {
	db *sql.DB

	mu       sync.Mutex
	groupMus map[string]*sync.Mutex
}

// OpenPostgres opens a Postgres-backed Storage at the given connection URI,
// running its idempotent migration.
func OpenPostgres(ctx context.Context, uri string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	s := &PostgresStorage{db: db, groupMus: make(map[string]*sync.Mutex)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStorage) migrate(ctx context.Context) error {
	for _, stmt := range []string{postgresMessagesTable, postgresGroupArticlesTable, postgresGroupsTable, postgresSchemaVersionTable} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return fmt.Errorf("storage: migrate: check schema_version: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES ($1)", schemaVersion); err != nil {
			return fmt.Errorf("storage: migrate: seed schema_version: %w", err)
		}
		log.Printf("[STORAGE] postgres schema initialized at version %d", schemaVersion)
	}
	return nil
}

func (s *PostgresStorage) groupLock(group string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.groupMus[group]
	if !ok {
		m = &sync.Mutex{}
		s.groupMus[group] = m
	}
	return m
}

func (s *PostgresStorage) StoreArticle(ctx context.Context, article wire.Message) (int64, error) {
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
		if err := s.db.QueryRowContext(ctx, "SELECT name FROM groups WHERE name = $1", g).Scan(&name); err == nil {
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

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (message_id, headers, body, size) VALUES ($1, $2, $3, $4) ON CONFLICT (message_id) DO NOTHING",
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
			_, err = s.db.ExecContext(ctx,
				"INSERT INTO group_articles (group_name, number, message_id, inserted_at) VALUES ($1, $2, $3, $4) ON CONFLICT (group_name, number) DO NOTHING",
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

func (s *PostgresStorage) nextNumberLocked(ctx context.Context, group string) (int64, error) {
	var maxNumber sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		"SELECT MAX(number) FROM group_articles WHERE group_name = $1", group).Scan(&maxNumber); err != nil {
		return 0, err
	}
	if !maxNumber.Valid {
		return 1, nil
	}
	return maxNumber.Int64 + 1, nil
}

func (s *PostgresStorage) GetArticleByNumber(ctx context.Context, group string, number int64) (wire.Message, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT message_id FROM group_articles WHERE group_name = $1 AND number = $2", group, number).Scan(&id)
	if err == sql.ErrNoRows {
		return wire.Message{}, false, nil
	}
	if err != nil {
		return wire.Message{}, false, fmt.Errorf("storage: get article by number: %w", err)
	}
	return s.GetArticleByID(ctx, id)
}

func (s *PostgresStorage) GetArticleByID(ctx context.Context, messageID string) (wire.Message, bool, error) {
	var headers, body string
	err := s.db.QueryRowContext(ctx,
		"SELECT headers, body FROM messages WHERE message_id = $1", messageID).Scan(&headers, &body)
	if err == sql.ErrNoRows {
		return wire.Message{}, false, nil
	}
	if err != nil {
		return wire.Message{}, false, fmt.Errorf("storage: get article by id: %w", err)
	}
	return wire.Message{Headers: decodeHeaders(headers), Body: body}, true, nil
}

func (s *PostgresStorage) AddGroup(ctx context.Context, group string, moderated bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (name, created_at, moderated) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET moderated = excluded.moderated`,
		group, time.Now().Unix(), moderated)
	if err != nil {
		return fmt.Errorf("storage: add group %q: %w", group, err)
	}
	return nil
}

func (s *PostgresStorage) RemoveGroup(ctx context.Context, group string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: remove group %q: %w", group, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM group_articles WHERE group_name = $1", group); err != nil {
		return fmt.Errorf("storage: remove group %q: %w", group, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM groups WHERE name = $1", group); err != nil {
		return fmt.Errorf("storage: remove group %q: %w", group, err)
	}
	return tx.Commit()
}

func (s *PostgresStorage) ListGroups(ctx context.Context) iter.Seq2[string, error] {
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

func (s *PostgresStorage) ListGroupsSince(ctx context.Context, since time.Time) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rows, err := s.db.QueryContext(ctx, "SELECT name FROM groups WHERE created_at > $1 ORDER BY created_at", since.Unix())
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

func (s *PostgresStorage) ListGroupsWithTimes(ctx context.Context) iter.Seq2[GroupTime, error] {
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

func (s *PostgresStorage) ListArticleNumbers(ctx context.Context, group string) iter.Seq2[int64, error] {
	return func(yield func(int64, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			"SELECT number FROM group_articles WHERE group_name = $1 ORDER BY number", group)
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

func (s *PostgresStorage) ListArticleIDs(ctx context.Context, group string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			"SELECT message_id FROM group_articles WHERE group_name = $1 ORDER BY number", group)
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

func (s *PostgresStorage) ListArticleIDsSince(ctx context.Context, group string, since time.Time) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			"SELECT message_id FROM group_articles WHERE group_name = $1 AND inserted_at > $2 ORDER BY number",
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

func (s *PostgresStorage) PurgeGroupBefore(ctx context.Context, group string, before time.Time) error {
	lock := s.groupLock(group)
	lock.Lock()
	defer lock.Unlock()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM group_articles WHERE group_name = $1 AND inserted_at < $2", group, before.Unix())
	if err != nil {
		return fmt.Errorf("storage: purge group %q: %w", group, err)
	}
	return nil
}

func (s *PostgresStorage) PurgeOrphanMessages(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE message_id NOT IN (SELECT DISTINCT message_id FROM group_articles)")
	if err != nil {
		return fmt.Errorf("storage: purge orphan messages: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetMessageSize(ctx context.Context, messageID string) (int64, bool, error) {
	var size int64
	err := s.db.QueryRowContext(ctx, "SELECT size FROM messages WHERE message_id = $1", messageID).Scan(&size)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage: get message size: %w", err)
	}
	return size, true, nil
}

func (s *PostgresStorage) DeleteArticleByID(ctx context.Context, messageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: delete article %q: %w", messageID, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM group_articles WHERE message_id = $1", messageID); err != nil {
		return fmt.Errorf("storage: delete article %q: %w", messageID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE message_id = $1", messageID); err != nil {
		return fmt.Errorf("storage: delete article %q: %w", messageID, err)
	}
	return tx.Commit()
}

func (s *PostgresStorage) IsGroupModerated(ctx context.Context, group string) (bool, error) {
	var moderated bool
	err := s.db.QueryRowContext(ctx, "SELECT moderated FROM groups WHERE name = $1", group).Scan(&moderated)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("storage: is group moderated: %w", ErrNoSuchGroup)
	}
	if err != nil {
		return false, fmt.Errorf("storage: is group moderated: %w", err)
	}
	return moderated, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
