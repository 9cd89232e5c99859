package auth

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

const (
	sqliteUsersTable = `CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		key TEXT
	)`
	sqliteAdminsTable = `CREATE TABLE IF NOT EXISTS admins (
		username TEXT PRIMARY KEY REFERENCES users(username)
	)`
	sqliteModeratorsTable = `CREATE TABLE IF NOT EXISTS moderators (
		username TEXT REFERENCES users(username),
		pattern TEXT,
		PRIMARY KEY(username, pattern)
	)`
)

// SqliteAuth is an Auth backend on top of database/sql + go-sqlite3.
// Password hashing follows the teacher's db_nntp_users.go: bcrypt with
// bcrypt.DefaultCost, verified with bcrypt.CompareHashAndPassword.
type SqliteAuth struct {
	db *sql.DB
}

// OpenSqlite opens (creating if absent) a SQLite-backed Auth at path.
func OpenSqlite(ctx context.Context, path string) (*SqliteAuth, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("auth: open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	a := &SqliteAuth{db: db}
	if err := a.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *SqliteAuth) migrate(ctx context.Context) error {
	for _, stmt := range []string{sqliteUsersTable, sqliteAdminsTable, sqliteModeratorsTable} {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("auth: migrate: %w", err)
		}
	}
	return nil
}

func (a *SqliteAuth) AddUser(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password for %q: %w", username, err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, ?)
		 ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash`,
		username, string(hash))
	if err != nil {
		return fmt.Errorf("auth: add user %q: %w", username, err)
	}
	log.Printf("[AUTH] user %q added/updated", username)
	return nil
}

func (a *SqliteAuth) RemoveUser(ctx context.Context, username string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("auth: remove user %q: %w", username, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM moderators WHERE username = ?", username); err != nil {
		return fmt.Errorf("auth: remove user %q: %w", username, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM admins WHERE username = ?", username); err != nil {
		return fmt.Errorf("auth: remove user %q: %w", username, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE username = ?", username); err != nil {
		return fmt.Errorf("auth: remove user %q: %w", username, err)
	}
	return tx.Commit()
}

func (a *SqliteAuth) VerifyUser(ctx context.Context, username, password string) (bool, error) {
	var hash string
	err := a.db.QueryRowContext(ctx, "SELECT password_hash FROM users WHERE username = ?", username).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: verify user %q: %w", username, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}

func (a *SqliteAuth) IsAdmin(ctx context.Context, username string) (bool, error) {
	var seen string
	err := a.db.QueryRowContext(ctx, "SELECT username FROM admins WHERE username = ?", username).Scan(&seen)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: is admin %q: %w", username, err)
	}
	return true, nil
}

func (a *SqliteAuth) AddAdmin(ctx context.Context, username, pgpKey string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("auth: add admin %q: %w", username, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO admins (username) VALUES (?)", username); err != nil {
		return fmt.Errorf("auth: add admin %q: %w", username, err)
	}
	if pgpKey != "" {
		if _, err := tx.ExecContext(ctx, "UPDATE users SET key = ? WHERE username = ?", pgpKey, username); err != nil {
			return fmt.Errorf("auth: add admin %q: %w", username, err)
		}
	}
	return tx.Commit()
}

func (a *SqliteAuth) RemoveAdmin(ctx context.Context, username string) error {
	_, err := a.db.ExecContext(ctx, "DELETE FROM admins WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("auth: remove admin %q: %w", username, err)
	}
	return nil
}

func (a *SqliteAuth) UpdatePGPKey(ctx context.Context, username, pgpKey string) error {
	res, err := a.db.ExecContext(ctx, "UPDATE users SET key = ? WHERE username = ?", pgpKey, username)
	if err != nil {
		return fmt.Errorf("auth: update pgp key for %q: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("auth: update pgp key for %q: %w", username, ErrNoSuchUser)
	}
	return nil
}

func (a *SqliteAuth) GetPGPKey(ctx context.Context, username string) (string, bool, error) {
	var key sql.NullString
	err := a.db.QueryRowContext(ctx, "SELECT key FROM users WHERE username = ?", username).Scan(&key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("auth: get pgp key for %q: %w", username, err)
	}
	if !key.Valid || key.String == "" {
		return "", false, nil
	}
	return key.String, true, nil
}

func (a *SqliteAuth) AddModerator(ctx context.Context, username, pattern string) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO moderators (username, pattern) VALUES (?, ?)", username, pattern)
	if err != nil {
		return fmt.Errorf("auth: add moderator %q/%q: %w", username, pattern, err)
	}
	return nil
}

func (a *SqliteAuth) RemoveModerator(ctx context.Context, username, pattern string) error {
	_, err := a.db.ExecContext(ctx,
		"DELETE FROM moderators WHERE username = ? AND pattern = ?", username, pattern)
	if err != nil {
		return fmt.Errorf("auth: remove moderator %q/%q: %w", username, pattern, err)
	}
	return nil
}

func (a *SqliteAuth) IsModerator(ctx context.Context, username, group string) (bool, error) {
	rows, err := a.db.QueryContext(ctx, "SELECT pattern FROM moderators WHERE username = ?", username)
	if err != nil {
		return false, fmt.Errorf("auth: is moderator %q/%q: %w", username, group, err)
	}
	defer rows.Close()
	var patterns []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return false, fmt.Errorf("auth: is moderator %q/%q: %w", username, group, err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("auth: is moderator %q/%q: %w", username, group, err)
	}
	return IsModeratorOf(patterns, group), nil
}

func (a *SqliteAuth) Close() error {
	return a.db.Close()
}
