package auth

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

const (
	postgresUsersTable = `CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		key TEXT
	)`
	postgresAdminsTable = `CREATE TABLE IF NOT EXISTS admins (
		username TEXT PRIMARY KEY REFERENCES users(username)
	)`
	postgresModeratorsTable = `CREATE TABLE IF NOT EXISTS moderators (
		username TEXT REFERENCES users(username),
		pattern TEXT,
		PRIMARY KEY(username, pattern)
	)`
)

// PostgresAuth is an Auth backend on top of database/sql + lib/pq, sharing
// schema and bcrypt credential handling with SqliteAuth.
type PostgresAuth struct {
	db *sql.DB
}

// OpenPostgres opens a Postgres-backed Auth at the given connection URI.
func OpenPostgres(ctx context.Context, uri string) (*PostgresAuth, error) {
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, fmt.Errorf("auth: open postgres: %w", err)
	}
	a := &PostgresAuth{db: db}
	if err := a.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *PostgresAuth) migrate(ctx context.Context) error {
	for _, stmt := range []string{postgresUsersTable, postgresAdminsTable, postgresModeratorsTable} {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("auth: migrate: %w", err)
		}
	}
	return nil
}

func (a *PostgresAuth) AddUser(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password for %q: %w", username, err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2)
		 ON CONFLICT (username) DO UPDATE SET password_hash = excluded.password_hash`,
		username, string(hash))
	if err != nil {
		return fmt.Errorf("auth: add user %q: %w", username, err)
	}
	log.Printf("[AUTH] user %q added/updated", username)
	return nil
}

func (a *PostgresAuth) RemoveUser(ctx context.Context, username string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("auth: remove user %q: %w", username, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM moderators WHERE username = $1", username); err != nil {
		return fmt.Errorf("auth: remove user %q: %w", username, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM admins WHERE username = $1", username); err != nil {
		return fmt.Errorf("auth: remove user %q: %w", username, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE username = $1", username); err != nil {
		return fmt.Errorf("auth: remove user %q: %w", username, err)
	}
	return tx.Commit()
}

func (a *PostgresAuth) VerifyUser(ctx context.Context, username, password string) (bool, error) {
	var hash string
	err := a.db.QueryRowContext(ctx, "SELECT password_hash FROM users WHERE username = $1", username).Scan(&hash)
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

func (a *PostgresAuth) IsAdmin(ctx context.Context, username string) (bool, error) {
	var seen string
	err := a.db.QueryRowContext(ctx, "SELECT username FROM admins WHERE username = $1", username).Scan(&seen)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: is admin %q: %w", username, err)
	}
	return true, nil
}

func (a *PostgresAuth) AddAdmin(ctx context.Context, username, pgpKey string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("auth: add admin %q: %w", username, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "INSERT INTO admins (username) VALUES ($1) ON CONFLICT DO NOTHING", username); err != nil {
		return fmt.Errorf("auth: add admin %q: %w", username, err)
	}
	if pgpKey != "" {
		if _, err := tx.ExecContext(ctx, "UPDATE users SET key = $1 WHERE username = $2", pgpKey, username); err != nil {
			return fmt.Errorf("auth: add admin %q: %w", username, err)
		}
	}
	return tx.Commit()
}

func (a *PostgresAuth) RemoveAdmin(ctx context.Context, username string) error {
	_, err := a.db.ExecContext(ctx, "DELETE FROM admins WHERE username = $1", username)
	if err != nil {
		return fmt.Errorf("auth: remove admin %q: %w", username, err)
	}
	return nil
}

func (a *PostgresAuth) UpdatePGPKey(ctx context.Context, username, pgpKey string) error {
	res, err := a.db.ExecContext(ctx, "UPDATE users SET key = $1 WHERE username = $2", pgpKey, username)
	if err != nil {
		return fmt.Errorf("auth: update pgp key for %q: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("auth: update pgp key for %q: %w", username, ErrNoSuchUser)
	}
	return nil
}

func (a *PostgresAuth) GetPGPKey(ctx context.Context, username string) (string, bool, error) {
	var key sql.NullString
	err := a.db.QueryRowContext(ctx, "SELECT key FROM users WHERE username = $1", username).Scan(&key)
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

func (a *PostgresAuth) AddModerator(ctx context.Context, username, pattern string) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO moderators (username, pattern) VALUES ($1, $2) ON CONFLICT DO NOTHING", username, pattern)
	if err != nil {
		return fmt.Errorf("auth: add moderator %q/%q: %w", username, pattern, err)
	}
	return nil
}

func (a *PostgresAuth) RemoveModerator(ctx context.Context, username, pattern string) error {
	_, err := a.db.ExecContext(ctx,
		"DELETE FROM moderators WHERE username = $1 AND pattern = $2", username, pattern)
	if err != nil {
		return fmt.Errorf("auth: remove moderator %q/%q: %w", username, pattern, err)
	}
	return nil
}

func (a *PostgresAuth) IsModerator(ctx context.Context, username, group string) (bool, error) {
	rows, err := a.db.QueryContext(ctx, "SELECT pattern FROM moderators WHERE username = $1", username)
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

func (a *PostgresAuth) Close() error {
	return a.db.Close()
}
