// Package auth defines the pluggable user/admin/moderator authentication
// backend and its SQLite and Postgres implementations.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/forever-august/renews/internal/wildmat"
)

// Sentinel errors surfaced by Auth implementations.
var (
	ErrNoSuchUser = errors.New("auth: no such user")
	ErrBadURI     = errors.New("auth: unrecognized backend URI")
)

// Auth is the pluggable user/admin/moderator authentication contract,
// grounded on the original provider's AuthProvider trait
// (original_source/src/auth/mod.rs) and reimplemented with the teacher's
// bcrypt-backed credential store (internal/database/db_nntp_users.go).
type Auth interface {
	// AddUser creates a user with a bcrypt-hashed password. Re-adding an
	// existing username updates its password hash.
	AddUser(ctx context.Context, username, password string) error

	// RemoveUser deletes a user and its admin/moderator grants.
	RemoveUser(ctx context.Context, username string) error

	// VerifyUser reports whether password matches username's stored hash.
	// A nonexistent user verifies false, not an error.
	VerifyUser(ctx context.Context, username, password string) (bool, error)

	// IsAdmin reports whether username holds the admin role.
	IsAdmin(ctx context.Context, username string) (bool, error)

	// AddAdmin grants username the admin role and records its PGP public
	// key (used to verify signed control messages from that admin).
	AddAdmin(ctx context.Context, username, pgpKey string) error

	// RemoveAdmin revokes username's admin role.
	RemoveAdmin(ctx context.Context, username string) error

	// UpdatePGPKey replaces username's stored PGP public key.
	UpdatePGPKey(ctx context.Context, username, pgpKey string) error

	// GetPGPKey returns username's stored PGP public key, if any.
	GetPGPKey(ctx context.Context, username string) (key string, ok bool, err error)

	// AddModerator grants username moderation rights over groups matching
	// pattern (wildmat syntax).
	AddModerator(ctx context.Context, username, pattern string) error

	// RemoveModerator revokes the (username, pattern) moderation grant.
	RemoveModerator(ctx context.Context, username, pattern string) error

	// IsModerator reports whether username moderates group, i.e. holds a
	// pattern that matches it.
	IsModerator(ctx context.Context, username, group string) (bool, error)

	// Close releases the backend's resources.
	Close() error
}

// Open dispatches on uri's scheme ("sqlite:" or "postgres:") and opens the
// corresponding backend, running its idempotent migration.
func Open(ctx context.Context, uri string) (Auth, error) {
	switch {
	case strings.HasPrefix(uri, "sqlite:"):
		return OpenSqlite(ctx, strings.TrimPrefix(uri, "sqlite:"))
	case strings.HasPrefix(uri, "postgres:"):
		return OpenPostgres(ctx, uri)
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadURI, uri)
	}
}

// IsModeratorOf reports whether any of patterns matches group under wildmat
// semantics, the shared pattern-resolution step both backends use for
// IsModerator.
func IsModeratorOf(patterns []string, group string) bool {
	for _, p := range patterns {
		if wildmat.Match(p, group) {
			return true
		}
	}
	return false
}

// PGPKeyDiscovery resolves an admin's PGP public key when one is not
// already on file, e.g. by querying a keyserver. Grounded on
// original_source/src/auth/pgp_discovery.rs's PgpKeyDiscovery trait.
type PGPKeyDiscovery interface {
	// DiscoverKey attempts to find username's PGP public key out of band.
	// ok is false when no key could be found; this is not an error.
	DiscoverKey(ctx context.Context, username string) (key string, ok bool, err error)

	// ValidateKey reports whether a discovered key is acceptable for use
	// (e.g. not expired, not revoked).
	ValidateKey(ctx context.Context, key string) (bool, error)
}

// NullDiscovery is a PGPKeyDiscovery that never finds a key. It is the
// only implementation shipped here: real keyserver dispatch (choice of
// keyserver, timeouts, caching) is left unspecified by design, matching
// original_source's own stub (DefaultPgpKeyDiscovery::discover_key always
// returns Ok(None)).
type NullDiscovery struct{}

func (NullDiscovery) DiscoverKey(ctx context.Context, username string) (string, bool, error) {
	return "", false, nil
}

func (NullDiscovery) ValidateKey(ctx context.Context, key string) (bool, error) {
	return false, nil
}
