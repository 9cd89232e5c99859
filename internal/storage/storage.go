// Package storage defines the pluggable article/group storage backend and
// its SQLite and Postgres implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/forever-august/renews/internal/wire"
)

// Sentinel errors surfaced by Storage implementations. Callers test with
// errors.Is; the session layer maps these to NNTP numerics per the
// server's error handling design.
var (
	ErrNoSuchGroup  = errors.New("storage: no such group")
	ErrGroupExists  = errors.New("storage: group already exists")
	ErrNoHeaders    = errors.New("storage: article has no Newsgroups header")
	ErrBadURI       = errors.New("storage: unrecognized backend URI")
	ErrPostgresOnly = errors.New("storage: postgres backend not built in")
)

// GroupTime pairs a newsgroup name with its creation timestamp, for
// list_groups_with_times.
type GroupTime struct {
	Name      string
	CreatedAt time.Time
}

// Storage is the pluggable article and group persistence contract. Listing
// methods return restartable, lazy iter.Seq2 sequences so that
// implementations can stream directly from a database cursor and surface
// per-row errors in band, matching the "lazy sequence" pattern of the
// original design.
type Storage interface {
	// StoreArticle stores article, associating it with every group named
	// in its Newsgroups header that exists. It returns the article number
	// assigned in the first such existing group. If the article's
	// Message-ID is already stored, the existing body/headers are reused
	// (and the same membership bookkeeping still runs). Fails with
	// ErrNoSuchGroup if none of the Newsgroups exist.
	StoreArticle(ctx context.Context, article wire.Message) (int64, error)

	// GetArticleByNumber returns the article at (group, number), or ok=false
	// if no such article exists.
	GetArticleByNumber(ctx context.Context, group string, number int64) (msg wire.Message, ok bool, err error)

	// GetArticleByID returns the article with the given Message-ID, or
	// ok=false if it is not stored.
	GetArticleByID(ctx context.Context, messageID string) (msg wire.Message, ok bool, err error)

	// AddGroup creates a newsgroup. It is idempotent: adding an existing
	// group updates its moderation flag rather than failing.
	AddGroup(ctx context.Context, group string, moderated bool) error

	// RemoveGroup deletes a newsgroup and all of its article memberships
	// (but not the underlying messages, which purge_orphan_messages reaps).
	RemoveGroup(ctx context.Context, group string) error

	// ListGroups yields every newsgroup name.
	ListGroups(ctx context.Context) iter.Seq2[string, error]

	// ListGroupsSince yields newsgroups created after since.
	ListGroupsSince(ctx context.Context, since time.Time) iter.Seq2[string, error]

	// ListGroupsWithTimes yields every newsgroup with its creation time.
	ListGroupsWithTimes(ctx context.Context) iter.Seq2[GroupTime, error]

	// ListArticleNumbers yields a group's article numbers in ascending order.
	ListArticleNumbers(ctx context.Context, group string) iter.Seq2[int64, error]

	// ListArticleIDs yields a group's Message-IDs ordered by article number.
	ListArticleIDs(ctx context.Context, group string) iter.Seq2[string, error]

	// ListArticleIDsSince yields a group's Message-IDs for memberships
	// inserted after since, ordered by article number.
	ListArticleIDsSince(ctx context.Context, group string, since time.Time) iter.Seq2[string, error]

	// PurgeGroupBefore deletes group memberships inserted before before.
	// It does not itself delete now-orphaned messages.
	PurgeGroupBefore(ctx context.Context, group string, before time.Time) error

	// PurgeOrphanMessages deletes messages referenced by zero group
	// memberships.
	PurgeOrphanMessages(ctx context.Context) error

	// GetMessageSize returns the stored body byte length for messageID.
	GetMessageSize(ctx context.Context, messageID string) (size int64, ok bool, err error)

	// DeleteArticleByID removes messageID's memberships from every group
	// and its message row.
	DeleteArticleByID(ctx context.Context, messageID string) error

	// IsGroupModerated reports whether group requires an Approved header
	// on posted articles.
	IsGroupModerated(ctx context.Context, group string) (bool, error)

	// Close releases the backend's resources.
	Close() error
}

// Open dispatches on uri's scheme ("sqlite:" or "postgres:") and opens the
// corresponding backend, running its idempotent migration on first use.
func Open(ctx context.Context, uri string) (Storage, error) {
	switch {
	case strings.HasPrefix(uri, "sqlite:"):
		return OpenSqlite(ctx, strings.TrimPrefix(uri, "sqlite:"))
	case strings.HasPrefix(uri, "postgres:"):
		return OpenPostgres(ctx, uri)
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadURI, uri)
	}
}

// messageID extracts the Message-ID header from an article, matched
// case-insensitively.
func messageID(article wire.Message) (string, bool) {
	return article.Get("Message-ID")
}

// newsgroups splits an article's Newsgroups header on commas, trimming
// whitespace around each name and discarding empties.
func newsgroups(article wire.Message) []string {
	raw, ok := article.Get("Newsgroups")
	if !ok {
		return nil
	}
	var groups []string
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name != "" {
			groups = append(groups, name)
		}
	}
	return groups
}

// encodeHeaders serializes an article's headers as an order-preserving,
// duplicate-preserving flat list, one "name\tvalue" pair per line, matching
// the "serialized ordered list preserving duplicates and original case"
// persisted-state requirement.
func encodeHeaders(headers []wire.Header) string {
	var b strings.Builder
	for _, h := range headers {
		b.WriteString(h.Name)
		b.WriteByte('\t')
		b.WriteString(strings.ReplaceAll(h.Value, "\n", " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// decodeHeaders reverses encodeHeaders.
func decodeHeaders(encoded string) []wire.Header {
	var headers []wire.Header
	for _, line := range strings.Split(encoded, "\n") {
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, "\t")
		if !found {
			continue
		}
		headers = append(headers, wire.Header{Name: name, Value: value})
	}
	return headers
}
