// Package filter implements the article validation chain run before an
// article is committed to storage.
package filter

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/forever-august/renews/internal/storage"
	"github.com/forever-august/renews/internal/wire"
)

// RejectError is returned by a Filter when an article fails validation.
// The session layer maps it to a protocol refusal code at the handler
// boundary per the error handling design.
type RejectError struct {
	Filter string
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("filter %s: %s", e.Filter, e.Reason)
}

// SizeLimiter resolves the configured maximum article size for a group, or
// ok=false if none is configured. Implemented by the config snapshot.
type SizeLimiter interface {
	MaxSizeForGroup(group string) (max int64, ok bool)
}

// Context carries everything a Filter needs to validate an article,
// mirroring the original design's ctx = { article, size, config, storage,
// auth, session }.
type Context struct {
	Article wire.Message
	Size    int64
	Limits  SizeLimiter
	Storage storage.Storage
}

// Filter validates an article, returning a *RejectError on failure. A
// Filter must not mutate storage: the chain is read-only with respect to
// it, as required by the filter design.
type Filter interface {
	Validate(ctx context.Context, fc Context) error
	Name() string
}

// Chain runs a sequence of filters in order, short-circuiting on the first
// rejection.
type Chain struct {
	filters []Filter
}

// NewChain builds a Chain from filters, run in the given order.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// DefaultChain is the filter chain the ingest pipeline runs for every
// article: header presence, size limits, group existence, moderation, and
// cancel-lock verification, in that order.
func DefaultChain() *Chain {
	return NewChain(
		HeaderFilter{},
		SizeFilter{},
		GroupExistenceFilter{},
		ModerationFilter{},
		CancelLockFilter{},
	)
}

// Validate runs every filter in c, returning the first rejection.
func (c *Chain) Validate(ctx context.Context, fc Context) error {
	for _, f := range c.filters {
		if err := f.Validate(ctx, fc); err != nil {
			return err
		}
	}
	return nil
}

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

// HeaderFilter requires non-empty From, Subject, and Newsgroups headers.
type HeaderFilter struct{}

func (HeaderFilter) Name() string { return "HeaderFilter" }

func (HeaderFilter) Validate(ctx context.Context, fc Context) error {
	from, _ := fc.Article.Get("From")
	subject, _ := fc.Article.Get("Subject")
	if strings.TrimSpace(from) == "" || strings.TrimSpace(subject) == "" || len(newsgroups(fc.Article)) == 0 {
		return &RejectError{Filter: "HeaderFilter", Reason: "missing required headers"}
	}
	return nil
}

// SizeFilter rejects an article exceeding the configured maximum size for
// any of its target groups.
type SizeFilter struct{}

func (SizeFilter) Name() string { return "SizeFilter" }

func (SizeFilter) Validate(ctx context.Context, fc Context) error {
	if fc.Limits == nil {
		return nil
	}
	for _, group := range newsgroups(fc.Article) {
		if max, ok := fc.Limits.MaxSizeForGroup(group); ok && fc.Size > max {
			return &RejectError{Filter: "SizeFilter", Reason: fmt.Sprintf("article too large for group %s", group)}
		}
	}
	return nil
}

// GroupExistenceFilter requires every newsgroup named in the article to
// already exist in storage.
type GroupExistenceFilter struct{}

func (GroupExistenceFilter) Name() string { return "GroupExistenceFilter" }

func (GroupExistenceFilter) Validate(ctx context.Context, fc Context) error {
	groups := newsgroups(fc.Article)
	if len(groups) == 0 || fc.Storage == nil {
		return nil
	}
	known := make(map[string]bool)
	for name, err := range fc.Storage.ListGroups(ctx) {
		if err != nil {
			return fmt.Errorf("filter: group existence: %w", err)
		}
		known[name] = true
	}
	for _, g := range groups {
		if !known[g] {
			return &RejectError{Filter: "GroupExistenceFilter", Reason: "group does not exist"}
		}
	}
	return nil
}

// ModerationFilter requires an Approved header on articles posted to a
// moderated group.
type ModerationFilter struct{}

func (ModerationFilter) Name() string { return "ModerationFilter" }

func (ModerationFilter) Validate(ctx context.Context, fc Context) error {
	if fc.Storage == nil {
		return nil
	}
	_, approved := fc.Article.Get("Approved")
	for _, group := range newsgroups(fc.Article) {
		moderated, err := fc.Storage.IsGroupModerated(ctx, group)
		if err != nil {
			continue // GroupExistenceFilter already rejects unknown groups
		}
		if moderated && !approved {
			return &RejectError{Filter: "ModerationFilter", Reason: fmt.Sprintf("group %s is moderated", group)}
		}
	}
	return nil
}

// CancelLockFilter verifies the Cancel-Lock/Cancel-Key binding on articles
// that cancel a prior article carrying a Cancel-Lock header.
type CancelLockFilter struct{}

func (CancelLockFilter) Name() string { return "CancelLockFilter" }

func (CancelLockFilter) Validate(ctx context.Context, fc Context) error {
	control, ok := fc.Article.Get("Control")
	if !ok || fc.Storage == nil {
		return nil
	}
	fields := strings.Fields(control)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "cancel") {
		return nil
	}
	targetID := fields[1]

	target, found, err := fc.Storage.GetArticleByID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("filter: cancel lock: %w", err)
	}
	if !found {
		return nil // nothing to verify against; control processor handles missing target
	}
	lockHeader, hasLock := target.Get("Cancel-Lock")
	if !hasLock {
		return nil
	}
	keyHeader, hasKey := fc.Article.Get("Cancel-Key")
	if !hasKey {
		return &RejectError{Filter: "CancelLockFilter", Reason: "missing Cancel-Key for locked article"}
	}
	if !CancelKeyMatchesLock(lockHeader, keyHeader) {
		return &RejectError{Filter: "CancelLockFilter", Reason: "Cancel-Key does not satisfy Cancel-Lock"}
	}
	return nil
}

// CancelKeyMatchesLock verifies a "Cancel-Lock: sha256:<b64>" header
// against a "Cancel-Key: sha256:<keyb64>" header per the draft scheme:
// base64(SHA256(keyb64)) must equal the lock's b64 value, where the hash
// is taken over the key's base64 text itself, not its decoding.
func CancelKeyMatchesLock(lockHeader, keyHeader string) bool {
	lockB64, ok := schemeValue(lockHeader, "sha256")
	if !ok {
		return false
	}
	keyB64, ok := schemeValue(keyHeader, "sha256")
	if !ok {
		return false
	}
	sum := sha256.Sum256([]byte(keyB64))
	computed := base64.StdEncoding.EncodeToString(sum[:])
	return computed == lockB64
}

// schemeValue extracts the value following "scheme:" in a possibly
// whitespace-separated, possibly multi-scheme header value (Cancel-Lock
// and Cancel-Key may list several space-separated scheme:value pairs).
func schemeValue(header, scheme string) (string, bool) {
	for _, field := range strings.Fields(header) {
		name, value, found := strings.Cut(field, ":")
		if found && strings.EqualFold(name, scheme) {
			return value, true
		}
	}
	return "", false
}
