// Package sweeper runs the periodic retention and orphan-message cleanup
// described in the storage design: per-group expiry by age, per-article
// expiry by an Expires header, then an orphan sweep.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/forever-august/renews/internal/config"
	"github.com/forever-august/renews/internal/storage"
)

// expiresLayouts are the RFC 5322 date formats an Expires header may use,
// tried in order; Usenet posters are inconsistent about zone format and
// single- vs double-digit days.
var expiresLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
}

// Sweeper owns the background goroutine that runs one sweep per
// sweep_interval_secs tick, grounded on the teacher's ticker-plus-stop-
// channel idiom (internal/database's cache-cleanup goroutine).
type Sweeper struct {
	storage storage.Storage
	config  *config.Store

	stop chan struct{}
	done chan struct{}
}

// New builds a Sweeper over store, driven by the live config snapshot.
func New(store storage.Storage, cfg *config.Store) *Sweeper {
	return &Sweeper{
		storage: store,
		config:  cfg,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the background sweep loop. Stop blocks until the current
// sweep (if any) finishes and the goroutine exits.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish its current tick.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	interval := time.Duration(s.config.Get().SweepIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				log.Printf("[SWEEPER] sweep failed: %v", err)
			}
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		}
	}
}

// Sweep runs one full cleanup pass: per-group retention, per-article
// Expires-header expiry, then the orphan-message reap.
func (s *Sweeper) Sweep(ctx context.Context) error {
	snap := s.config.Get()
	now := time.Now()

	for name, err := range s.storage.ListGroups(ctx) {
		if err != nil {
			return err
		}

		if retention := snap.RetentionForGroup(name); retention > 0 {
			cutoff := now.Add(-retention)
			if err := s.storage.PurgeGroupBefore(ctx, name, cutoff); err != nil {
				log.Printf("[SWEEPER] purge %s before %s: %v", name, cutoff, err)
			}
		}

		if err := s.sweepExpiresHeader(ctx, name, now); err != nil {
			log.Printf("[SWEEPER] expires sweep %s: %v", name, err)
		}
	}

	if err := s.storage.PurgeOrphanMessages(ctx); err != nil {
		return err
	}
	return nil
}

// sweepExpiresHeader removes articles in group whose Expires header names
// a time before now, independent of the group's retention setting.
func (s *Sweeper) sweepExpiresHeader(ctx context.Context, group string, now time.Time) error {
	var ids []string
	for id, err := range s.storage.ListArticleIDs(ctx, group) {
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		msg, ok, err := s.storage.GetArticleByID(ctx, id)
		if err != nil || !ok {
			continue
		}
		raw, ok := msg.Get("Expires")
		if !ok {
			continue
		}
		expires, ok := parseExpires(raw)
		if !ok || expires.After(now) {
			continue
		}
		if err := s.storage.DeleteArticleByID(ctx, id); err != nil {
			log.Printf("[SWEEPER] delete expired %s: %v", id, err)
		}
	}
	return nil
}

func parseExpires(raw string) (time.Time, bool) {
	for _, layout := range expiresLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
