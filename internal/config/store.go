package config

import (
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Store holds the live configuration snapshot behind an atomic pointer so
// that readers always see a consistent, fully-formed Snapshot: a command
// or ingest step takes one snapshot at its start and uses it throughout,
// never observing a reload mid-operation. Grounded on the teacher's
// signal.Notify/sync.WaitGroup composition-root idiom
// (cmd/nntp-server/main.go), generalized from shutdown-only signal
// handling to config-reload signal handling.
type Store struct {
	path string
	ptr  atomic.Pointer[Snapshot]
}

// NewStore loads path and returns a Store holding the initial snapshot.
func NewStore(path string) (*Store, error) {
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path}
	s.ptr.Store(snap)
	return s, nil
}

// Get returns the current snapshot. The returned pointer is immutable;
// callers may hold it for the duration of one command or ingest step.
func (s *Store) Get() *Snapshot {
	return s.ptr.Load()
}

// Reload re-reads the configuration file and replaces the snapshot,
// rejecting the reload (leaving the prior snapshot in force) if any
// immutable field changed.
func (s *Store) Reload() error {
	next, err := Load(s.path)
	if err != nil {
		return err
	}
	prev := s.ptr.Load()
	if err := ValidateReload(prev, next); err != nil {
		return err
	}
	s.ptr.Store(next)
	return nil
}

// WatchSIGHUP installs a SIGHUP handler that reloads the configuration in
// the background until stop is closed. Reload failures are logged, not
// fatal: the prior snapshot remains in force.
func (s *Store) WatchSIGHUP(stop <-chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sigChan)
		for {
			select {
			case <-sigChan:
				if err := s.Reload(); err != nil {
					log.Printf("[CONFIG] reload failed, keeping previous snapshot: %v", err)
					continue
				}
				log.Printf("[CONFIG] reloaded %s", s.path)
			case <-stop:
				return
			}
		}
	}()
}
