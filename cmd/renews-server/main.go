// Command renews-server is the composition root: it loads configuration,
// opens the storage and auth backends, starts the plain/TLS/WebSocket
// listeners, the ingest worker pool, and the retention sweeper, then
// waits for a shutdown signal.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/forever-august/renews/internal/auth"
	"github.com/forever-august/renews/internal/config"
	"github.com/forever-august/renews/internal/ingest"
	"github.com/forever-august/renews/internal/session"
	"github.com/forever-august/renews/internal/storage"
	"github.com/forever-august/renews/internal/sweeper"
	"github.com/forever-august/renews/internal/wsbridge"
)

var (
	configPath string
	workers    int
	queueSize  int
)

func main() {
	flag.StringVar(&configPath, "config", "/etc/renews/renews.toml", "path to the TOML configuration file")
	flag.IntVar(&workers, "workers", 4, "number of ingest worker goroutines")
	flag.IntVar(&queueSize, "queue-size", 256, "ingest queue capacity")
	flag.Parse()

	if err := run(); err != nil {
		log.Printf("[SERVER] fatal: %v", err)
		os.Exit(1)
	}
	log.Println("[SERVER] stopped")
}

func run() error {
	cfg, err := config.NewStore(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	snap := cfg.Get()

	store, err := storage.Open(context.Background(), snap.DBPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	authDB := snap.AuthDBPath
	if authDB == "" {
		authDB = snap.DBPath
	}
	a, err := auth.Open(context.Background(), authDB)
	if err != nil {
		return fmt.Errorf("open auth: %w", err)
	}
	defer a.Close()

	pool := ingest.NewPool(queueSize, store, a, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx, workers)

	sw := sweeper.New(store, cfg)
	sw.Start(ctx)
	defer sw.Stop()

	stop := make(chan struct{})
	cfg.WatchSIGHUP(stop)
	defer close(stop)

	var wg sync.WaitGroup
	var listeners []net.Listener
	var bridge *wsbridge.Bridge

	if snap.Port > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", snap.Addr, snap.Port))
		if err != nil {
			return fmt.Errorf("listen plain: %w", err)
		}
		listeners = append(listeners, ln)
		log.Printf("[SERVER] NNTP listening on %s", ln.Addr())
		wg.Add(1)
		go serve(&wg, ln, false, store, a, pool, cfg)
	}

	if snap.TLSPort > 0 {
		cert, err := tls.LoadX509KeyPair(snap.TLSCert, snap.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS certificate: %w", err)
		}
		tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
		ln, err := tls.Listen("tcp", fmt.Sprintf("%s:%d", snap.TLSAddr, snap.TLSPort), tlsCfg)
		if err != nil {
			return fmt.Errorf("listen tls: %w", err)
		}
		listeners = append(listeners, ln)
		log.Printf("[SERVER] NNTP/TLS listening on %s", ln.Addr())
		wg.Add(1)
		go serve(&wg, ln, true, store, a, pool, cfg)
	}

	if snap.WSPort > 0 && snap.Port > 0 {
		bridge = wsbridge.New(fmt.Sprintf("127.0.0.1:%d", snap.Port))
		if err := bridge.Start(fmt.Sprintf("%s:%d", snap.WSAddr, snap.WSPort)); err != nil {
			return fmt.Errorf("start websocket bridge: %w", err)
		}
		defer bridge.Stop()
	}

	if len(listeners) == 0 {
		return fmt.Errorf("no listener configured (set port or tls_port)")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[SERVER] shutdown signal received, draining connections")
	for _, ln := range listeners {
		ln.Close()
	}
	wg.Wait()
	cancel()
	if err := pool.Stop(); err != nil {
		log.Printf("[SERVER] ingest pool stop: %v", err)
	}
	return nil
}

// serve accepts connections on ln until it is closed, handing each one to
// a fresh session.Handler, grounded on the teacher's serve/handleConnection
// split (internal/nntp/nntp-server.go).
func serve(wg *sync.WaitGroup, ln net.Listener, isTLS bool, store storage.Storage, a auth.Auth, pool *ingest.Pool, cfg *config.Store) {
	defer wg.Done()
	var connID int64
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		connID++
		id := fmt.Sprintf("%d", connID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			h := session.NewHandler(id, conn, isTLS, store, a, pool, cfg)
			if err := h.Serve(); err != nil {
				log.Printf("[SERVER] connection %s ended: %v", id, err)
			}
		}()
	}
}
