// Package ingest runs the bounded queue and worker pool that validates and
// commits articles handed off by the session layer.
package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forever-august/renews/internal/auth"
	"github.com/forever-august/renews/internal/config"
	"github.com/forever-august/renews/internal/control"
	"github.com/forever-august/renews/internal/filter"
	"github.com/forever-august/renews/internal/storage"
	"github.com/forever-august/renews/internal/wire"
)

// Source identifies which command handed an article to the queue.
type Source string

const (
	SourcePost     Source = "post"
	SourceIhave    Source = "ihave"
	SourceTakethis Source = "takethis"
)

// QueuedArticle is one unit of ingest work. Result, if non-nil, receives
// the outcome of processing this article exactly once: nil on a
// successful commit, a *filter.RejectError on validation failure, or a
// storage/control error otherwise. POST, IHAVE, and TAKETHIS are
// request-response commands that must give the client a final status
// line, so the handler that submits a QueuedArticle blocks on Result
// (buffered so a worker's send never blocks even if the client vanished
// mid-wait); a producer that doesn't need the outcome (none currently
// does) simply leaves Result nil.
type QueuedArticle struct {
	Article    wire.Message
	ReceivedAt time.Time
	Source     Source
	Result     chan error
}

// Pool is a bounded FIFO queue of QueuedArticle plus N worker goroutines
// that validate and commit them. Producers submit under a non-blocking
// try-send (Submit returns false on a full queue, never blocking the
// connection); workers run until Stop drains the queue or the pool's
// context is canceled. Grounded on the teacher's sync.WaitGroup-
// coordinated background goroutine idiom (cmd/nntp-server/main.go),
// generalized to a worker pool supervised by errgroup.
type Pool struct {
	queue   chan QueuedArticle
	storage storage.Storage
	chain   *filter.Chain
	control *control.Processor
	config  *config.Store

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewPool builds a Pool with the given queue capacity, backed by store,
// a, cfg and the default filter chain.
func NewPool(capacity int, store storage.Storage, a auth.Auth, cfg *config.Store) *Pool {
	return &Pool{
		queue:   make(chan QueuedArticle, capacity),
		storage: store,
		chain:   filter.DefaultChain(),
		control: control.NewProcessor(store, a),
		config:  cfg,
	}
}

// Submit attempts to enqueue qa without blocking. It returns false if the
// queue is full, signaling the caller to return a protocol-level defer
// code (431/436/439) rather than wait.
func (p *Pool) Submit(qa QueuedArticle) bool {
	select {
	case p.queue <- qa:
		return true
	default:
		return false
	}
}

// SubmitAndAwait enqueues qa and blocks until a worker reports the
// commit outcome, or returns (false, ErrQueueFull) immediately if the
// queue is full. POST, IHAVE, and TAKETHIS all need this: the NNTP
// command protocol is half-duplex, so the handler has nothing better to
// do than wait for its own article's result anyway.
func (p *Pool) SubmitAndAwait(qa QueuedArticle) (ok bool, err error) {
	result := make(chan error, 1)
	qa.Result = result
	if !p.Submit(qa) {
		return false, ErrQueueFull
	}
	return true, <-result
}

// Start launches n worker goroutines, each draining the queue until ctx
// is canceled and the queue is empty.
func (p *Pool) Start(ctx context.Context, n int) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	p.group = group
	for i := 0; i < n; i++ {
		workerID := i
		group.Go(func() error {
			p.runWorker(gctx, workerID)
			return nil
		})
	}
}

// Stop signals workers to finish in-flight work and drain the queue, then
// waits for them to exit.
func (p *Pool) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.group == nil {
		return nil
	}
	return p.group.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	work := context.WithoutCancel(ctx)
	for {
		select {
		case qa, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(work, qa)
		case <-ctx.Done():
			// Drain whatever is already queued before exiting.
			for {
				select {
				case qa := <-p.queue:
					p.process(work, qa)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, qa QueuedArticle) {
	err := p.commit(ctx, qa)
	if qa.Result != nil {
		select {
		case qa.Result <- err:
		default:
		}
	}
}

func (p *Pool) commit(ctx context.Context, qa QueuedArticle) error {
	messageID, _ := qa.Article.Get("Message-ID")
	snapshot := p.config.Get()

	fc := filter.Context{
		Article: qa.Article,
		Size:    int64(len(qa.Article.Body)),
		Limits:  snapshot,
		Storage: p.storage,
	}
	if err := p.chain.Validate(ctx, fc); err != nil {
		log.Printf("[INGEST] rejected %s (source=%s): %v", messageID, qa.Source, err)
		return err
	}

	if _, err := p.storage.StoreArticle(ctx, qa.Article); err != nil {
		log.Printf("[INGEST] store failed %s (source=%s): %v", messageID, qa.Source, err)
		return err
	}

	if isControl, err := p.control.Process(ctx, qa.Article); err != nil {
		log.Printf("[INGEST] control message failed %s: %v", messageID, err)
	} else if isControl {
		log.Printf("[INGEST] control message dispatched %s", messageID)
	}

	log.Printf("[INGEST] stored %s (source=%s)", messageID, qa.Source)
	return nil
}

// ErrQueueFull is returned by SubmitAndAwait when the queue is full.
// Submit itself signals a full queue through its bool result instead.
var ErrQueueFull = fmt.Errorf("ingest: queue full")
