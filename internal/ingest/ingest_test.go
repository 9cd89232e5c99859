package ingest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/forever-august/renews/internal/auth"
	"github.com/forever-august/renews/internal/config"
	"github.com/forever-august/renews/internal/storage"
	"github.com/forever-august/renews/internal/wire"
)

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.Open(context.Background(), "sqlite::memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.AddGroup(context.Background(), "misc.test", false); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	return store
}

func newTestAuth(t *testing.T) auth.Auth {
	t.Helper()
	a, err := auth.Open(context.Background(), "sqlite::memory:")
	if err != nil {
		t.Fatalf("auth.Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func testConfigStore(t *testing.T) *config.Store {
	t.Helper()
	path := t.TempDir() + "/renews.toml"
	body := "port = 1119\ndb_path = \"sqlite::memory:\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := config.NewStore(path)
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	return s
}

func article(id, group string) wire.Message {
	return wire.Message{
		Headers: []wire.Header{
			{Name: "Message-ID", Value: id},
			{Name: "From", Value: "poster@example.test"},
			{Name: "Subject", Value: "hello"},
			{Name: "Newsgroups", Value: group},
		},
		Body: "article body\n",
	}
}

func TestSubmitAndProcessStoresArticle(t *testing.T) {
	store := newTestStore(t)
	a := newTestAuth(t)
	cfg := testConfigStore(t)

	pool := NewPool(4, store, a, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 2)

	if !pool.Submit(QueuedArticle{Article: article("<1@test>", "misc.test"), ReceivedAt: time.Now(), Source: SourcePost}) {
		t.Fatal("Submit returned false on an empty queue")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, found, err := store.GetArticleByID(context.Background(), "<1@test>"); err == nil && found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("article was not stored within deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := pool.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestSubmitRejectsInvalidArticleWithoutStoring(t *testing.T) {
	store := newTestStore(t)
	a := newTestAuth(t)
	cfg := testConfigStore(t)

	pool := NewPool(4, store, a, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 1)
	defer func() {
		cancel()
		pool.Stop()
	}()

	bad := article("<2@test>", "misc.test")
	bad.Headers = bad.Headers[:1] // drop From/Subject/Newsgroups
	pool.Submit(QueuedArticle{Article: bad, ReceivedAt: time.Now(), Source: SourceIhave})

	time.Sleep(100 * time.Millisecond)
	if _, found, err := store.GetArticleByID(context.Background(), "<2@test>"); err != nil || found {
		t.Errorf("expected rejected article to remain unstored, found=%v err=%v", found, err)
	}
}

func TestSubmitFullQueueReturnsFalse(t *testing.T) {
	store := newTestStore(t)
	a := newTestAuth(t)
	cfg := testConfigStore(t)

	pool := NewPool(0, store, a, cfg)
	if pool.Submit(QueuedArticle{Article: article("<3@test>", "misc.test"), ReceivedAt: time.Now(), Source: SourceTakethis}) {
		t.Error("expected Submit to fail on a zero-capacity, unstarted queue")
	}
}
