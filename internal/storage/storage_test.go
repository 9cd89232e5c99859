package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/forever-august/renews/internal/wire"
)

func newTestStorage(t *testing.T) *SqliteStorage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSqlite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func article(id, newsgroups, body string) wire.Message {
	return wire.Message{
		Headers: []wire.Header{
			{Name: "Message-ID", Value: id},
			{Name: "Newsgroups", Value: newsgroups},
			{Name: "Subject", Value: "test"},
			{Name: "From", Value: "a@b.test"},
		},
		Body: body,
	}
}

func TestStoreArticleNumbering(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	if err := s.AddGroup(ctx, "misc.test", false); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}

	n1, err := s.StoreArticle(ctx, article("<1@t>", "misc.test", "first"))
	if err != nil {
		t.Fatalf("StoreArticle 1: %v", err)
	}
	if n1 != 1 {
		t.Errorf("first article number = %d, want 1", n1)
	}

	n2, err := s.StoreArticle(ctx, article("<2@t>", "misc.test", "second"))
	if err != nil {
		t.Fatalf("StoreArticle 2: %v", err)
	}
	if n2 != 2 {
		t.Errorf("second article number = %d, want 2", n2)
	}
}

func TestStoreArticleNoSuchGroup(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.StoreArticle(ctx, article("<1@t>", "nonexistent.group", "body"))
	if err == nil {
		t.Fatal("expected ErrNoSuchGroup, got nil")
	}
}

func TestGetArticleByIDAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	if err := s.AddGroup(ctx, "misc.test", false); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	if _, err := s.StoreArticle(ctx, article("<1@t>", "misc.test", "hello")); err != nil {
		t.Fatalf("StoreArticle: %v", err)
	}

	msg, ok, err := s.GetArticleByID(ctx, "<1@t>")
	if err != nil || !ok {
		t.Fatalf("GetArticleByID: ok=%v err=%v", ok, err)
	}
	if msg.Body != "hello" {
		t.Errorf("body = %q, want %q", msg.Body, "hello")
	}

	if err := s.DeleteArticleByID(ctx, "<1@t>"); err != nil {
		t.Fatalf("DeleteArticleByID: %v", err)
	}
	if _, ok, err := s.GetArticleByID(ctx, "<1@t>"); err != nil || ok {
		t.Fatalf("expected article gone after delete, ok=%v err=%v", ok, err)
	}
	for id, err := range s.ListArticleIDs(ctx, "misc.test") {
		if err != nil {
			t.Fatalf("ListArticleIDs: %v", err)
		}
		t.Errorf("unexpected remaining article id %q after delete", id)
	}
}

func TestPerGroupNumbering(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	if err := s.AddGroup(ctx, "g1", false); err != nil {
		t.Fatalf("AddGroup g1: %v", err)
	}
	if err := s.AddGroup(ctx, "g2", false); err != nil {
		t.Fatalf("AddGroup g2: %v", err)
	}

	if n, err := s.StoreArticle(ctx, article("<m@1>", "g1", "a")); err != nil || n != 1 {
		t.Fatalf("g1 <m@1>: n=%d err=%v", n, err)
	}
	if n, err := s.StoreArticle(ctx, article("<m@2>", "g1", "b")); err != nil || n != 2 {
		t.Fatalf("g1 <m@2>: n=%d err=%v", n, err)
	}
	if n, err := s.StoreArticle(ctx, article("<m@1g2>", "g2", "c")); err != nil || n != 1 {
		t.Fatalf("g2 <m@1g2>: n=%d err=%v", n, err)
	}
}

func TestPurgeOrphanMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	if err := s.AddGroup(ctx, "misc.test", false); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	if _, err := s.StoreArticle(ctx, article("<1@t>", "misc.test", "hello")); err != nil {
		t.Fatalf("StoreArticle: %v", err)
	}
	if err := s.PurgeGroupBefore(ctx, "misc.test", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("PurgeGroupBefore: %v", err)
	}
	if err := s.PurgeOrphanMessages(ctx); err != nil {
		t.Fatalf("PurgeOrphanMessages: %v", err)
	}
	if _, ok, err := s.GetArticleByID(ctx, "<1@t>"); err != nil || ok {
		t.Fatalf("expected message purged as orphan, ok=%v err=%v", ok, err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := OpenSqlite(ctx, path)
	if err != nil {
		t.Fatalf("first OpenSqlite: %v", err)
	}
	if err := s1.AddGroup(ctx, "misc.test", false); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	s1.Close()

	s2, err := OpenSqlite(ctx, path)
	if err != nil {
		t.Fatalf("second OpenSqlite: %v", err)
	}
	defer s2.Close()

	moderated, err := s2.IsGroupModerated(ctx, "misc.test")
	if err != nil {
		t.Fatalf("IsGroupModerated: %v", err)
	}
	if moderated {
		t.Errorf("expected misc.test to remain unmoderated across reopen")
	}
}
