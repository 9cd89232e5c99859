package overview

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forever-august/renews/internal/storage"
	"github.com/forever-august/renews/internal/wire"
)

func TestLine(t *testing.T) {
	ctx := context.Background()
	s, err := storage.OpenSqlite(ctx, filepath.Join(t.TempDir(), "t.db"))
	if err != nil {
		t.Fatalf("OpenSqlite: %v", err)
	}
	defer s.Close()

	if err := s.AddGroup(ctx, "misc.test", false); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	article := wire.Message{
		Headers: []wire.Header{
			{Name: "Message-ID", Value: "<1@t>"},
			{Name: "Newsgroups", Value: "misc.test"},
			{Name: "Subject", Value: "hello"},
			{Name: "From", Value: "a@b.test"},
			{Name: "Date", Value: "Thu, 30 Jul 2026 00:00:00 UTC"},
		},
		Body: "line one\nline two\n",
	}
	if _, err := s.StoreArticle(ctx, article); err != nil {
		t.Fatalf("StoreArticle: %v", err)
	}

	line, err := Line(ctx, s, 1, article)
	if err != nil {
		t.Fatalf("Line: %v", err)
	}
	fields := strings.Split(line, "\t")
	if len(fields) != 8 {
		t.Fatalf("expected 8 tab-separated fields, got %d: %q", len(fields), line)
	}
	if fields[0] != "1" || fields[1] != "hello" || fields[4] != "<1@t>" {
		t.Errorf("unexpected overview fields: %q", line)
	}
	if fields[7] != "2" {
		t.Errorf("lines field = %q, want 2", fields[7])
	}
}

func TestFormatFieldLines(t *testing.T) {
	fields := FormatFieldLines()
	if len(fields) != 7 {
		t.Fatalf("expected 7 fixed fields, got %d", len(fields))
	}
	if fields[0] != "Subject:" || fields[len(fields)-1] != ":lines" {
		t.Errorf("unexpected field list: %v", fields)
	}
}
