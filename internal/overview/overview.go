// Package overview formats per-article OVER/XOVER summary lines and the
// LIST OVERVIEW.FMT field list.
package overview

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/forever-august/renews/internal/storage"
	"github.com/forever-august/renews/internal/wire"
)

// Fields is the fixed LIST OVERVIEW.FMT field list, grounded on
// original_source/src/overview.rs's OVERVIEW_FORMAT constant.
var Fields = []string{"Subject:", "From:", "Date:", "Message-ID:", "References:", ":bytes", ":lines"}

// FormatFieldLines renders the LIST OVERVIEW.FMT response body, one field
// name per line.
func FormatFieldLines() []string {
	out := make([]string, len(Fields))
	copy(out, Fields)
	return out
}

// Line renders a single tab-separated overview line for the article at
// number n, grounded on original_source/src/overview.rs's
// generate_overview_line and the teacher's formatOverviewLine
// (internal/nntp/nntp-cmd-helpers.go). bytes is resolved via
// storage.GetMessageSize, falling back to the body's byte length; lines
// counts LF-terminated lines in the body.
func Line(ctx context.Context, store storage.Storage, n int64, article wire.Message) (string, error) {
	subject, _ := article.Get("Subject")
	from, _ := article.Get("From")
	date, _ := article.Get("Date")
	messageID, _ := article.Get("Message-ID")
	references, _ := article.Get("References")

	size, ok, err := store.GetMessageSize(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("overview: get message size: %w", err)
	}
	if !ok {
		size = int64(len(article.Body))
	}

	lineCount := countLines(article.Body)

	fields := []string{
		strconv.FormatInt(n, 10),
		subject,
		from,
		date,
		messageID,
		references,
		strconv.FormatInt(size, 10),
		strconv.Itoa(lineCount),
	}
	return strings.Join(fields, "\t"), nil
}

// countLines counts LF-terminated lines in body, matching the original's
// body.lines().count() semantics: a trailing partial line without a
// terminator still counts.
func countLines(body string) int {
	if body == "" {
		return 0
	}
	n := strings.Count(body, "\n")
	if !strings.HasSuffix(body, "\n") {
		n++
	}
	return n
}
