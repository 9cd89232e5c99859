package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/forever-august/renews/internal/wire"
)

// readArticle reads a dot-terminated article block from the client. It
// uses textproto's DotReader, which already undoes dot-stuffing and
// normalizes line endings to "\n" and strips the terminating line, so
// the header/body split below must not dot-unstuff a second time
// (unlike wire.ParseMessage, which parses raw, still-stuffed wire
// bytes).
func (h *Handler) readArticle() (wire.Message, error) {
	raw, err := io.ReadAll(h.text.DotReader())
	if err != nil {
		return wire.Message{}, fmt.Errorf("session: read article: %w", err)
	}
	return parseUnstuffedMessage(raw)
}

// parseUnstuffedMessage parses headers (with continuation-line folding)
// and a body from text that textproto has already dot-unstuffed.
func parseUnstuffedMessage(raw []byte) (wire.Message, error) {
	var msg wire.Message
	lines := strings.Split(string(raw), "\n")

	i := 0
	lastIdx := -1
	for ; i < len(lines); i++ {
		line := lines[i]
		if line == "" {
			i++
			break
		}
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			if lastIdx == -1 {
				return wire.Message{}, fmt.Errorf("session: header continuation before any header")
			}
			msg.Headers[lastIdx].Value += " " + strings.TrimSpace(line)
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon == -1 {
			return wire.Message{}, fmt.Errorf("session: malformed header line: %q", line)
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		msg.Headers = append(msg.Headers, wire.Header{Name: name, Value: value})
		lastIdx = len(msg.Headers) - 1
	}

	bodyLines := lines[i:]
	msg.Body = strings.Join(bodyLines, "\n")
	return msg, nil
}
