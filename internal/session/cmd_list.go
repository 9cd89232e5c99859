package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/forever-august/renews/internal/overview"
	"github.com/forever-august/renews/internal/wildmat"
)

// handleList dispatches LIST ACTIVE, LIST NEWSGROUPS, and LIST
// OVERVIEW.FMT.
func (h *Handler) handleList(args []string) error {
	sub := "ACTIVE"
	if len(args) > 0 {
		sub = strings.ToUpper(args[0])
	}
	switch sub {
	case "ACTIVE":
		return h.listActive()
	case "NEWSGROUPS":
		return h.listNewsgroups()
	case "OVERVIEW.FMT":
		return h.sendMultiline(215, "Order of fields in overview database", overview.FormatFieldLines())
	default:
		return h.sendResponse(501, "unknown LIST argument")
	}
}

func (h *Handler) listActive() error {
	var lines []string
	for name, err := range h.storage.ListGroups(context.Background()) {
		if err != nil {
			return h.sendResponse(503, "failed to list groups")
		}
		numbers, err := h.groupNumbers(name)
		if err != nil {
			return h.sendResponse(503, "failed to list groups")
		}
		var first, last int64
		if len(numbers) > 0 {
			first = numbers[0]
			last = numbers[len(numbers)-1]
		}
		moderated, err := h.storage.IsGroupModerated(context.Background(), name)
		if err != nil {
			continue
		}
		status := "y"
		if moderated {
			status = "m"
		}
		lines = append(lines, fmt.Sprintf("%s %d %d %s", name, last, first, status))
	}
	return h.sendMultiline(215, "list of newsgroups follows", lines)
}

func (h *Handler) listNewsgroups() error {
	var lines []string
	for name, err := range h.storage.ListGroups(context.Background()) {
		if err != nil {
			return h.sendResponse(503, "failed to list groups")
		}
		lines = append(lines, fmt.Sprintf("%s -", name))
	}
	return h.sendMultiline(215, "descriptions follow", lines)
}

// handleNewgroups emits newsgroups created since the given date/time.
func (h *Handler) handleNewgroups(args []string) error {
	if len(args) < 2 {
		return h.sendResponse(501, "NEWGROUPS requires date and time")
	}
	since, err := parseDateTime(args[0], args[1])
	if err != nil {
		return h.sendResponse(501, "malformed date/time")
	}

	var lines []string
	for name, err := range h.storage.ListGroupsSince(context.Background(), since) {
		if err != nil {
			return h.sendResponse(503, "failed to list groups")
		}
		lines = append(lines, name)
	}
	return h.sendMultiline(231, "list of new newsgroups follows", lines)
}

// handleNewnews emits Message-IDs added since the given date/time to
// groups matching pattern (a single wildmat pattern, no comma
// alternation per spec's wildmat scope).
func (h *Handler) handleNewnews(args []string) error {
	if len(args) < 3 {
		return h.sendResponse(501, "NEWNEWS requires pattern, date, and time")
	}
	pattern := args[0]
	since, err := parseDateTime(args[1], args[2])
	if err != nil {
		return h.sendResponse(501, "malformed date/time")
	}

	seen := make(map[string]bool)
	var lines []string
	for name, err := range h.storage.ListGroups(context.Background()) {
		if err != nil {
			return h.sendResponse(503, "failed to list groups")
		}
		if !wildmat.Match(pattern, name) {
			continue
		}
		for id, err := range h.storage.ListArticleIDsSince(context.Background(), name, since) {
			if err != nil {
				return h.sendResponse(503, "failed to list articles")
			}
			if !seen[id] {
				seen[id] = true
				lines = append(lines, id)
			}
		}
	}
	return h.sendMultiline(230, "list of new articles follows", lines)
}

// parseDateTime parses NNTP's NEWGROUPS/NEWNEWS date+time pair: date as
// "YYMMDD" or "YYYYMMDD", time as "HHMMSS", treated as UTC regardless of
// a trailing "GMT" token (this implementation has no local timezone
// concept).
func parseDateTime(date, timeStr string) (time.Time, error) {
	layout := "060102150405"
	if len(date) == 8 {
		layout = "20060102150405"
	}
	return time.ParseInLocation(layout, date+timeStr, time.UTC)
}
