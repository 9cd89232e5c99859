package session

import (
	"context"
	"fmt"

	"github.com/forever-august/renews/internal/overview"
)

// handleOver serves OVER/XOVER: tab-separated overview lines for the
// numbers in the selected group, optionally restricted to a range.
func (h *Handler) handleOver(args []string) error {
	if h.state.CurrentGroup == "" {
		return h.sendResponse(412, "no newsgroup selected")
	}
	var rangeArg string
	if len(args) > 0 {
		rangeArg = args[0]
	}
	lo, hi, hasRange := parseRange(rangeArg)

	numbers, err := h.groupNumbers(h.state.CurrentGroup)
	if err != nil {
		return h.sendResponse(503, "failed to read group")
	}

	var lines []string
	for _, n := range numbers {
		if hasRange && (n < lo || (hi > 0 && n > hi)) {
			continue
		}
		article, ok, err := h.storage.GetArticleByNumber(context.Background(), h.state.CurrentGroup, n)
		if err != nil || !ok {
			continue
		}
		line, err := overview.Line(context.Background(), h.storage, n, article)
		if err != nil {
			continue
		}
		lines = append(lines, line)
	}
	return h.sendMultiline(224, "overview information follows", lines)
}

// handleHdr serves HDR/XHDR: the named header's value for each article
// number in range, one "number value" line per article.
func (h *Handler) handleHdr(args []string) error {
	if len(args) == 0 {
		return h.sendResponse(501, "HDR requires a header name")
	}
	if h.state.CurrentGroup == "" {
		return h.sendResponse(412, "no newsgroup selected")
	}
	header := args[0]
	var rangeArg string
	if len(args) > 1 {
		rangeArg = args[1]
	}
	lo, hi, hasRange := parseRange(rangeArg)

	numbers, err := h.groupNumbers(h.state.CurrentGroup)
	if err != nil {
		return h.sendResponse(503, "failed to read group")
	}

	var lines []string
	for _, n := range numbers {
		if hasRange && (n < lo || (hi > 0 && n > hi)) {
			continue
		}
		article, ok, err := h.storage.GetArticleByNumber(context.Background(), h.state.CurrentGroup, n)
		if err != nil || !ok {
			continue
		}
		value, _ := article.Get(header)
		lines = append(lines, fmt.Sprintf("%d %s", n, value))
	}
	return h.sendMultiline(225, "header information follows", lines)
}
