package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// groupNumbers collects a group's article numbers in ascending order.
// Storage already yields them in order; this materializes the sequence
// since the session needs random access (first/last/neighbor lookups)
// rather than a single streaming pass.
func (h *Handler) groupNumbers(group string) ([]int64, error) {
	var numbers []int64
	for n, err := range h.storage.ListArticleNumbers(context.Background(), group) {
		if err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, nil
}

// handleGroup selects a newsgroup, reporting its article count and
// bounds, and sets current_article to its first number.
func (h *Handler) handleGroup(args []string) error {
	if len(args) == 0 {
		return h.sendResponse(501, "GROUP requires a group name")
	}
	group := args[0]

	if _, err := h.storage.IsGroupModerated(context.Background(), group); err != nil {
		return h.sendResponse(411, "no such newsgroup")
	}

	numbers, err := h.groupNumbers(group)
	if err != nil {
		return h.sendResponse(503, "failed to read group")
	}

	h.state.CurrentGroup = group
	var first, last int64
	if len(numbers) > 0 {
		first = numbers[0]
		last = numbers[len(numbers)-1]
	}
	h.state.CurrentArticle = first

	return h.sendResponse(211, fmt.Sprintf("%d %d %d %s", len(numbers), first, last, group))
}

// handleListGroup lists the article numbers in a group (selecting it if
// named), optionally restricted to a "first-last" range.
func (h *Handler) handleListGroup(args []string) error {
	group := h.state.CurrentGroup
	var rangeArg string
	switch len(args) {
	case 0:
	case 1:
		group = args[0]
	default:
		group = args[0]
		rangeArg = args[1]
	}
	if group == "" {
		return h.sendResponse(412, "no newsgroup selected")
	}

	if _, err := h.storage.IsGroupModerated(context.Background(), group); err != nil {
		return h.sendResponse(411, "no such newsgroup")
	}

	numbers, err := h.groupNumbers(group)
	if err != nil {
		return h.sendResponse(503, "failed to read group")
	}
	h.state.CurrentGroup = group
	if len(numbers) > 0 {
		h.state.CurrentArticle = numbers[0]
	}

	lo, hi, hasRange := parseRange(rangeArg)
	var lines []string
	for _, n := range numbers {
		if hasRange && (n < lo || (hi > 0 && n > hi)) {
			continue
		}
		lines = append(lines, strconv.FormatInt(n, 10))
	}
	return h.sendMultiline(211, fmt.Sprintf("article numbers follow for %s", group), lines)
}

// handleNext advances current_article to the next number in the group.
func (h *Handler) handleNext() error {
	return h.advance(true)
}

// handleLast retreats current_article to the previous number in the group.
func (h *Handler) handleLast() error {
	return h.advance(false)
}

func (h *Handler) advance(forward bool) error {
	if h.state.CurrentGroup == "" {
		return h.sendResponse(412, "no newsgroup selected")
	}
	numbers, err := h.groupNumbers(h.state.CurrentGroup)
	if err != nil {
		return h.sendResponse(503, "failed to read group")
	}

	idx := -1
	for i, n := range numbers {
		if n == h.state.CurrentArticle {
			idx = i
			break
		}
	}

	var target int64
	if forward {
		if idx == -1 || idx+1 >= len(numbers) {
			return h.sendResponse(421, "no next article in this group")
		}
		target = numbers[idx+1]
	} else {
		if idx <= 0 {
			return h.sendResponse(422, "no previous article in this group")
		}
		target = numbers[idx-1]
	}

	msg, ok, err := h.storage.GetArticleByNumber(context.Background(), h.state.CurrentGroup, target)
	if err != nil || !ok {
		return h.sendResponse(420, "current article number invalid")
	}
	h.state.CurrentArticle = target
	messageID, _ := msg.Get("Message-ID")
	return h.sendResponse(223, fmt.Sprintf("%d %s", target, messageID))
}

// parseRange parses an NNTP range argument ("n", "n-", or "n-m"). hasRange
// is false for an empty argument (meaning "no restriction"); hi == 0 with
// hasRange true means "n and everything after".
func parseRange(arg string) (lo, hi int64, hasRange bool) {
	if arg == "" {
		return 0, 0, false
	}
	parts := strings.SplitN(arg, "-", 2)
	lo, _ = strconv.ParseInt(parts[0], 10, 64)
	if len(parts) == 2 && parts[1] != "" {
		hi, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return lo, hi, true
}
