package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/forever-august/renews/internal/wire"
)

type articleKind int

const (
	articleFull articleKind = iota
	articleHead
	articleBody
	articleStat
)

var errNoGroupSelected = errors.New("session: no newsgroup selected")
var errNoCurrentArticle = errors.New("session: no current article")
var errNoSuchArticle = errors.New("session: no such article")

// resolveTarget resolves an ARTICLE/HEAD/BODY/STAT/IHAVE-style target: a
// message-id (angle-bracketed), a number within the selected group, or
// (if arg is empty) the session's current article.
func (h *Handler) resolveTarget(arg string) (msg wire.Message, number int64, err error) {
	switch {
	case arg == "":
		if h.state.CurrentGroup == "" {
			return wire.Message{}, 0, errNoGroupSelected
		}
		if h.state.CurrentArticle == 0 {
			return wire.Message{}, 0, errNoCurrentArticle
		}
		msg, ok, err := h.storage.GetArticleByNumber(context.Background(), h.state.CurrentGroup, h.state.CurrentArticle)
		if err != nil {
			return wire.Message{}, 0, err
		}
		if !ok {
			return wire.Message{}, 0, errNoSuchArticle
		}
		return msg, h.state.CurrentArticle, nil

	case strings.HasPrefix(arg, "<"):
		msg, ok, err := h.storage.GetArticleByID(context.Background(), arg)
		if err != nil {
			return wire.Message{}, 0, err
		}
		if !ok {
			return wire.Message{}, 0, errNoSuchArticle
		}
		return msg, 0, nil

	default:
		if h.state.CurrentGroup == "" {
			return wire.Message{}, 0, errNoGroupSelected
		}
		n, parseErr := strconv.ParseInt(arg, 10, 64)
		if parseErr != nil {
			return wire.Message{}, 0, fmt.Errorf("session: %w: %q", errNoSuchArticle, arg)
		}
		msg, ok, err := h.storage.GetArticleByNumber(context.Background(), h.state.CurrentGroup, n)
		if err != nil {
			return wire.Message{}, 0, err
		}
		if !ok {
			return wire.Message{}, 0, errNoSuchArticle
		}
		return msg, n, nil
	}
}

// handleArticleFamily serves ARTICLE, HEAD, BODY, and STAT, which share
// target resolution and differ only in which parts of the article they
// emit.
func (h *Handler) handleArticleFamily(kind articleKind, args []string) error {
	var arg string
	if len(args) > 0 {
		arg = args[0]
	}

	msg, number, err := h.resolveTarget(arg)
	switch {
	case errors.Is(err, errNoGroupSelected):
		return h.sendResponse(412, "no newsgroup selected")
	case errors.Is(err, errNoCurrentArticle):
		return h.sendResponse(420, "no current article selected")
	case errors.Is(err, errNoSuchArticle):
		if strings.HasPrefix(arg, "<") {
			return h.sendResponse(430, "no such article")
		}
		return h.sendResponse(423, "no such article number in this group")
	case err != nil:
		return h.sendResponse(503, "failed to read article")
	}

	if number != 0 {
		h.state.CurrentArticle = number
	}
	messageID, _ := msg.Get("Message-ID")

	switch kind {
	case articleStat:
		return h.sendResponse(223, fmt.Sprintf("%d %s", number, messageID))
	case articleHead:
		return h.sendMultiline(221, fmt.Sprintf("%d %s", number, messageID), headerLines(msg))
	case articleBody:
		return h.sendMultiline(222, fmt.Sprintf("%d %s", number, messageID), bodyLines(msg))
	default:
		lines := append(headerLines(msg), "")
		lines = append(lines, bodyLines(msg)...)
		return h.sendMultiline(220, fmt.Sprintf("%d %s", number, messageID), lines)
	}
}

func headerLines(msg wire.Message) []string {
	lines := make([]string, 0, len(msg.Headers))
	for _, header := range msg.Headers {
		lines = append(lines, fmt.Sprintf("%s: %s", header.Name, header.Value))
	}
	return lines
}

// bodyLines splits a stored body back into lines. Dot-stuffing is not
// applied here: sendMultiline writes through textproto's DotWriter,
// which escapes leading dots itself.
func bodyLines(msg wire.Message) []string {
	if msg.Body == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(msg.Body, "\n"), "\n")
}
