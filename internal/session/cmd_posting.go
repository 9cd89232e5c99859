package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forever-august/renews/internal/filter"
	"github.com/forever-august/renews/internal/ingest"
)

// handlePost serves POST: `can_post` ∧ current_group selected, read the
// article until the dot terminator, then submit it and await the
// worker's verdict (filter/storage failures all surface as 441 per
// spec's error mapping).
func (h *Handler) handlePost() error {
	if !h.canPost() {
		return h.sendResponse(440, "posting not permitted")
	}
	if err := h.sendResponse(340, "send article to be posted; end with <CR-LF>.<CR-LF>"); err != nil {
		return err
	}

	article, err := h.readArticle()
	if err != nil {
		return h.sendResponse(441, "posting failed (unable to read article)")
	}

	ok, err := h.pool.SubmitAndAwait(ingest.QueuedArticle{
		Article:    article,
		ReceivedAt: time.Now(),
		Source:     ingest.SourcePost,
	})
	if !ok {
		return h.sendResponse(441, "posting failed (try again later)")
	}
	if err != nil {
		return h.sendResponse(441, fmt.Sprintf("posting failed: %v", err))
	}
	return h.sendResponse(240, "article posted successfully")
}

// handleIhave serves IHAVE: refuse if the Message-ID is already stored,
// otherwise request the article and submit it, mapping the worker's
// verdict to the refusal/defer/reject triad (435/436/437).
func (h *Handler) handleIhave(args []string) error {
	if len(args) != 1 {
		return h.sendResponse(501, "IHAVE requires exactly one message-id")
	}
	id := args[0]

	if _, found, err := h.storage.GetArticleByID(context.Background(), id); err == nil && found {
		return h.sendResponse(435, "article not wanted")
	}

	if err := h.sendResponse(335, "send article"); err != nil {
		return err
	}

	article, err := h.readArticle()
	if err != nil {
		return h.sendResponse(436, "transfer failed (unable to read article)")
	}

	ok, err := h.pool.SubmitAndAwait(ingest.QueuedArticle{
		Article:    article,
		ReceivedAt: time.Now(),
		Source:     ingest.SourceIhave,
	})
	if !ok {
		return h.sendResponse(436, "transfer deferred (try again later)")
	}
	if err != nil {
		var reject *filter.RejectError
		if errors.As(err, &reject) {
			return h.sendResponse(437, fmt.Sprintf("transfer rejected: %v", err))
		}
		return h.sendResponse(436, fmt.Sprintf("transfer deferred: %v", err))
	}
	return h.sendResponse(235, "article transferred successfully")
}

// handleCheck serves the streaming-extension CHECK precheck, gated on
// stream mode per spec's NEXT/LAST... CHECK/TAKETHIS precondition.
func (h *Handler) handleCheck(args []string) error {
	if !h.state.StreamMode {
		return h.sendResponse(500, "CHECK requires MODE STREAM")
	}
	if len(args) != 1 {
		return h.sendResponse(501, "CHECK requires exactly one message-id")
	}
	id := args[0]

	if _, found, err := h.storage.GetArticleByID(context.Background(), id); err == nil && found {
		return h.sendResponse(438, fmt.Sprintf("%s not wanted", id))
	}
	return h.sendResponse(238, fmt.Sprintf("%s send it", id))
}

// handleTakethis serves the streaming-extension TAKETHIS transfer, gated
// on stream mode; the article follows immediately (no separate prompt).
func (h *Handler) handleTakethis(args []string) error {
	if !h.state.StreamMode {
		return h.sendResponse(500, "TAKETHIS requires MODE STREAM")
	}
	if len(args) != 1 {
		return h.sendResponse(501, "TAKETHIS requires exactly one message-id")
	}
	id := args[0]

	article, err := h.readArticle()
	if err != nil {
		return h.sendResponse(439, fmt.Sprintf("%s transfer failed (unable to read article)", id))
	}

	ok, err := h.pool.SubmitAndAwait(ingest.QueuedArticle{
		Article:    article,
		ReceivedAt: time.Now(),
		Source:     ingest.SourceTakethis,
	})
	if !ok {
		return h.sendResponse(439, fmt.Sprintf("%s transfer failed (try again later)", id))
	}
	if err != nil {
		return h.sendResponse(439, fmt.Sprintf("%s transfer failed", id))
	}
	return h.sendResponse(239, fmt.Sprintf("%s article transferred successfully", id))
}
