package session

import (
	"strings"
	"time"
)

// handleCapabilities responds with the capability list per spec §4.8:
// version, READER, POST (if TLS), IHAVE, STREAMING, OVER, HDR, LIST,
// NEWNEWS.
func (h *Handler) handleCapabilities() error {
	caps := []string{"VERSION 2", "READER"}
	if h.state.IsTLS {
		caps = append(caps, "POST")
	}
	caps = append(caps, "IHAVE", "STREAMING", "OVER", "HDR", "LIST", "NEWNEWS")
	return h.sendMultiline(101, "Capability list:", caps)
}

// handleMode handles MODE READER and MODE STREAM. MODE STREAM is refused
// with 483 unless the connection is TLS or allow_posting_insecure is set,
// the same check MODE READER uses to report whether posting is permitted.
func (h *Handler) handleMode(args []string) error {
	if len(args) == 0 {
		return h.sendResponse(501, "MODE requires an argument")
	}
	switch strings.ToUpper(args[0]) {
	case "READER":
		if h.state.IsTLS || h.canPostInsecure() {
			return h.sendResponse(200, "reader mode, posting permitted")
		}
		return h.sendResponse(201, "reader mode, posting prohibited")
	case "STREAM":
		if !h.state.IsTLS && !h.canPostInsecure() {
			return h.sendResponse(483, "streaming requires a secure connection")
		}
		h.state.StreamMode = true
		return h.sendResponse(203, "streaming permitted")
	default:
		return h.sendResponse(500, "unknown MODE argument")
	}
}

// handleHelp emits a fixed help block.
func (h *Handler) handleHelp() error {
	lines := []string{
		"CAPABILITIES",
		"MODE READER|STREAM",
		"AUTHINFO USER|PASS",
		"GROUP group",
		"LISTGROUP [group [range]]",
		"ARTICLE|HEAD|BODY|STAT [message-id|number]",
		"NEXT",
		"LAST",
		"LIST ACTIVE|NEWSGROUPS|OVERVIEW.FMT",
		"NEWGROUPS date time [GMT]",
		"NEWNEWS pattern date time [GMT]",
		"OVER|XOVER [range]",
		"HDR|XHDR header [range]",
		"POST",
		"IHAVE message-id",
		"CHECK message-id",
		"TAKETHIS message-id",
		"DATE",
		"QUIT",
	}
	return h.sendMultiline(100, "Help text follows", lines)
}

// handleDate emits the server's current UTC time per RFC 3977 §7.1.
func (h *Handler) handleDate() error {
	return h.sendResponse(111, time.Now().UTC().Format("20060102150405"))
}
