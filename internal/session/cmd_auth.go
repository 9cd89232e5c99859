package session

import (
	"context"
	"strings"
)

// handleAuthInfo handles AUTHINFO USER/PASS, gated by canAuthenticate
// per the invariant "authenticated sessions satisfy is_tls ∨
// allow_auth_insecure".
func (h *Handler) handleAuthInfo(args []string) error {
	if len(args) < 2 {
		return h.sendResponse(501, "AUTHINFO requires a subcommand and an argument")
	}
	if !h.canAuthenticate() {
		return h.sendResponse(483, "authentication requires a secure connection")
	}

	switch strings.ToUpper(args[0]) {
	case "USER":
		h.state.pendingUser = args[1]
		return h.sendResponse(381, "password required")
	case "PASS":
		if h.state.pendingUser == "" {
			return h.sendResponse(482, "AUTHINFO USER required first")
		}
		ok, err := h.auth.VerifyUser(context.Background(), h.state.pendingUser, args[1])
		if err != nil {
			h.state.pendingUser = ""
			return h.sendResponse(481, "authentication failed")
		}
		if !ok {
			h.state.pendingUser = ""
			return h.sendResponse(481, "authentication failed")
		}
		isAdmin, _ := h.auth.IsAdmin(context.Background(), h.state.pendingUser)
		h.state.Authenticated = true
		h.state.Username = h.state.pendingUser
		h.state.IsAdmin = isAdmin
		h.state.pendingUser = ""
		return h.sendResponse(281, "authentication accepted")
	default:
		return h.sendResponse(501, "unknown AUTHINFO subcommand")
	}
}
