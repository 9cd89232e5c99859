// Package session implements the per-connection NNTP state machine and
// command dispatcher: CAPABILITIES/MODE/AUTHINFO/GROUP/ARTICLE family/
// LIST family/OVER/HDR/POST/IHAVE/streaming/DATE/HELP/QUIT.
package session

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/forever-august/renews/internal/auth"
	"github.com/forever-august/renews/internal/config"
	"github.com/forever-august/renews/internal/ingest"
	"github.com/forever-august/renews/internal/storage"
)

const (
	dot  = "."
	crlf = "\r\n"
)

// State is the mutable per-connection state the command table reads and
// writes, grounded on spec's Session data model: (session_id, is_tls,
// authenticated, username?, is_admin, current_group?, current_article?,
// stream_mode, allow_auth_insecure, allow_anonymous_posting).
type State struct {
	ID             string
	IsTLS          bool
	Authenticated  bool
	Username       string
	IsAdmin        bool
	CurrentGroup   string
	CurrentArticle int64
	StreamMode     bool

	pendingUser string
}

// Handler serves one accepted connection end to end.
type Handler struct {
	conn    net.Conn
	text    *textproto.Conn
	writer  *bufio.Writer
	storage storage.Storage
	auth    auth.Auth
	pool    *ingest.Pool
	config  *config.Store

	state State
}

// NewHandler builds a Handler over an accepted connection. isTLS records
// whether conn arrived over the implicit-TLS listener, which gates
// posting and authentication on insecure-channel policy.
func NewHandler(id string, conn net.Conn, isTLS bool, store storage.Storage, a auth.Auth, pool *ingest.Pool, cfg *config.Store) *Handler {
	return &Handler{
		conn:    conn,
		text:    textproto.NewConn(conn),
		writer:  bufio.NewWriter(conn),
		storage: store,
		auth:    a,
		pool:    pool,
		config:  cfg,
		state:   State{ID: id, IsTLS: isTLS},
	}
}

// Serve runs the command loop until QUIT, an idle timeout, or a
// connection error. It always closes the underlying connection before
// returning.
func (h *Handler) Serve() error {
	defer h.text.Close()

	if err := h.sendResponse(200, "renews NNTP server ready"); err != nil {
		return err
	}

	for {
		h.applyIdleDeadline()

		line, err := h.text.ReadLine()
		if err != nil {
			return fmt.Errorf("session: read command: %w", err)
		}

		done, err := h.dispatch(line)
		if err != nil {
			log.Printf("[SESSION %s] command error: %v", h.state.ID, err)
			return err
		}
		if done {
			return nil
		}
	}
}

// applyIdleDeadline arms the connection's read deadline from the live
// config snapshot's idle_timeout_secs (0 = unbounded), per the idle-
// timeout guard in the session design.
func (h *Handler) applyIdleDeadline() {
	snap := h.config.Get()
	if snap == nil || snap.IdleTimeoutSecs <= 0 {
		h.conn.SetReadDeadline(time.Time{})
		return
	}
	h.conn.SetReadDeadline(time.Now().Add(time.Duration(snap.IdleTimeoutSecs) * time.Second))
}

// dispatch parses and routes a single command line. done is true once the
// connection should close (QUIT).
func (h *Handler) dispatch(line string) (done bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, h.sendResponse(500, "empty command")
	}

	verb := strings.ToUpper(fields[0])
	args := fields[1:]

	switch verb {
	case "CAPABILITIES":
		return false, h.handleCapabilities()
	case "MODE":
		return false, h.handleMode(args)
	case "AUTHINFO":
		return false, h.handleAuthInfo(args)
	case "GROUP":
		return false, h.handleGroup(args)
	case "LISTGROUP":
		return false, h.handleListGroup(args)
	case "ARTICLE":
		return false, h.handleArticleFamily(articleFull, args)
	case "HEAD":
		return false, h.handleArticleFamily(articleHead, args)
	case "BODY":
		return false, h.handleArticleFamily(articleBody, args)
	case "STAT":
		return false, h.handleArticleFamily(articleStat, args)
	case "NEXT":
		return false, h.handleNext()
	case "LAST":
		return false, h.handleLast()
	case "LIST":
		return false, h.handleList(args)
	case "NEWGROUPS":
		return false, h.handleNewgroups(args)
	case "NEWNEWS":
		return false, h.handleNewnews(args)
	case "OVER":
		return false, h.handleOver(args)
	case "XOVER":
		return false, h.handleOver(args)
	case "HDR":
		return false, h.handleHdr(args)
	case "XHDR":
		return false, h.handleHdr(args)
	case "POST":
		return false, h.handlePost()
	case "IHAVE":
		return false, h.handleIhave(args)
	case "CHECK":
		return false, h.handleCheck(args)
	case "TAKETHIS":
		return false, h.handleTakethis(args)
	case "DATE":
		return false, h.handleDate()
	case "HELP":
		return false, h.handleHelp()
	case "QUIT":
		h.sendResponse(205, "closing connection")
		return true, nil
	default:
		return false, h.sendResponse(500, fmt.Sprintf("command not recognized: %s", verb))
	}
}

// sendResponse writes a single status line.
func (h *Handler) sendResponse(code int, text string) error {
	return h.text.PrintfLine("%d %s", code, text)
}

// sendLine writes one raw data line, dot-stuffed by the caller as needed.
func (h *Handler) sendLine(line string) error {
	if _, err := h.writer.WriteString(line + crlf); err != nil {
		return err
	}
	return h.writer.Flush()
}

// sendMultiline writes a status line followed by lines terminated by a
// lone "." line, matching the teacher's DotWriter-based convention.
func (h *Handler) sendMultiline(code int, text string, lines []string) error {
	if err := h.sendResponse(code, text); err != nil {
		return err
	}
	dw := h.text.DotWriter()
	w := bufio.NewWriter(dw)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return dw.Close()
}

// canPostInsecure reports whether the live config allows posting/
// authenticating on a non-TLS channel.
func (h *Handler) canPostInsecure() bool {
	snap := h.config.Get()
	return snap != nil && snap.AllowPostingInsecure
}

func (h *Handler) canAuthenticate() bool {
	return h.state.IsTLS || h.canPostInsecure()
}

func (h *Handler) canPost() bool {
	if !(h.state.Authenticated || h.canAllowAnonymousPosting()) {
		return false
	}
	return h.state.CurrentGroup != ""
}

func (h *Handler) canAllowAnonymousPosting() bool {
	snap := h.config.Get()
	return snap != nil && snap.AllowAnonymousPosting
}
