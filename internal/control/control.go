// Package control processes NNTP control messages (cancel, newgroup,
// rmgroup), verifying the pgpcontrol signature convention before
// dispatching to storage.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/forever-august/renews/internal/auth"
	"github.com/forever-august/renews/internal/storage"
	"github.com/forever-august/renews/internal/wire"
)

// Errors returned by Process; all of them are permanent rejections of the
// control article, never a reason to retry.
var (
	ErrNotControl       = errors.New("control: article carries no Control header")
	ErrMissingSignature = errors.New("control: missing X-PGP-Sig header")
	ErrMalformedSig     = errors.New("control: malformed X-PGP-Sig header")
	ErrNotAdmin         = errors.New("control: From is not an admin")
	ErrNoPGPKey         = errors.New("control: admin has no PGP key on file")
	ErrBadSignature     = errors.New("control: signature verification failed")
	ErrUnknownCommand   = errors.New("control: unrecognized control command")
)

// Command is a parsed control directive, grounded on the original
// implementation's ControlCommand enum (control.rs).
type Command struct {
	Verb  string // "cancel", "newgroup", "rmgroup"
	Arg   string // message-id for cancel; group name for newgroup and rmgroup
	Extra string // "moderated" flag text following newgroup's group name, if present
}

// ParseCommand parses a Control header value into a Command.
func ParseCommand(value string) (Command, bool) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return Command{}, false
	}
	verb := strings.ToLower(fields[0])
	switch verb {
	case "cancel", "newgroup", "rmgroup":
		cmd := Command{Verb: verb, Arg: fields[1]}
		if len(fields) > 2 {
			cmd.Extra = strings.Join(fields[2:], " ")
		}
		return cmd, true
	default:
		return Command{}, false
	}
}

// CanonicalText builds the exact byte sequence signed under the
// pgpcontrol convention: an X-Signed-Headers line naming signedHeaders,
// each named header rendered "name: value" (empty if absent) in the order
// signedHeaders lists them, a blank line, then msg.Body with CRLF
// normalized to LF and every line beginning with "-" dash-stuffed with a
// "- " prefix. A trailing newline is guaranteed even if the body lacks
// one. Ported from original_source/src/control.rs's canonical_text,
// which this implementation must match byte-for-byte to interoperate with
// existing signed control messages.
func CanonicalText(msg wire.Message, signedHeaders string) string {
	var out strings.Builder
	out.WriteString("X-Signed-Headers: ")
	out.WriteString(signedHeaders)
	out.WriteByte('\n')
	for _, name := range strings.Split(signedHeaders, ",") {
		out.WriteString(name)
		out.WriteString(": ")
		val, _ := msg.Get(name)
		out.WriteString(val)
		out.WriteByte('\n')
	}
	out.WriteByte('\n')

	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	for _, line := range splitInclusive(body, '\n') {
		if strings.HasPrefix(line, "-") {
			out.WriteString("- ")
		}
		out.WriteString(line)
	}
	if !strings.HasSuffix(body, "\n") {
		out.WriteByte('\n')
	}
	return out.String()
}

// splitInclusive splits s into pieces each ending with sep (the final
// piece may lack it), mirroring Rust's str::split_inclusive.
func splitInclusive(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			parts = append(parts, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// Processor verifies and dispatches control messages.
type Processor struct {
	Storage storage.Storage
	Auth    auth.Auth
}

// NewProcessor builds a Processor over the given storage and auth
// backends.
func NewProcessor(s storage.Storage, a auth.Auth) *Processor {
	return &Processor{Storage: s, Auth: a}
}

// Process verifies and, on success, executes the control message carried
// by msg. It returns (false, nil) if msg carries no Control header at
// all (not a control message), and a non-nil error for every
// verification or dispatch failure — all of which are permanent
// rejections; Process never retries internally.
func (p *Processor) Process(ctx context.Context, msg wire.Message) (bool, error) {
	controlVal, isControl := msg.Get("Control")
	if !isControl {
		return false, nil
	}

	from, _ := msg.Get("From")
	sigHeader, hasSig := msg.Get("X-PGP-Sig")
	if !hasSig {
		return true, ErrMissingSignature
	}

	words := strings.Fields(sigHeader)
	if len(words) < 2 {
		return true, ErrMalformedSig
	}
	version := words[0]
	signedHeaders := words[1]
	sigBody := strings.Join(words[2:], "\n")

	if err := p.verifyPGP(ctx, msg, from, version, signedHeaders, sigBody); err != nil {
		return true, err
	}

	cmd, ok := ParseCommand(controlVal)
	if !ok {
		return true, ErrUnknownCommand
	}

	switch cmd.Verb {
	case "cancel":
		return true, p.Storage.DeleteArticleByID(ctx, cmd.Arg)
	case "newgroup":
		return true, p.Storage.AddGroup(ctx, cmd.Arg, strings.EqualFold(cmd.Extra, "moderated"))
	case "rmgroup":
		return true, p.Storage.RemoveGroup(ctx, cmd.Arg)
	default:
		return true, ErrUnknownCommand
	}
}

func (p *Processor) verifyPGP(ctx context.Context, msg wire.Message, from, version, signedHeaders, sigBody string) error {
	isAdmin, err := p.Auth.IsAdmin(ctx, from)
	if err != nil {
		return fmt.Errorf("control: check admin: %w", err)
	}
	if !isAdmin {
		return ErrNotAdmin
	}

	keyText, ok, err := p.Auth.GetPGPKey(ctx, from)
	if err != nil {
		return fmt.Errorf("control: fetch pgp key: %w", err)
	}
	if !ok {
		return ErrNoPGPKey
	}

	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(keyText))
	if err != nil {
		return fmt.Errorf("control: %w: parse admin key: %v", ErrBadSignature, err)
	}

	armored := fmt.Sprintf("-----BEGIN PGP SIGNATURE-----\nVersion: %s\n\n%s\n-----END PGP SIGNATURE-----\n",
		version, sigBody)
	block, err := armor.Decode(strings.NewReader(armored))
	if err != nil {
		return fmt.Errorf("control: %w: decode armor: %v", ErrBadSignature, err)
	}

	canonical := CanonicalText(msg, signedHeaders)
	if _, err := openpgp.CheckDetachedSignature(keyring, strings.NewReader(canonical), block.Body, nil); err != nil {
		return fmt.Errorf("control: %w: %v", ErrBadSignature, err)
	}
	return nil
}
