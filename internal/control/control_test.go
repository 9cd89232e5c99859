package control

import (
	"testing"

	"github.com/forever-august/renews/internal/wire"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		verb string
		arg  string
		ok   bool
	}{
		{"cancel <a@b>", "cancel", "<a@b>", true},
		{"newgroup misc.test moderated", "newgroup", "misc.test", true},
		{"rmgroup misc.test", "rmgroup", "misc.test", true},
		{"frobnicate misc.test", "", "", false},
		{"cancel", "", "", false},
	}
	for _, c := range cases {
		cmd, ok := ParseCommand(c.in)
		if ok != c.ok {
			t.Fatalf("ParseCommand(%q) ok = %v, want %v", c.in, ok, c.ok)
		}
		if !ok {
			continue
		}
		if cmd.Verb != c.verb || cmd.Arg != c.arg {
			t.Errorf("ParseCommand(%q) = %+v, want verb=%q arg=%q", c.in, cmd, c.verb, c.arg)
		}
	}
}

func TestCanonicalTextCaseInsensitiveHeaders(t *testing.T) {
	msgLower := wire.Message{
		Headers: []wire.Header{
			{Name: "from", Value: "admin@example.test"},
			{Name: "subject", Value: "cmsg cancel <a@b>"},
		},
		Body: "line one\nline two\n",
	}
	msgUpper := wire.Message{
		Headers: []wire.Header{
			{Name: "From", Value: "admin@example.test"},
			{Name: "Subject", Value: "cmsg cancel <a@b>"},
		},
		Body: "line one\nline two\n",
	}
	a := CanonicalText(msgLower, "From,Subject")
	b := CanonicalText(msgUpper, "From,Subject")
	if a != b {
		t.Errorf("canonical text differs by header casing:\n%q\n%q", a, b)
	}
}

func TestCanonicalTextDashStuffingAndTrailingNewline(t *testing.T) {
	msg := wire.Message{
		Headers: []wire.Header{{Name: "From", Value: "admin@example.test"}},
		Body:    "-- \nregular line\n-dashed line",
	}
	out := CanonicalText(msg, "From")

	want := "X-Signed-Headers: From\nFrom: admin@example.test\n\n- -- \nregular line\n- -dashed line\n"
	if out != want {
		t.Errorf("CanonicalText =\n%q\nwant\n%q", out, want)
	}
}

func TestCanonicalTextMissingHeaderIsEmpty(t *testing.T) {
	msg := wire.Message{Body: "body\n"}
	out := CanonicalText(msg, "From,Subject")
	want := "X-Signed-Headers: From,Subject\nFrom: \nSubject: \n\nbody\n"
	if out != want {
		t.Errorf("CanonicalText =\n%q\nwant\n%q", out, want)
	}
}
