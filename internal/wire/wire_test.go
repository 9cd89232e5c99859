package wire

import "testing"

func TestParseCommand(t *testing.T) {
	cmd, rest, err := ParseCommand([]byte("group misc.test\r\nnext command"))
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Name != "GROUP" || len(cmd.Args) != 1 || cmd.Args[0] != "misc.test" {
		t.Errorf("ParseCommand = %+v", cmd)
	}
	if string(rest) != "next command" {
		t.Errorf("rest = %q", rest)
	}
}

func TestParseCommandEmptyLine(t *testing.T) {
	if _, _, err := ParseCommand([]byte("\r\n")); err == nil {
		t.Error("expected error for empty command line")
	}
}

func TestParseCommandIncomplete(t *testing.T) {
	if _, _, err := ParseCommand([]byte("GROUP misc.test")); err == nil {
		t.Error("expected error for a command line missing its terminator")
	}
}

func TestParseResponse(t *testing.T) {
	resp, _, err := ParseResponse([]byte("211 3 1 3 misc.test\r\n"))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Code != 211 || resp.Text != "3 1 3 misc.test" {
		t.Errorf("ParseResponse = %+v", resp)
	}
}

func TestParseResponseNoText(t *testing.T) {
	resp, _, err := ParseResponse([]byte("205\r\n"))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Code != 205 || resp.Text != "" {
		t.Errorf("ParseResponse = %+v", resp)
	}
}

func TestMessageGetAndGetAll(t *testing.T) {
	msg := Message{Headers: []Header{
		{Name: "Subject", Value: "hello"},
		{Name: "X-Trace", Value: "a"},
		{Name: "X-Trace", Value: "b"},
	}}
	if v, ok := msg.Get("subject"); !ok || v != "hello" {
		t.Errorf("Get(subject) = %q, %v", v, ok)
	}
	if _, ok := msg.Get("Missing"); ok {
		t.Error("expected Get(Missing) to report not found")
	}
	if all := msg.GetAll("x-trace"); len(all) != 2 || all[0] != "a" || all[1] != "b" {
		t.Errorf("GetAll(x-trace) = %v", all)
	}
}

func TestParseMessageFoldsContinuationsAndUnstuffsBody(t *testing.T) {
	raw := "From: a@b.test\r\nSubject: hello\r\n world\r\n\r\n..this line was stuffed\r\nplain line"
	msg, _, err := ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if v, _ := msg.Get("Subject"); v != "hello world" {
		t.Errorf("folded Subject = %q", v)
	}
	want := ".this line was stuffed\nplain line"
	if msg.Body != want {
		t.Errorf("Body = %q, want %q", msg.Body, want)
	}
}

func TestParseMessageRejectsContinuationBeforeAnyHeader(t *testing.T) {
	if _, _, err := ParseMessage([]byte(" leading continuation\r\n\r\nbody\r\n")); err == nil {
		t.Error("expected error for a continuation line before any header")
	}
}

func TestParseMessageRejectsMalformedHeader(t *testing.T) {
	if _, _, err := ParseMessage([]byte("not-a-header-line\r\n\r\nbody\r\n")); err == nil {
		t.Error("expected error for a header line without a colon")
	}
}

func TestStuffAndUnstuff(t *testing.T) {
	if got := Stuff(".leading dot"); got != "..leading dot" {
		t.Errorf("Stuff = %q", got)
	}
	if got := Stuff("no leading dot"); got != "no leading dot" {
		t.Errorf("Stuff = %q", got)
	}
	if got := Unstuff("..leading dot"); got != ".leading dot" {
		t.Errorf("Unstuff = %q", got)
	}
	if got := Unstuff("plain"); got != "plain" {
		t.Errorf("Unstuff = %q", got)
	}
}

func TestFormatStatusLine(t *testing.T) {
	if got := FormatStatusLine(240, "article posted successfully"); got != "240 article posted successfully\r\n" {
		t.Errorf("FormatStatusLine = %q", got)
	}
}
