package wildmat

import "testing"

func TestMatchBasics(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "", true},
		{"*", "anything.at.all", true},
		{"comp.lang.go", "comp.lang.go", true},
		{"comp.lang.go", "comp.lang.rust", false},
		{"comp.*", "comp.lang.go", true},
		{"comp.*", "news.lang.go", false},
		{"comp.lang.?o", "comp.lang.go", true},
		{"comp.lang.?o", "comp.lang.goo", false},
		{"comp.[lm]ang.go", "comp.lang.go", true},
		{"comp.[lm]ang.go", "comp.mang.go", true},
		{"comp.[lm]ang.go", "comp.xang.go", false},
		{"comp.[!lm]ang.go", "comp.xang.go", true},
		{"comp.[!lm]ang.go", "comp.lang.go", false},
		{"comp.[a-c]oo", "comp.boo", true},
		{"comp.[a-c]oo", "comp.doo", false},
		{`a\*b`, "a*b", true},
		{`a\*b`, "axb", false},
		{"**", "anything", true},
		{"*.go", "wildmat.go", true},
		{"*.go", "wildmat.rs", false},
	}
	for _, c := range cases {
		if got := Match(c.pattern, c.s); got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.pattern, c.s, got, c.want)
		}
	}
}

func TestMatchTotality(t *testing.T) {
	inputs := []string{"", "a", "comp.lang.go", "....", "[unterminated", `trailing\`}
	for _, s := range inputs {
		if !Match("*", s) {
			t.Errorf("Match(%q, %q) should always match", "*", s)
		}
		if !Match(s, s) {
			t.Errorf("Match(%q, %q) should match itself when free of metacharacters that alter it", s, s)
		}
	}
}

func TestMatchNewsgroupPatterns(t *testing.T) {
	send := []string{"comp.*", "news.*"}
	exclude := []string{"comp.binaries.*"}
	reject := []string{"*.spam"}

	cases := []struct {
		ng     string
		action string
	}{
		{"comp.lang.go", "send"},
		{"comp.binaries.games", "exclude"},
		{"alt.spam", "reject"},
		{"rec.games.go", "no-send"},
	}
	for _, c := range cases {
		result := MatchNewsgroupPatterns(c.ng, send, exclude, reject)
		if result.Action != c.action {
			t.Errorf("MatchNewsgroupPatterns(%q) action = %q, want %q", c.ng, result.Action, c.action)
		}
	}
}

func TestMatchArticleForPeer(t *testing.T) {
	send := []string{"comp.*"}
	exclude := []string{"comp.binaries.*"}
	reject := []string{"*.test"}

	result := MatchArticleForPeer([]string{"comp.lang.go", "misc.test"}, send, exclude, reject)
	if result.Action != "reject" {
		t.Errorf("expected reject when any newsgroup matches a reject pattern, got %q", result.Action)
	}

	result = MatchArticleForPeer([]string{"comp.lang.go", "rec.games.go"}, send, exclude, reject)
	if result.Action != "send" {
		t.Errorf("expected send when at least one newsgroup is sendable, got %q", result.Action)
	}

	result = MatchArticleForPeer([]string{"comp.binaries.games"}, send, exclude, reject)
	if result.Action != "exclude" {
		t.Errorf("expected exclude, got %q", result.Action)
	}
}
