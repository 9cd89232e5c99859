package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "renews.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAndGroupSettingsResolution(t *testing.T) {
	path := writeConfig(t, `
port = 1119
db_path = "sqlite:/var/spool/renews.db"
default_retention_days = 30
default_max_article_bytes = "1M"

[[group_settings]]
pattern = "alt.binaries.*"
max_article_bytes = "50M"
retention_days = 7

[[group_settings]]
group = "misc.test"
moderated = true
`)
	snap, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if max, ok := snap.MaxSizeForGroup("alt.binaries.pictures"); !ok || max != 50*1024*1024 {
		t.Errorf("MaxSizeForGroup(alt.binaries.pictures) = %d, %v", max, ok)
	}
	if max, ok := snap.MaxSizeForGroup("comp.lang.go"); !ok || max != 1024*1024 {
		t.Errorf("MaxSizeForGroup(comp.lang.go) fallback = %d, %v", max, ok)
	}
	if !snap.IsGroupModeratedByConfig("misc.test") {
		t.Error("expected misc.test to be configured moderated")
	}
	if snap.IsGroupModeratedByConfig("comp.lang.go") {
		t.Error("expected comp.lang.go to default to unmoderated")
	}
}

func TestValidateReloadRejectsImmutableFieldChange(t *testing.T) {
	prev := &Snapshot{Port: 1119, DBPath: "sqlite:/a.db"}
	next := &Snapshot{Port: 1120, DBPath: "sqlite:/a.db"}
	if err := ValidateReload(prev, next); err == nil {
		t.Error("expected port change to be rejected")
	}

	next2 := &Snapshot{Port: 1119, DBPath: "sqlite:/a.db", AllowAnonymousPosting: true}
	if err := ValidateReload(prev, next2); err != nil {
		t.Errorf("expected mutable-field-only change to be accepted, got %v", err)
	}
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"", 0, false},
		{"1024", 1024, true},
		{"1K", 1024, true},
		{"1M", 1024 * 1024, true},
		{"2G", 2 * 1024 * 1024 * 1024, true},
		{"notanumber", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseByteSize(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("ParseByteSize(%q) = %d, %v; want %d, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}
