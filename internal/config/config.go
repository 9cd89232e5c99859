// Package config loads and hot-reloads the server's TOML configuration,
// exposing it as a versioned, reader-writer-protected snapshot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/forever-august/renews/internal/wildmat"
)

// GroupSetting is one `[[group_settings]]` entry: either an exact group
// name or a wildmat pattern, with optional per-group overrides.
type GroupSetting struct {
	Group          string `toml:"group"`
	Pattern        string `toml:"pattern"`
	RetentionDays  *int64 `toml:"retention_days"`
	MaxArticleSize string `toml:"max_article_bytes"`
	Moderated      *bool  `toml:"moderated"`
}

func (g GroupSetting) matches(name string) bool {
	if g.Group != "" {
		return g.Group == name
	}
	if g.Pattern != "" {
		return wildmat.Match(g.Pattern, name)
	}
	return false
}

// Peer is one `[[peers]]` entry. Field recognition only: feed-out peering
// is out of this server's scope per spec.
type Peer struct {
	SiteName string `toml:"sitename"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Snapshot is the fully resolved, immutable configuration in force at a
// point in time. A Store holds the current Snapshot behind an
// atomic.Pointer so that readers never observe a reload mid-operation.
type Snapshot struct {
	Addr   string `toml:"addr"`
	Port   int    `toml:"port"`
	TLSAddr string `toml:"tls_addr"`
	TLSPort int    `toml:"tls_port"`
	TLSCert string `toml:"tls_cert"`
	TLSKey  string `toml:"tls_key"`
	WSAddr  string `toml:"ws_addr"`
	WSPort  int    `toml:"ws_port"`

	DBPath      string `toml:"db_path"`
	AuthDBPath  string `toml:"auth_db_path"`
	PeerDBPath  string `toml:"peer_db_path"`

	IdleTimeoutSecs  int64 `toml:"idle_timeout_secs"`
	PeerSyncSecs     int64 `toml:"peer_sync_secs"`
	SweepIntervalSecs int64 `toml:"sweep_interval_secs"`

	DefaultRetentionDays   int64  `toml:"default_retention_days"`
	DefaultMaxArticleBytes string `toml:"default_max_article_bytes"`

	AllowPostingInsecure  bool `toml:"allow_posting_insecure"`
	AllowAnonymousPosting bool `toml:"allow_anonymous_posting"`

	GroupSettings []GroupSetting `toml:"group_settings"`
	Peers         []Peer         `toml:"peers"`
}

// immutableFields names the keys that, per spec, cannot change across a
// SIGHUP reload.
var immutableFields = []string{"port", "db_path", "auth_db_path", "peer_db_path", "tls_port"}

// ImmutableFieldError reports a rejected reload attempting to change an
// immutable field.
type ImmutableFieldError struct {
	Field string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("config: field %q is immutable at runtime", e.Field)
}

// Load reads and parses a TOML configuration file, applying the documented
// defaults (idle_timeout_secs unbounded, peer_sync_secs 3600,
// sweep_interval_secs 3600).
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	snap := &Snapshot{
		PeerSyncSecs:      3600,
		SweepIntervalSecs: 3600,
	}
	if err := toml.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return snap, nil
}

// ValidateReload checks that next does not change any field the runtime
// treats as immutable relative to prev, returning an *ImmutableFieldError
// for the first violation found.
func ValidateReload(prev, next *Snapshot) error {
	if prev.Port != next.Port {
		return &ImmutableFieldError{Field: "port"}
	}
	if prev.DBPath != next.DBPath {
		return &ImmutableFieldError{Field: "db_path"}
	}
	if prev.AuthDBPath != next.AuthDBPath {
		return &ImmutableFieldError{Field: "auth_db_path"}
	}
	if prev.PeerDBPath != next.PeerDBPath {
		return &ImmutableFieldError{Field: "peer_db_path"}
	}
	if prev.TLSPort != next.TLSPort {
		return &ImmutableFieldError{Field: "tls_port"}
	}
	return nil
}

// RetentionForGroup resolves the retention window for group by scanning
// GroupSettings in order (first match wins), falling through to
// DefaultRetentionDays. A duration of zero means infinite retention.
func (s *Snapshot) RetentionForGroup(group string) time.Duration {
	days := s.DefaultRetentionDays
	for _, gs := range s.GroupSettings {
		if gs.matches(group) && gs.RetentionDays != nil {
			days = *gs.RetentionDays
			break
		}
	}
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}

// MaxSizeForGroup resolves the maximum article size in bytes for group by
// scanning GroupSettings in order (first match wins), falling through to
// DefaultMaxArticleBytes. ok is false if no limit is configured anywhere.
func (s *Snapshot) MaxSizeForGroup(group string) (max int64, ok bool) {
	for _, gs := range s.GroupSettings {
		if gs.matches(group) && gs.MaxArticleSize != "" {
			return ParseByteSize(gs.MaxArticleSize)
		}
	}
	return ParseByteSize(s.DefaultMaxArticleBytes)
}

// IsGroupModeratedByConfig reports whether a [[group_settings]] entry
// marks group moderated, independent of storage's own moderated flag
// (storage is authoritative; this supports newgroup-time defaults).
func (s *Snapshot) IsGroupModeratedByConfig(group string) bool {
	for _, gs := range s.GroupSettings {
		if gs.matches(group) && gs.Moderated != nil {
			return *gs.Moderated
		}
	}
	return false
}

// ParseByteSize parses an integer or a suffixed size string ("N", "NK",
// "NM", "NG", case-insensitive) into a byte count. ok is false for an
// empty string (meaning "no limit configured").
func ParseByteSize(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	multiplier := int64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		multiplier = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		multiplier = 1024 * 1024
		s = s[:len(s)-1]
	case 'g', 'G':
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return n * multiplier, true
}
