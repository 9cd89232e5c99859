package filter

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/forever-august/renews/internal/wire"
)

func TestHeaderFilter(t *testing.T) {
	ctx := context.Background()
	good := wire.Message{Headers: []wire.Header{
		{Name: "From", Value: "a@b.test"},
		{Name: "Subject", Value: "hi"},
		{Name: "Newsgroups", Value: "misc.test"},
	}}
	if err := (HeaderFilter{}).Validate(ctx, Context{Article: good}); err != nil {
		t.Errorf("expected valid article to pass, got %v", err)
	}

	bad := wire.Message{Headers: []wire.Header{{Name: "Subject", Value: "hi"}}}
	if err := (HeaderFilter{}).Validate(ctx, Context{Article: bad}); err == nil {
		t.Error("expected missing-From article to be rejected")
	}
}

type fixedLimiter int64

func (f fixedLimiter) MaxSizeForGroup(group string) (int64, bool) { return int64(f), true }

func TestSizeFilter(t *testing.T) {
	ctx := context.Background()
	article := wire.Message{Headers: []wire.Header{{Name: "Newsgroups", Value: "misc.test"}}}

	if err := (SizeFilter{}).Validate(ctx, Context{Article: article, Size: 5, Limits: fixedLimiter(10)}); err != nil {
		t.Errorf("expected article within limit to pass, got %v", err)
	}
	if err := (SizeFilter{}).Validate(ctx, Context{Article: article, Size: 11, Limits: fixedLimiter(10)}); err == nil {
		t.Error("expected oversized article to be rejected")
	}
}

func TestCancelKeyMatchesLock(t *testing.T) {
	key := []byte("secret-cancel-key")
	keyB64 := base64.StdEncoding.EncodeToString(key)
	sum := sha256.Sum256([]byte(keyB64))
	lockB64 := base64.StdEncoding.EncodeToString(sum[:])

	lockHeader := "sha256:" + lockB64
	keyHeader := "sha256:" + keyB64

	if !CancelKeyMatchesLock(lockHeader, keyHeader) {
		t.Error("expected matching cancel key/lock pair to verify")
	}
	if CancelKeyMatchesLock(lockHeader, "sha256:"+base64.StdEncoding.EncodeToString([]byte("wrong"))) {
		t.Error("expected mismatched cancel key to fail verification")
	}
}
