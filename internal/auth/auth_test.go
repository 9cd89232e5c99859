package auth

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestAuth(t *testing.T) *SqliteAuth {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.db")
	a, err := OpenSqlite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSqlite: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestVerifyUser(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t)

	if err := a.AddUser(ctx, "alice", "hunter2"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	ok, err := a.VerifyUser(ctx, "alice", "hunter2")
	if err != nil || !ok {
		t.Fatalf("VerifyUser correct password: ok=%v err=%v", ok, err)
	}

	ok, err = a.VerifyUser(ctx, "alice", "wrong")
	if err != nil || ok {
		t.Fatalf("VerifyUser wrong password: ok=%v err=%v", ok, err)
	}

	ok, err = a.VerifyUser(ctx, "nobody", "anything")
	if err != nil || ok {
		t.Fatalf("VerifyUser nonexistent user: ok=%v err=%v", ok, err)
	}
}

func TestAdminAndPGPKey(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t)

	if err := a.AddUser(ctx, "root", "secret"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := a.AddAdmin(ctx, "root", "-----BEGIN PGP PUBLIC KEY BLOCK-----"); err != nil {
		t.Fatalf("AddAdmin: %v", err)
	}

	isAdmin, err := a.IsAdmin(ctx, "root")
	if err != nil || !isAdmin {
		t.Fatalf("IsAdmin: %v / %v", isAdmin, err)
	}

	key, ok, err := a.GetPGPKey(ctx, "root")
	if err != nil || !ok || key == "" {
		t.Fatalf("GetPGPKey: key=%q ok=%v err=%v", key, ok, err)
	}

	if err := a.RemoveAdmin(ctx, "root"); err != nil {
		t.Fatalf("RemoveAdmin: %v", err)
	}
	isAdmin, err = a.IsAdmin(ctx, "root")
	if err != nil || isAdmin {
		t.Fatalf("IsAdmin after removal: %v / %v", isAdmin, err)
	}
}

func TestModeratorWildmat(t *testing.T) {
	ctx := context.Background()
	a := newTestAuth(t)

	if err := a.AddUser(ctx, "mod1", "secret"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := a.AddModerator(ctx, "mod1", "comp.*"); err != nil {
		t.Fatalf("AddModerator: %v", err)
	}

	is, err := a.IsModerator(ctx, "mod1", "comp.lang.go")
	if err != nil || !is {
		t.Fatalf("IsModerator comp.lang.go: %v / %v", is, err)
	}

	is, err = a.IsModerator(ctx, "mod1", "rec.games.go")
	if err != nil || is {
		t.Fatalf("IsModerator rec.games.go: %v / %v", is, err)
	}
}
