package account

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/vchat-dev/vchat/internal/auth"
	"github.com/vchat-dev/vchat/internal/bus"
	"github.com/vchat-dev/vchat/internal/docstore"
	"github.com/vchat-dev/vchat/internal/faults"
	"github.com/vchat-dev/vchat/internal/model"
	"github.com/vchat-dev/vchat/internal/sync"
)

const testSecret = "correct horse battery staple"

func testManager(t *testing.T) (*Manager, *docstore.DB, *auth.Local) {
	t.Helper()
	dir := t.TempDir()

	db, err := docstore.Open(filepath.Join(dir, "store.db"), bus.New(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	provider, err := auth.Open(filepath.Join(dir, "auth.db"), auth.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = provider.Close() })

	logger := zap.NewNop()
	writer := sync.NewWriter(db, logger)
	return NewManager(provider, db, writer, logger), db, provider
}

func TestSignupThenLogin(t *testing.T) {
	m, db, _ := testManager(t)
	ctx := context.Background()

	user, err := m.Signup(ctx, "Ana", "ana@vchat.dev", testSecret)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if user.Name != "Ana" || user.Handle != "ana@vchat.dev" {
		t.Errorf("unexpected user %+v", user)
	}
	if !user.Online {
		t.Error("new user not marked online")
	}

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if m.Current() != nil {
		t.Fatal("session not cleared after logout")
	}
	if _, err := db.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	again, err := m.Login(ctx, "ana@vchat.dev", testSecret)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if again.ID != user.ID || again.Name != "Ana" {
		t.Errorf("login returned wrong user: %+v", again)
	}
}

func TestLoginHealsMissingProfile(t *testing.T) {
	m, db, provider := testManager(t)
	ctx := context.Background()

	// Identity exists but no profile document was ever written.
	if _, err := provider.CreateIdentity(ctx, "ghost@vchat.dev", testSecret); err != nil {
		t.Fatal(err)
	}
	if err := provider.SignOut(ctx); err != nil {
		t.Fatal(err)
	}

	user, err := m.Login(ctx, "ghost@vchat.dev", testSecret)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.Name == "" {
		t.Error("healed profile has empty name")
	}
	if user.Name != "ghost" {
		t.Errorf("expected handle-derived name, got %q", user.Name)
	}
	if user.Avatar == "" || user.Status == "" {
		t.Errorf("healed profile missing defaults: %+v", user)
	}

	if _, err := db.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	doc, err := db.Get(ctx, model.UsersCollection, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil {
		t.Fatal("healed profile was not persisted")
	}
}

func TestSignupExistingHandleRecoversWithLogin(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	first, err := m.Signup(ctx, "Bruno", "bruno@vchat.dev", testSecret)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if err := m.Logout(ctx); err != nil {
		t.Fatal(err)
	}

	// Same handle, right secret: behaves as a login.
	user, err := m.Signup(ctx, "Ignored", "bruno@vchat.dev", testSecret)
	if err != nil {
		t.Fatalf("signup with existing handle: %v", err)
	}
	if user.ID != first.ID {
		t.Errorf("recovered login returned wrong identity: %q vs %q", user.ID, first.ID)
	}

	// Same handle, wrong secret: the conflict surfaces.
	if err := m.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	_, err = m.Signup(ctx, "Ignored", "bruno@vchat.dev", "a different wrong secret")
	if faults.KindOf(err) != faults.AlreadyExists {
		t.Fatalf("expected already-exists, got %v", err)
	}
}

func TestLogoutOfflineStillClearsSession(t *testing.T) {
	m, db, _ := testManager(t)
	ctx := context.Background()

	if _, err := m.Signup(ctx, "Carol", "carol@vchat.dev", testSecret); err != nil {
		t.Fatalf("signup: %v", err)
	}

	db.SetOnline(false)
	if err := m.Logout(ctx); err != nil {
		t.Fatalf("logout while offline: %v", err)
	}
	if m.Current() != nil {
		t.Fatal("session not cleared by offline logout")
	}
}

func TestLoginOfflineFails(t *testing.T) {
	m, db, _ := testManager(t)
	ctx := context.Background()

	if _, err := m.Signup(ctx, "Dave", "dave@vchat.dev", testSecret); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if err := m.Logout(ctx); err != nil {
		t.Fatal(err)
	}

	db.SetOnline(false)
	_, err := m.Login(ctx, "dave@vchat.dev", testSecret)
	if faults.KindOf(err) != faults.Offline {
		t.Fatalf("expected offline fault, got %v", err)
	}
	if m.Current() != nil {
		t.Error("failed login left a session behind")
	}
}

func TestRestoreFallsBackToIdentityOffline(t *testing.T) {
	m, db, _ := testManager(t)
	ctx := context.Background()

	if _, err := m.Signup(ctx, "Erin", "erin@vchat.dev", testSecret); err != nil {
		t.Fatalf("signup: %v", err)
	}
	m.setCurrent(nil) // simulate restart: credential persisted, memory empty

	db.SetOnline(false)
	user, err := m.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if user == nil {
		t.Fatal("restore returned no session despite valid credential")
	}
	if user.Name != "erin" {
		t.Errorf("expected handle-derived fallback name, got %q", user.Name)
	}
}

func TestOnSessionChange(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	var seen []*model.User
	unsub := m.OnSessionChange(func(u *model.User) { seen = append(seen, u) })
	defer unsub()

	if len(seen) != 1 || seen[0] != nil {
		t.Fatalf("expected one immediate nil notification, got %d", len(seen))
	}

	user, err := m.Signup(ctx, "Frank", "frank@vchat.dev", testSecret)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if len(seen) != 2 || seen[1] == nil || seen[1].ID != user.ID {
		t.Fatalf("expected signup notification, got %d", len(seen))
	}

	if err := m.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 || seen[2] != nil {
		t.Fatalf("expected logout notification, got %d", len(seen))
	}
}

func TestProviderSignOutEndsSession(t *testing.T) {
	m, _, provider := testManager(t)
	ctx := context.Background()

	if _, err := m.Signup(ctx, "Hugo", "hugo@vchat.dev", testSecret); err != nil {
		t.Fatalf("signup: %v", err)
	}

	var seen []*model.User
	unsub := m.OnSessionChange(func(u *model.User) { seen = append(seen, u) })
	defer unsub()

	// Revoke the identity beneath the manager, as another component holding
	// the provider would.
	if err := provider.SignOut(ctx); err != nil {
		t.Fatal(err)
	}

	if m.Current() != nil {
		t.Error("session survived identity revocation")
	}
	if len(seen) != 2 || seen[1] != nil {
		t.Fatalf("expected a nil session notification, got %d", len(seen))
	}
}

func TestUpdateProfileOptimistic(t *testing.T) {
	m, db, _ := testManager(t)
	ctx := context.Background()

	if _, err := m.Signup(ctx, "Grace", "grace@vchat.dev", testSecret); err != nil {
		t.Fatalf("signup: %v", err)
	}

	status := "out for lunch"
	if err := m.UpdateProfile(ctx, ProfilePatch{Status: &status}); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if got := m.Current().Status; got != status {
		t.Errorf("local user not patched: %q", got)
	}

	if _, err := db.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	doc, err := db.Get(ctx, model.UsersCollection, m.Current().ID)
	if err != nil {
		t.Fatal(err)
	}
	u := model.UserFromDoc(*doc)
	if u.Status != status {
		t.Errorf("persisted status %q, want %q", u.Status, status)
	}
}
