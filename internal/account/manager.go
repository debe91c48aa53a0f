// Package account owns the local session: which user is signed in, how
// sessions begin and end, and how the profile document is kept consistent
// with the identity backend.
package account

import (
	"context"
	stdsync "sync"

	"go.uber.org/zap"

	"github.com/vchat-dev/vchat/internal/auth"
	"github.com/vchat-dev/vchat/internal/docstore"
	"github.com/vchat-dev/vchat/internal/faults"
	"github.com/vchat-dev/vchat/internal/model"
	"github.com/vchat-dev/vchat/internal/sync"
)

// ProfilePatch is a partial profile update. Nil fields are left untouched.
type ProfilePatch struct {
	Name   *string
	Avatar *string
	Status *string
}

// Manager is the session manager. It holds the current user, mediates
// login/signup/logout against the identity provider and the profile
// collection, and notifies observers of every session change.
type Manager struct {
	auth   auth.Provider
	store  docstore.Store
	writer *sync.Writer
	logger *zap.Logger

	mu       stdsync.Mutex
	current  *model.User
	handlers map[int]func(*model.User)
	nextID   int
	unwatch  func()
}

func NewManager(provider auth.Provider, store docstore.Store, writer *sync.Writer, logger *zap.Logger) *Manager {
	m := &Manager{
		auth:     provider,
		store:    store,
		writer:   writer,
		logger:   logger,
		handlers: make(map[int]func(*model.User)),
	}
	m.unwatch = provider.OnIdentityChange(m.onIdentity)
	return m
}

// Close releases the identity watch. The session itself is left as is.
func (m *Manager) Close() {
	if m.unwatch != nil {
		m.unwatch()
	}
}

// onIdentity follows the provider's own identity feed. A revoked identity
// (expired token, sign-out below the manager) ends the session; an appearing
// identity is ignored because Login, Signup and Restore build the full
// profile themselves before announcing it.
func (m *Manager) onIdentity(ident *auth.Identity) {
	if ident != nil {
		return
	}
	m.mu.Lock()
	had := m.current != nil
	m.current = nil
	m.mu.Unlock()
	if had {
		m.logger.Info("identity revoked, session ended")
		m.notify(nil)
	}
}

// Current returns the signed-in user, or nil.
func (m *Manager) Current() *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	u := *m.current
	return &u
}

// Login authenticates handle/secret and loads the profile document. An
// identity whose profile document is missing is healed: a minimal profile
// is synthesized from the identity and persisted, so the account becomes
// usable instead of permanently broken.
func (m *Manager) Login(ctx context.Context, handle, secret string) (*model.User, error) {
	ident, err := m.auth.Authenticate(ctx, handle, secret)
	if err != nil {
		return nil, faults.Classify(err)
	}

	user, err := m.loadOrHealProfile(ctx, ident)
	if err != nil {
		// The credential was accepted but the session is unusable; roll the
		// sign-in back so auth state and session state stay aligned.
		if soErr := m.auth.SignOut(ctx); soErr != nil {
			m.logger.Warn("sign-out after failed profile load failed", zap.Error(soErr))
		}
		return nil, err
	}

	m.setCurrent(user)
	m.markOnline(ctx, user.ID, true)
	m.logger.Info("logged in", zap.String("handle", ident.Handle))
	return user, nil
}

// Signup creates an identity and its profile document. When the handle is
// already registered, it attempts a login with the supplied secret and only
// surfaces the conflict if that login fails on credentials. When the profile
// write fails after the identity was created, the in-memory session is kept
// and the classified write error is returned alongside the user.
func (m *Manager) Signup(ctx context.Context, name, handle, secret string) (*model.User, error) {
	ident, err := m.auth.CreateIdentity(ctx, handle, secret)
	if err != nil {
		fault := faults.Classify(err)
		if fault.Kind != faults.AlreadyExists {
			return nil, fault
		}
		user, loginErr := m.Login(ctx, handle, secret)
		if loginErr == nil {
			return user, nil
		}
		if faults.KindOf(loginErr) == faults.InvalidCredential {
			return nil, fault
		}
		return nil, loginErr
	}

	if name == "" {
		name = model.DeriveName(ident.Handle)
	}
	user := &model.User{
		ID:     ident.ID,
		Name:   name,
		Handle: ident.Handle,
		Avatar: model.DefaultAvatar(ident.ID),
		Status: model.DefaultStatus,
		Online: true,
	}
	if err := m.writeProfile(ctx, user); err != nil {
		// Degraded session: signed in, profile not durable yet. The next
		// login heals the missing document.
		m.setCurrent(user)
		m.logger.Warn("profile write failed at signup",
			zap.String("handle", ident.Handle), zap.Error(err))
		return user, faults.Classify(err)
	}

	m.setCurrent(user)
	m.logger.Info("signed up", zap.String("handle", ident.Handle))
	return user, nil
}

// Logout signs out. The online-flag update and the credential removal are
// both best-effort: whatever fails, the local session is cleared. A user
// must always be able to leave.
func (m *Manager) Logout(ctx context.Context) error {
	if user := m.Current(); user != nil {
		m.markOnline(ctx, user.ID, false)
	}
	if err := m.auth.SignOut(ctx); err != nil {
		m.logger.Warn("sign-out failed, clearing local session anyway", zap.Error(err))
	}
	m.setCurrent(nil)
	m.logger.Info("logged out")
	return nil
}

// Restore resumes a persisted session at startup. With a valid credential
// but an unreadable profile (typically offline), it falls back to
// identity-level data rather than presenting no session at all.
func (m *Manager) Restore(ctx context.Context) (*model.User, error) {
	ident, err := m.auth.Current(ctx)
	if err != nil {
		fault := faults.Classify(err)
		if fault.Kind == faults.Unauthenticated {
			if soErr := m.auth.SignOut(ctx); soErr != nil {
				m.logger.Warn("clearing expired credential failed", zap.Error(soErr))
			}
			return nil, nil
		}
		return nil, fault
	}
	if ident == nil {
		return nil, nil
	}

	user, err := m.loadOrHealProfile(ctx, *ident)
	if err != nil {
		if !faults.KindOf(err).Recoverable() {
			return nil, err
		}
		m.logger.Warn("profile unreadable at restore, using identity data",
			zap.String("handle", ident.Handle), zap.Error(err))
		user = &model.User{
			ID:     ident.ID,
			Name:   model.DeriveName(ident.Handle),
			Handle: ident.Handle,
			Avatar: model.DefaultAvatar(ident.ID),
			Status: model.DefaultStatus,
		}
	}

	m.setCurrent(user)
	m.markOnline(ctx, user.ID, true)
	return user, nil
}

// UpdateProfile applies the patch locally first, then writes it. A write
// failure is returned but does not roll the local state back; the feed is
// the authority and will straighten things out.
func (m *Manager) UpdateProfile(ctx context.Context, patch ProfilePatch) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return faults.Newf(faults.Unauthenticated, "no active session")
	}
	fields := make(map[string]any)
	if patch.Name != nil {
		m.current.Name = *patch.Name
		fields["name"] = *patch.Name
	}
	if patch.Avatar != nil {
		m.current.Avatar = *patch.Avatar
		fields["avatar"] = *patch.Avatar
	}
	if patch.Status != nil {
		m.current.Status = *patch.Status
		fields["status"] = *patch.Status
	}
	user := *m.current
	m.mu.Unlock()

	if len(fields) == 0 {
		return nil
	}
	m.notify(&user)
	return m.writer.UpdateProfile(ctx, user.ID, fields)
}

// OnSessionChange registers handler, invoking it once immediately with the
// current user and again after every login, signup, logout or restore.
func (m *Manager) OnSessionChange(handler func(*model.User)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	var current *model.User
	if m.current != nil {
		u := *m.current
		current = &u
	}
	m.mu.Unlock()

	handler(current)

	var once stdsync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.handlers, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) setCurrent(user *model.User) {
	m.mu.Lock()
	// Sign-outs reach this twice, once via the provider's identity feed and
	// once from the caller; the second pass has nothing left to announce.
	if user == nil && m.current == nil {
		m.mu.Unlock()
		return
	}
	m.current = user
	m.mu.Unlock()
	m.notify(user)
}

func (m *Manager) notify(user *model.User) {
	m.mu.Lock()
	handlers := make([]func(*model.User), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		var copied *model.User
		if user != nil {
			u := *user
			copied = &u
		}
		h(copied)
	}
}

// loadOrHealProfile reads the identity's profile document, synthesizing and
// persisting a minimal one when the document does not exist.
func (m *Manager) loadOrHealProfile(ctx context.Context, ident auth.Identity) (*model.User, error) {
	doc, err := m.store.Get(ctx, model.UsersCollection, ident.ID)
	if err != nil {
		return nil, faults.Classify(err)
	}
	if doc != nil {
		user := model.UserFromDoc(*doc)
		user.Handle = ident.Handle
		return &user, nil
	}

	user := &model.User{
		ID:     ident.ID,
		Name:   model.DeriveName(ident.Handle),
		Handle: ident.Handle,
		Avatar: model.DefaultAvatar(ident.ID),
		Status: model.DefaultStatus,
		Online: true,
	}
	if err := m.writeProfile(ctx, user); err != nil {
		return nil, faults.Classify(err)
	}
	m.logger.Info("healed missing profile", zap.String("handle", ident.Handle))
	return user, nil
}

func (m *Manager) writeProfile(ctx context.Context, user *model.User) error {
	body, err := user.Doc()
	if err != nil {
		return err
	}
	return m.store.Set(ctx, model.UsersCollection, user.ID, body)
}

func (m *Manager) markOnline(ctx context.Context, userID string, online bool) {
	if err := m.writer.UpdateProfile(ctx, userID, map[string]any{"isOnline": online}); err != nil {
		m.logger.Warn("online flag update failed",
			zap.String("user", userID), zap.Bool("online", online), zap.Error(err))
	}
}
