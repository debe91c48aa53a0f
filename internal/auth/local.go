package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	passwordvalidator "github.com/wagslane/go-password-validator"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vchat-dev/vchat/internal/faults"
)

// minSecretEntropy rejects trivially guessable secrets at signup.
// Existing identities are never re-checked.
const minSecretEntropy = 40

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	id TEXT PRIMARY KEY,
	handle TEXT NOT NULL UNIQUE,
	secret_hash BLOB NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Options configures a Local provider.
type Options struct {
	// Disabled makes every operation fail as not-configured, matching a
	// deployment where the identity backend was never provisioned.
	Disabled bool
	// TokenTTL bounds how long a persisted session stays valid.
	TokenTTL time.Duration
}

// Local is a sqlite-backed Provider. Sessions are signed tokens persisted
// in the same database, so a restart resumes the signed-in identity.
type Local struct {
	db     *sql.DB
	logger *zap.Logger
	opts   Options
	key    []byte

	mu       sync.Mutex
	handlers map[int]func(*Identity)
	nextID   int
}

// Open opens (creating if needed) the identity database at path.
func Open(path string, opts Options, logger *zap.Logger) (*Local, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 30 * 24 * time.Hour
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	l := &Local{
		db:       db,
		logger:   logger,
		opts:     opts,
		handlers: make(map[int]func(*Identity)),
	}
	if err := l.loadSigningKey(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the identity database.
func (l *Local) Close() error {
	return l.db.Close()
}

func (l *Local) loadSigningKey() error {
	var value string
	err := l.db.QueryRow(`SELECT value FROM auth_state WHERE key = 'signing_key'`).Scan(&value)
	switch {
	case err == nil:
		key, err := hex.DecodeString(value)
		if err != nil {
			return err
		}
		l.key = key
		return nil
	case errors.Is(err, sql.ErrNoRows):
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return err
		}
		if _, err := l.db.Exec(
			`INSERT INTO auth_state (key, value) VALUES ('signing_key', ?)`,
			hex.EncodeToString(key),
		); err != nil {
			return err
		}
		l.key = key
		return nil
	default:
		return err
	}
}

func (l *Local) disabled() error {
	if l.opts.Disabled {
		return faults.New(faults.NotConfigured, errors.New("identity provider is disabled"))
	}
	return nil
}

// CreateIdentity registers handle with secret and signs the identity in.
func (l *Local) CreateIdentity(ctx context.Context, handle, secret string) (Identity, error) {
	if err := l.disabled(); err != nil {
		return Identity{}, err
	}
	handle = strings.ToLower(strings.TrimSpace(handle))
	if handle == "" {
		return Identity{}, faults.Newf(faults.InvalidCredential, "handle is required")
	}
	if err := passwordvalidator.Validate(secret, minSecretEntropy); err != nil {
		return Identity{}, faults.New(faults.InvalidCredential, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, err
	}

	id := uuid.NewString()
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO identities (id, handle, secret_hash, created_at) VALUES (?, ?, ?, ?)`,
		id, handle, hash, time.Now().UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return Identity{}, faults.New(faults.AlreadyExists, err)
		}
		return Identity{}, err
	}

	ident := Identity{ID: id, Handle: handle}
	if err := l.signIn(ctx, ident); err != nil {
		return Identity{}, err
	}
	l.logger.Info("identity created", zap.String("handle", handle))
	return ident, nil
}

// Authenticate verifies handle/secret and signs the identity in.
func (l *Local) Authenticate(ctx context.Context, handle, secret string) (Identity, error) {
	if err := l.disabled(); err != nil {
		return Identity{}, err
	}
	handle = strings.ToLower(strings.TrimSpace(handle))

	var id string
	var hash []byte
	err := l.db.QueryRowContext(ctx,
		`SELECT id, secret_hash FROM identities WHERE handle = ?`, handle,
	).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, faults.Newf(faults.InvalidCredential, "unknown handle or wrong secret")
	}
	if err != nil {
		return Identity{}, err
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return Identity{}, faults.New(faults.InvalidCredential, err)
	}

	ident := Identity{ID: id, Handle: handle}
	if err := l.signIn(ctx, ident); err != nil {
		return Identity{}, err
	}
	l.logger.Info("identity authenticated", zap.String("handle", handle))
	return ident, nil
}

// SignOut clears the persisted session token. Signing out while already
// signed out is not an error.
func (l *Local) SignOut(ctx context.Context) error {
	if err := l.disabled(); err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM auth_state WHERE key = 'session_token'`,
	); err != nil {
		return err
	}
	l.notify(nil)
	return nil
}

// Current returns the identity of the persisted session, if any.
func (l *Local) Current(ctx context.Context) (*Identity, error) {
	if err := l.disabled(); err != nil {
		return nil, err
	}
	var token string
	err := l.db.QueryRowContext(ctx,
		`SELECT value FROM auth_state WHERE key = 'session_token'`,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ident, err := l.parseToken(token)
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

// OnIdentityChange registers handler, invoking it once immediately.
func (l *Local) OnIdentityChange(handler func(*Identity)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers[id] = handler
	l.mu.Unlock()

	current, err := l.Current(context.Background())
	if err != nil {
		current = nil
	}
	handler(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.handlers, id)
			l.mu.Unlock()
		})
	}
}

func (l *Local) notify(ident *Identity) {
	l.mu.Lock()
	handlers := make([]func(*Identity), 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()
	for _, h := range handlers {
		h(ident)
	}
}

type sessionClaims struct {
	Handle string `json:"handle"`
	jwt.RegisteredClaims
}

func (l *Local) signIn(ctx context.Context, ident Identity) error {
	now := time.Now()
	claims := sessionClaims{
		Handle: ident.Handle,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ident.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(l.opts.TokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.key)
	if err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO auth_state (key, value) VALUES ('session_token', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		token,
	); err != nil {
		return err
	}
	l.notify(&ident)
	return nil
}

func (l *Local) parseToken(token string) (Identity, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return l.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Identity{}, faults.New(faults.Unauthenticated, err)
	}
	return Identity{ID: claims.Subject, Handle: claims.Handle}, nil
}
