// Package faults maps raw collaborator failures into the closed taxonomy
// every public sync operation surfaces. Classification inspects
// machine-readable codes first; substring matching on human-readable
// messages is a last resort only.
package faults

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/vchat-dev/vchat/internal/docstore"
	"golang.org/x/crypto/bcrypt"
)

// Kind is a classified failure category.
type Kind uint8

const (
	Unknown Kind = iota
	Offline
	Unauthenticated
	InvalidCredential
	PermissionDenied
	NotConfigured
	AlreadyExists
	ProfileMissing
)

func (k Kind) String() string {
	switch k {
	case Offline:
		return "offline"
	case Unauthenticated:
		return "unauthenticated"
	case InvalidCredential:
		return "invalid-credential"
	case PermissionDenied:
		return "permission-denied"
	case NotConfigured:
		return "not-configured"
	case AlreadyExists:
		return "already-exists"
	case ProfileMissing:
		return "profile-missing"
	default:
		return "unknown"
	}
}

// Message returns the single short user-facing string for the kind. The
// presentation layer shows these and never a raw backend error.
func (k Kind) Message() string {
	switch k {
	case Offline:
		return "You are offline. Changes will sync when online."
	case Unauthenticated:
		return "Session expired. Please log in again."
	case InvalidCredential:
		return "Invalid credentials"
	case PermissionDenied:
		return "You don't have access to that."
	case NotConfigured:
		return "Service is not set up yet. Contact your administrator."
	case AlreadyExists:
		return "Account exists. Please log in."
	case ProfileMissing:
		return "Your profile could not be loaded."
	default:
		return "Something went wrong. Please try again."
	}
}

// Recoverable reports whether the failure heals itself without caller
// intervention. Only Offline does: subscriptions stay registered and
// resume when connectivity returns.
func (k Kind) Recoverable() bool {
	return k == Offline
}

// Fault is a classified error.
type Fault struct {
	Kind Kind
	Err  error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return f.Kind.String()
}

func (f *Fault) Unwrap() error { return f.Err }

// New wraps err under an explicit kind.
func New(kind Kind, err error) *Fault {
	return &Fault{Kind: kind, Err: err}
}

// Newf creates a classified error from a format string.
func Newf(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the classified kind of err, Unknown included.
func KindOf(err error) Kind {
	f := Classify(err)
	if f == nil {
		return Unknown
	}
	return f.Kind
}

// Classify maps err into the taxonomy. Already-classified errors pass
// through unchanged; nil stays nil.
func Classify(err error) *Fault {
	if err == nil {
		return nil
	}

	var f *Fault
	if errors.As(err, &f) {
		return f
	}

	// Machine-readable codes first.
	var se *docstore.Error
	if errors.As(err, &se) {
		return New(kindForStoreCode(se.Code), err)
	}
	if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, jwt.ErrTokenNotValidYet) {
		return New(Unauthenticated, err)
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return New(InvalidCredential, err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return New(Offline, err)
	}

	// Substring matching is the last resort and never primary routing.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"):
		return New(AlreadyExists, err)
	case strings.Contains(msg, "offline"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "connection refused"):
		return New(Offline, err)
	case strings.Contains(msg, "permission"):
		return New(PermissionDenied, err)
	case strings.Contains(msg, "not configured"),
		strings.Contains(msg, "unconfigured"):
		return New(NotConfigured, err)
	}
	return New(Unknown, err)
}

// kindForStoreCode maps document store codes. A not-found code means the
// backing store itself is absent or unprovisioned — a missing document is
// reported as (nil, nil), never as an error.
func kindForStoreCode(code docstore.Code) Kind {
	switch code {
	case docstore.CodeUnavailable:
		return Offline
	case docstore.CodePermissionDenied:
		return PermissionDenied
	case docstore.CodeUnauthenticated:
		return Unauthenticated
	case docstore.CodeNotFound:
		return NotConfigured
	case docstore.CodeAlreadyExists:
		return AlreadyExists
	default:
		return Unknown
	}
}
