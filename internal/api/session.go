// Package api exposes the engine to presentation layers as plain service
// façades. Every error crossing this boundary is a classified *faults.Fault
// so callers can render Kind.Message() without inspecting internals.
package api

import (
	"context"

	"github.com/vchat-dev/vchat/internal/account"
	"github.com/vchat-dev/vchat/internal/faults"
	"github.com/vchat-dev/vchat/internal/model"
	"github.com/vchat-dev/vchat/internal/status"
)

// SessionService exposes session state and lifecycle.
type SessionService struct {
	manager *account.Manager
	machine *status.Machine
}

func NewSessionService(manager *account.Manager, machine *status.Machine) *SessionService {
	return &SessionService{manager: manager, machine: machine}
}

// Status reports the connectivity state and the signed-in user, if any.
func (s *SessionService) Status() (status.State, *model.User) {
	return s.machine.Current(), s.manager.Current()
}

func (s *SessionService) Login(ctx context.Context, handle, secret string) (*model.User, error) {
	user, err := s.manager.Login(ctx, handle, secret)
	if err != nil {
		return nil, faults.Classify(err)
	}
	return user, nil
}

func (s *SessionService) Signup(ctx context.Context, name, handle, secret string) (*model.User, error) {
	user, err := s.manager.Signup(ctx, name, handle, secret)
	if err != nil {
		return user, faults.Classify(err)
	}
	return user, nil
}

func (s *SessionService) Logout(ctx context.Context) error {
	return s.manager.Logout(ctx)
}

func (s *SessionService) UpdateProfile(ctx context.Context, patch account.ProfilePatch) error {
	if err := s.manager.UpdateProfile(ctx, patch); err != nil {
		return faults.Classify(err)
	}
	return nil
}
