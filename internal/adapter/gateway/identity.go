package gateway

import (
	"context"
	"fmt"

	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// UserVerifier implements ports.IdentityVerifier from the users table. KYC
// itself happens upstream; only the resulting account status is checked here.
type UserVerifier struct {
	users ports.UserRepository
}

func NewUserVerifier(users ports.UserRepository) *UserVerifier {
	return &UserVerifier{users: users}
}

func (v *UserVerifier) Verify(ctx context.Context, userID uuid.UUID) error {
	user, err := v.users.GetByID(ctx, userID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("get user: %w", err))
	}
	if user == nil {
		return apperror.ErrNotFound("user")
	}
	if !user.IsActive() {
		return apperror.ErrAccountInactive("user")
	}
	return nil
}
