package memory

import (
	"context"
	"fmt"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements ports.UserRepository.
type UserRepo struct{ s *Store }

// NewUserRepo creates a user repository over s.
func NewUserRepo(s *Store) *UserRepo { return &UserRepo{s: s} }

func (r *UserRepo) Create(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.ID]; ok {
		return ports.ErrDuplicateKey
	}
	if u.WalletBalance < 0 {
		return fmt.Errorf("insert user: negative wallet balance")
	}
	cp := *u
	r.s.users[u.ID] = &cp
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.get(id), nil
}

func (r *UserRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error) {
	if _, err := lockRow(ctx, tx, rowKey("users", id)); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.get(id), nil
}

func (r *UserRepo) get(id uuid.UUID) *domain.User {
	u, ok := r.s.users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}
