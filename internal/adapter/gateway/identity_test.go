package gateway

import (
	"context"
	"testing"

	"marketplace-ledger/internal/adapter/storage/memory"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserVerifier_Verify(t *testing.T) {
	ctx := context.Background()
	users := memory.NewUserRepo(memory.NewStore())

	active := &domain.User{ID: uuid.New(), Status: domain.UserStatusActive}
	banned := &domain.User{ID: uuid.New(), Status: domain.UserStatusBanned}
	require.NoError(t, users.Create(ctx, active))
	require.NoError(t, users.Create(ctx, banned))

	v := NewUserVerifier(users)

	assert.NoError(t, v.Verify(ctx, active.ID))
	assert.True(t, apperror.Is(v.Verify(ctx, banned.ID), apperror.CodeAccountInactive))
	assert.True(t, apperror.Is(v.Verify(ctx, uuid.New()), apperror.CodeNotFound))
}
