package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func openIdempotencyRepositoryForTest(t *testing.T) *IdempotencyRepository {
	t.Helper()

	return NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
}

func TestIdempotencyRepository_PostgresClaimAndComplete(t *testing.T) {
	repo := openIdempotencyRepositoryForTest(t)
	ctx := context.Background()

	key := domain.IdempotencyKey{CustomerID: uuid.New(), Value: " checkout-1 "}
	expiresAt := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	claimed, err := repo.Claim(ctx, key, "req-hash-1", expiresAt)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, claimed.Status)
	require.Equal(t, "checkout-1", claimed.Key.Value)

	require.NoError(t, repo.Complete(ctx, key, domain.IdempotencyStatusDone, []byte(`{"order_id":7}`), 201))
	require.ErrorIs(t, repo.Complete(ctx, key, domain.IdempotencyStatusFailed, nil, 409), domain.ErrIdempotencyAlreadyCompleted)

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, 201, got.HTTPStatus)
	require.JSONEq(t, `{"order_id":7}`, string(got.ResponseBody))
	require.True(t, got.ExpiresAt.Equal(expiresAt), "expiry mismatch: expected %s, got %s", expiresAt, got.ExpiresAt)

	replayed, err := repo.Claim(ctx, key, "req-hash-1", expiresAt)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	require.True(t, replayed.Completed())
}

func TestIdempotencyRepository_PostgresConflictsAreScopedToCustomer(t *testing.T) {
	repo := openIdempotencyRepositoryForTest(t)
	ctx := context.Background()

	customer := uuid.New()
	expiresAt := time.Now().UTC().Add(time.Hour)
	key := domain.IdempotencyKey{CustomerID: customer, Value: "shared"}

	_, err := repo.Claim(ctx, key, "req-hash-a", expiresAt)
	require.NoError(t, err)

	_, err = repo.Claim(ctx, key, "req-hash-a", expiresAt)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = repo.Claim(ctx, key, "req-hash-b", expiresAt)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	_, err = repo.Claim(ctx, domain.IdempotencyKey{CustomerID: uuid.New(), Value: "shared"}, "req-hash-b", expiresAt)
	require.NoError(t, err)
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	repo := openIdempotencyRepositoryForTest(t)
	ctx := context.Background()

	customer := uuid.New()
	now := time.Now().UTC()
	for i, offset := range []time.Duration{-5 * time.Minute, -4 * time.Minute, -3 * time.Minute} {
		_, err := repo.Claim(ctx, domain.IdempotencyKey{CustomerID: customer, Value: "expired-" + string(rune('a'+i))}, "h", now.Add(offset))
		require.NoError(t, err)
	}
	active := domain.IdempotencyKey{CustomerID: customer, Value: "active"}
	_, err := repo.Claim(ctx, active, "h", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	removed, err = repo.DeleteExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get(ctx, active)
	require.NoError(t, err)
}

func TestIdempotencyRepository_PostgresExpiredKeyIsReclaimedAndReleased(t *testing.T) {
	repo := openIdempotencyRepositoryForTest(t)
	ctx := context.Background()

	clock := time.Now().UTC()
	repo.WithClock(func() time.Time { return clock })
	key := domain.IdempotencyKey{CustomerID: uuid.New(), Value: "reuse"}

	_, err := repo.Claim(ctx, key, "old-hash", clock.Add(time.Minute))
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	_, err = repo.Get(ctx, key)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	reclaimed, err := repo.Claim(ctx, key, "new-hash", clock.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "new-hash", reclaimed.RequestHash)

	require.NoError(t, repo.Release(ctx, key))
	require.NoError(t, repo.Release(ctx, key))
	require.ErrorIs(t, repo.Complete(ctx, key, domain.IdempotencyStatusDone, nil, 201), domain.ErrIdempotencyKeyNotFound)
}
