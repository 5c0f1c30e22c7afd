package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubReconciliationService counts calls and returns a configured error
type stubReconciliationService struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubReconciliationService) Reconcile(ctx context.Context, request *shared.ReconciliationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *stubReconciliationService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestWorkerPoolReconciliationService(t *testing.T) {
	ctx := context.Background()

	t.Run("DelegatesToBaseService", func(t *testing.T) {
		base := &stubReconciliationService{}
		pool, err := NewWorkerPoolReconciliationService(base, WorkerPoolConfig{Size: 2}, newTestLogger())
		require.NoError(t, err)
		defer pool.Shutdown()

		err = pool.Reconcile(ctx, &shared.ReconciliationRequest{TransactionID: uuid.New(), Attempt: 1})

		assert.NoError(t, err)
		assert.Equal(t, 1, base.callCount())
	})

	t.Run("PropagatesProcessingError", func(t *testing.T) {
		base := &stubReconciliationService{err: ErrOutcomeStillAmbiguous}
		pool, err := NewWorkerPoolReconciliationService(base, WorkerPoolConfig{Size: 2}, newTestLogger())
		require.NoError(t, err)
		defer pool.Shutdown()

		err = pool.Reconcile(ctx, &shared.ReconciliationRequest{TransactionID: uuid.New(), Attempt: 1})

		assert.ErrorIs(t, err, ErrOutcomeStillAmbiguous)
	})

	t.Run("HandlesConcurrentRequests", func(t *testing.T) {
		base := &stubReconciliationService{}
		pool, err := NewWorkerPoolReconciliationService(base, WorkerPoolConfig{Size: 4}, newTestLogger())
		require.NoError(t, err)
		defer pool.Shutdown()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, pool.Reconcile(ctx, &shared.ReconciliationRequest{
					TransactionID: uuid.New(),
					Attempt:       1,
				}))
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, base.callCount())
		assert.Equal(t, 4, pool.Capacity())
	})
}
