package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payment-collection-broker/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(id, upstream string, key domain.BusinessKey) *domain.TransactionRecord {
	now := time.Now().UTC()
	return &domain.TransactionRecord{
		CorrelationID: id,
		UpstreamID:    upstream,
		BusinessKey:   key,
		Amount:        500000,
		Currency:      "KES",
		Provider:      "mpesa",
		Status:        domain.TransactionStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

var polKey = domain.BusinessKey{PolicyRef: "POL-1", PayerID: "254700000001"}

func TestTransactionStore_PutAndLookups(t *testing.T) {
	s := NewTransactionStore()
	ctx := context.Background()
	rec := newRecord("c1", "U1", polKey)

	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "U1", got.UpstreamID)

	got, err = s.FindByUpstreamID(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.CorrelationID)

	got, err = s.FindActiveByBusinessKey(ctx, polKey)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.CorrelationID)
}

func TestTransactionStore_AbsentLookupsReturnNil(t *testing.T) {
	s := NewTransactionStore()
	ctx := context.Background()

	got, err := s.Get(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.FindByUpstreamID(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.FindActiveByBusinessKey(ctx, polKey)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestTransactionStore_Put_Conflicts(t *testing.T) {
	s := NewTransactionStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, newRecord("c1", "U1", polKey)))

	other := domain.BusinessKey{PolicyRef: "POL-2", PayerID: "254700000002"}

	assert.ErrorIs(t, s.Put(ctx, newRecord("c2", "U2", polKey)), domain.ErrActiveTransactionExists)
	assert.ErrorIs(t, s.Put(ctx, newRecord("c1", "U3", other)), domain.ErrDuplicateCorrelationID)
	assert.ErrorIs(t, s.Put(ctx, newRecord("c3", "U1", other)), domain.ErrDuplicateUpstreamID)
	assert.Equal(t, 1, s.Len())
}

func TestTransactionStore_KeysContainingSeparatorDoNotCollide(t *testing.T) {
	s := NewTransactionStore()
	ctx := context.Background()
	a := domain.BusinessKey{PolicyRef: "POL|X", PayerID: "P"}
	b := domain.BusinessKey{PolicyRef: "POL", PayerID: "X|P"}

	require.NoError(t, s.Put(ctx, newRecord("c1", "U1", a)))
	require.NoError(t, s.Put(ctx, newRecord("c2", "U2", b)))

	got, err := s.FindActiveByBusinessKey(ctx, b)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "c2", got.CorrelationID)
}

func TestTransactionStore_ReturnsCopies(t *testing.T) {
	s := NewTransactionStore()
	ctx := context.Background()
	rec := newRecord("c1", "U1", polKey)
	require.NoError(t, s.Put(ctx, rec))

	rec.Status = domain.TransactionStatusCompleted
	got, _ := s.Get(ctx, "c1")
	assert.Equal(t, domain.TransactionStatusPending, got.Status)

	got.Status = domain.TransactionStatusFailed
	again, _ := s.Get(ctx, "c1")
	assert.Equal(t, domain.TransactionStatusPending, again.Status)
}

func TestTransactionStore_CompareAndSwap(t *testing.T) {
	s := NewTransactionStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, newRecord("c1", "U1", polKey)))

	fp1 := "fp1"
	upd, _ := s.Get(ctx, "c1")
	upd.Status = domain.TransactionStatusCompleted
	upd.LastWebhookFingerprint = &fp1
	require.NoError(t, s.CompareAndSwap(ctx, upd, nil))

	got, _ := s.Get(ctx, "c1")
	assert.Equal(t, domain.TransactionStatusCompleted, got.Status)
	require.NotNil(t, got.LastWebhookFingerprint)
	assert.Equal(t, "fp1", *got.LastWebhookFingerprint)

	t.Run("stale expectation", func(t *testing.T) {
		fp2 := "fp2"
		upd.LastWebhookFingerprint = &fp2
		assert.ErrorIs(t, s.CompareAndSwap(ctx, upd, nil), domain.ErrStaleRecord)
	})

	t.Run("unknown record", func(t *testing.T) {
		assert.ErrorIs(t, s.CompareAndSwap(ctx, newRecord("nope", "U9", polKey), nil), domain.ErrTransactionNotFound)
	})

	t.Run("immutable fields are not overwritten", func(t *testing.T) {
		tampered, _ := s.Get(ctx, "c1")
		tampered.Amount = 1
		tampered.UpstreamID = "U-other"
		fp3 := "fp3"
		tampered.LastWebhookFingerprint = &fp3
		require.NoError(t, s.CompareAndSwap(ctx, tampered, &fp1))

		got, _ := s.Get(ctx, "c1")
		assert.Equal(t, int64(500000), got.Amount)
		assert.Equal(t, "U1", got.UpstreamID)
	})
}

func TestTransactionStore_FailedReleasesBusinessKey(t *testing.T) {
	s := NewTransactionStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, newRecord("c1", "U1", polKey)))

	fp := "fp"
	upd, _ := s.Get(ctx, "c1")
	upd.Status = domain.TransactionStatusFailed
	upd.LastWebhookFingerprint = &fp
	require.NoError(t, s.CompareAndSwap(ctx, upd, nil))

	active, err := s.FindActiveByBusinessKey(ctx, polKey)
	require.NoError(t, err)
	assert.Nil(t, active)

	assert.NoError(t, s.Put(ctx, newRecord("c2", "U2", polKey)))
}

func TestTransactionStore_ConcurrentPutSameKey(t *testing.T) {
	s := NewTransactionStore()
	var ok int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := newRecord(fmt.Sprintf("c%d", i), fmt.Sprintf("U%d", i), polKey)
			if s.Put(context.Background(), rec) == nil {
				atomic.AddInt32(&ok, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok)
	assert.Equal(t, 1, s.Len())
}

func TestTransactionStore_ConcurrentCompareAndSwap(t *testing.T) {
	s := NewTransactionStore()
	require.NoError(t, s.Put(context.Background(), newRecord("c1", "U1", polKey)))

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fp := fmt.Sprintf("fp%d", i)
			upd, _ := s.Get(context.Background(), "c1")
			upd.Status = domain.TransactionStatusCompleted
			upd.LastWebhookFingerprint = &fp
			if s.CompareAndSwap(context.Background(), upd, nil) == nil {
				atomic.AddInt32(&ok, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok)
}
