package cart

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/cartprobe/internal/mocks"
	"github.com/xkilldash9x/cartprobe/internal/reconcile"
	"github.com/xkilldash9x/cartprobe/internal/reporting"
)

type failingSource struct{ err error }

func (f failingSource) Read(context.Context) (Snapshot, error) { return Snapshot{}, f.err }

func sampleSnapshot() Snapshot {
	return Snapshot{
		URL: "https://shop.example/cart",
		Items: []reconcile.ItemRecord{
			{Label: "Headphones", UnitPrice: 29.50, Quantity: 1},
			{Label: "Speaker", UnitPrice: 15.25, Quantity: 2},
		},
		ObservedTotal: 60,
	}
}

func fixedNow() time.Time { return time.Date(2024, 5, 4, 10, 30, 15, 0, time.UTC) }

func TestAudit(t *testing.T) {
	ctx := context.Background()
	opts := AuditOptions{Name: "CartPriceValidation", Now: fixedNow, Reconcile: []reconcile.Option{reconcile.WithNow(fixedNow)}}

	t.Run("reconciles and persists to both sinks", func(t *testing.T) {
		rep := new(mocks.MockReporter)
		store := new(mocks.MockRunStore)
		rep.On("Write", mock.AnythingOfType("*reporting.Run")).Return(nil).Once()
		store.On("SaveRun", mock.Anything, mock.AnythingOfType("*reporting.Run")).Return(nil).Once()

		run, err := Audit(ctx, Fixed(sampleSnapshot()), rep, store, opts, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, run)

		assert.NotEmpty(t, run.ID)
		assert.Equal(t, "CartPriceValidation", run.Name)
		assert.Equal(t, "https://shop.example/cart", run.URL)
		assert.Equal(t, fixedNow(), run.StartedAt)
		assert.True(t, run.Result.Matched)
		assert.Equal(t, 60.0, run.Result.ComputedTotal)

		rep.AssertExpectations(t)
		store.AssertExpectations(t)
		assert.Same(t, run, rep.Calls[0].Arguments.Get(0))
		assert.Same(t, run, store.Calls[0].Arguments.Get(1))
	})

	t.Run("a mismatch is reported, not returned", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		rep := new(mocks.MockReporter)
		rep.On("Write", mock.Anything).Return(nil)

		snap := sampleSnapshot()
		snap.ObservedTotal = 44.75
		run, err := Audit(ctx, Fixed(snap), rep, nil, opts, zap.New(core))
		require.NoError(t, err)
		assert.False(t, run.Result.Matched)
		assert.True(t, run.Result.AlternateMatched, "44.75 is the sum of line prices")

		require.Equal(t, 1, logs.FilterMessage("Cart total mismatch.").Len())
	})

	t.Run("returns the run when persistence fails", func(t *testing.T) {
		rep := new(mocks.MockReporter)
		store := new(mocks.MockRunStore)
		dbErr := errors.New("connection refused")
		rep.On("Write", mock.Anything).Return(nil)
		store.On("SaveRun", mock.Anything, mock.Anything).Return(dbErr)

		run, err := Audit(ctx, Fixed(sampleSnapshot()), rep, store, opts, zaptest.NewLogger(t))
		require.NotNil(t, run)
		assert.True(t, run.Result.Matched)

		var pe *PersistError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, run.ID, pe.RunID)
		assert.ErrorIs(t, err, dbErr)
		assert.True(t, strings.HasPrefix(pe.Err.Error(), "store: "))
		rep.AssertExpectations(t)
	})

	t.Run("a failing report does not abort the store", func(t *testing.T) {
		rep := new(mocks.MockReporter)
		diskErr := errors.New("disk full")
		rep.On("Write", mock.Anything).Return(diskErr)
		store := &slowStore{delay: 200 * time.Millisecond}

		run, err := Audit(ctx, Fixed(sampleSnapshot()), rep, store, opts, zaptest.NewLogger(t))
		require.NotNil(t, run)
		var pe *PersistError
		require.ErrorAs(t, err, &pe)
		assert.ErrorIs(t, err, diskErr)
		assert.NoError(t, store.err, "the store save ran to completion")
		assert.Same(t, run, store.saved)
	})

	t.Run("both sink failures are reported", func(t *testing.T) {
		rep := new(mocks.MockReporter)
		store := new(mocks.MockRunStore)
		diskErr := errors.New("disk full")
		dbErr := errors.New("connection refused")
		rep.On("Write", mock.Anything).Return(diskErr)
		store.On("SaveRun", mock.Anything, mock.Anything).Return(dbErr)

		_, err := Audit(ctx, Fixed(sampleSnapshot()), rep, store, opts, zaptest.NewLogger(t))
		assert.ErrorIs(t, err, diskErr)
		assert.ErrorIs(t, err, dbErr)
	})

	t.Run("read failures produce no run", func(t *testing.T) {
		rep := new(mocks.MockReporter)
		readErr := errors.New("boom")

		run, err := Audit(ctx, failingSource{err: readErr}, rep, nil, opts, zaptest.NewLogger(t))
		assert.Nil(t, run)
		assert.ErrorIs(t, err, readErr)
		rep.AssertNotCalled(t, "Write", mock.Anything)
	})

	t.Run("invalid carts are rejected before reporting", func(t *testing.T) {
		rep := new(mocks.MockReporter)
		snap := sampleSnapshot()
		snap.Items[0].Quantity = -1

		run, err := Audit(ctx, Fixed(snap), rep, nil, opts, zaptest.NewLogger(t))
		assert.Nil(t, run)
		assert.ErrorIs(t, err, reconcile.ErrInvalidInput)
		rep.AssertNotCalled(t, "Write", mock.Anything)
	})

	t.Run("works without any sink", func(t *testing.T) {
		run, err := Audit(ctx, Fixed(sampleSnapshot()), nil, nil, opts, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.True(t, run.Result.Matched)
	})
}

// slowStore takes delay to save, giving up only if its context ends first.
type slowStore struct {
	delay time.Duration
	saved *reporting.Run
	err   error
}

func (s *slowStore) SaveRun(ctx context.Context, run *reporting.Run) error {
	select {
	case <-time.After(s.delay):
		s.saved = run
	case <-ctx.Done():
		s.err = ctx.Err()
	}
	return s.err
}

func TestFixed_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Fixed(sampleSnapshot()).Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

var _ reporting.Reporter = (*mocks.MockReporter)(nil)
