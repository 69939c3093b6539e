package rental

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"faberland/internal/pricing"
	"faberland/internal/types"
)

// --- Mock PlotStore ---

type mockPlotStore struct {
	mock.Mock
}

func (m *mockPlotStore) IsSold(ctx context.Context, plotID int) (bool, error) {
	args := m.Called(ctx, plotID)
	return args.Bool(0), args.Error(1)
}

func (m *mockPlotStore) GetByID(ctx context.Context, plotID int) (*types.PlotRecord, error) {
	args := m.Called(ctx, plotID)
	if r := args.Get(0); r != nil {
		return r.(*types.PlotRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPlotStore) GetAllSold(ctx context.Context) ([]*types.PlotRecord, error) {
	args := m.Called(ctx)
	if r := args.Get(0); r != nil {
		return r.([]*types.PlotRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPlotStore) GetByOwner(ctx context.Context, ownerAddress string) ([]*types.PlotRecord, error) {
	args := m.Called(ctx, ownerAddress)
	if r := args.Get(0); r != nil {
		return r.([]*types.PlotRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPlotStore) CreateIfAbsent(ctx context.Context, rec *types.PlotRecord) (bool, error) {
	args := m.Called(ctx, rec)
	return args.Bool(0), args.Error(1)
}

func (m *mockPlotStore) Renew(ctx context.Context, plotID int, term types.RentalTerm) (*types.PlotRecord, error) {
	args := m.Called(ctx, plotID, term)
	if r := args.Get(0); r != nil {
		return r.(*types.PlotRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPlotStore) PurgeTestPlot(ctx context.Context, plotID int) error {
	args := m.Called(ctx, plotID)
	return args.Error(0)
}

// --- Helpers ---

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(store PlotStore) *Service {
	svc := NewService(store, pricing.NewStaticPriceTable(), nil)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func validRequest(plotID int, term types.RentalTerm) *types.RentalRequest {
	return &types.RentalRequest{
		PlotID:       plotID,
		Term:         term,
		OwnerAddress: "0xAbC1230000000000000000000000000000000042",
		OwnerEmail:   "owner@example.com",
	}
}

// --- MarkAsSold ---

func TestService_MarkAsSold_DerivesDatesFromTerm(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	var written *types.PlotRecord
	store.On("CreateIfAbsent", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			written = args.Get(1).(*types.PlotRecord)
		}).
		Return(true, nil)
	store.On("GetByID", mock.Anything, 5).
		Return(&types.PlotRecord{ID: 5, IsSold: true}, nil)

	_, err := svc.MarkAsSold(context.Background(), validRequest(5, types.TermQuarterly))
	require.NoError(t, err)

	require.NotNil(t, written)
	assert.True(t, written.IsSold)
	assert.Equal(t, fixedNow, written.RentalStartDate)
	assert.Equal(t, fixedNow, written.SoldAt)
	assert.Equal(t, fixedNow.AddDate(0, 0, 90), written.RentalEndDate)
	store.AssertExpectations(t)
}

func TestService_MarkAsSold_InvalidTerm(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	_, err := svc.MarkAsSold(context.Background(), validRequest(5, "biweekly"))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationInvalidTerm, appErr.Code)
	store.AssertNotCalled(t, "CreateIfAbsent", mock.Anything, mock.Anything)
}

func TestService_MarkAsSold_UnknownPlot(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	_, err := svc.MarkAsSold(context.Background(), validRequest(49, types.TermMonthly))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundPlot, appErr.Code)
	store.AssertNotCalled(t, "CreateIfAbsent", mock.Anything, mock.Anything)
}

func TestService_MarkAsSold_AlreadySold(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	store.On("CreateIfAbsent", mock.Anything, mock.Anything).Return(false, nil)

	_, err := svc.MarkAsSold(context.Background(), validRequest(5, types.TermMonthly))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictAlreadySold, appErr.Code)
}

func TestService_MarkAsSold_ConcurrentBuyersOneWinner(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	// The store honors set-if-absent: only the first insert reports created.
	store.On("CreateIfAbsent", mock.Anything, mock.Anything).Return(true, nil).Once()
	store.On("CreateIfAbsent", mock.Anything, mock.Anything).Return(false, nil)
	store.On("GetByID", mock.Anything, 7).
		Return(&types.PlotRecord{ID: 7, IsSold: true}, nil)

	const buyers = 8
	var wg sync.WaitGroup
	results := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.MarkAsSold(context.Background(), validRequest(7, types.TermMonthly))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeConflictAlreadySold, appErr.Code)
		conflicts++
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, buyers-1, conflicts)
}

func TestService_MarkAsSold_StorageErrorPassesThrough(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	store.On("CreateIfAbsent", mock.Anything, mock.Anything).
		Return(false, types.NewAppError(types.ErrCodeStorageUnavailable, "store down", nil))

	_, err := svc.MarkAsSold(context.Background(), validRequest(5, types.TermMonthly))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeStorageUnavailable, appErr.Code)
}

// --- Renew ---

func TestService_Renew_Success(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	renewed := &types.PlotRecord{
		ID:            10,
		IsSold:        true,
		RentalTerm:    types.TermYearly,
		RentalEndDate: fixedNow.AddDate(0, 0, 365),
	}
	store.On("Renew", mock.Anything, 10, types.TermYearly).Return(renewed, nil)

	got, err := svc.Renew(context.Background(), 10, types.TermYearly)
	require.NoError(t, err)
	assert.Equal(t, renewed, got)
	store.AssertExpectations(t)
}

func TestService_Renew_InvalidTerm(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	_, err := svc.Renew(context.Background(), 10, "decade")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationInvalidTerm, appErr.Code)
	store.AssertNotCalled(t, "Renew", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Renew_NotFound(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	store.On("Renew", mock.Anything, 10, types.TermMonthly).
		Return(nil, types.NewAppError(types.ErrCodeNotFoundPlot, "no record", nil))

	_, err := svc.Renew(context.Background(), 10, types.TermMonthly)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundPlot, appErr.Code)
}

// --- Expiry derivation ---

func TestIsExpired_BoundaryIsInclusive(t *testing.T) {
	rec := &types.PlotRecord{RentalEndDate: fixedNow}

	// end == now counts as expired.
	assert.True(t, IsExpired(rec, fixedNow))
	assert.True(t, IsExpired(rec, fixedNow.Add(time.Nanosecond)))
	assert.False(t, IsExpired(rec, fixedNow.Add(-time.Nanosecond)))
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		end  time.Time
		want types.PlotStatus
	}{
		{"well before expiry", fixedNow.AddDate(0, 0, 30), types.PlotStatusActive},
		{"just over the warning window", fixedNow.Add(types.ExpiringSoonWindow + time.Hour), types.PlotStatusActive},
		{"inside the warning window", fixedNow.Add(48 * time.Hour), types.PlotStatusExpiringSoon},
		{"exactly at the warning window", fixedNow.Add(types.ExpiringSoonWindow), types.PlotStatusExpiringSoon},
		{"at expiry", fixedNow, types.PlotStatusExpired},
		{"long expired", fixedNow.AddDate(0, 0, -100), types.PlotStatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &types.PlotRecord{RentalEndDate: tt.end}
			assert.Equal(t, tt.want, StatusOf(rec, fixedNow))
		})
	}
}

func TestRemainingTime_ClampsAtZero(t *testing.T) {
	rec := &types.PlotRecord{RentalEndDate: fixedNow.AddDate(0, 0, -5)}
	assert.Equal(t, time.Duration(0), RemainingTime(rec, fixedNow))
}

// --- Reads ---

func TestService_GetPlot_DerivesStatusAtReadTime(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	store.On("GetByID", mock.Anything, 3).Return(&types.PlotRecord{
		ID:            3,
		IsSold:        true,
		RentalEndDate: fixedNow.Add(72 * time.Hour),
	}, nil)

	view, err := svc.GetPlot(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, types.PlotStatusExpiringSoon, view.Status)
	assert.False(t, view.Expired)
	assert.Equal(t, 3, view.RemainingDays)
}

func TestService_ListSold_DerivesViews(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	store.On("GetAllSold", mock.Anything).Return([]*types.PlotRecord{
		{ID: 1, IsSold: true, RentalEndDate: fixedNow.AddDate(0, 0, 20)},
		{ID: 2, IsSold: true, RentalEndDate: fixedNow.AddDate(0, 0, -1)},
	}, nil)

	views, err := svc.ListSold(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, types.PlotStatusActive, views[0].Status)
	assert.Equal(t, types.PlotStatusExpired, views[1].Status)
	assert.True(t, views[1].Expired)
	assert.Equal(t, 0, views[1].RemainingDays)
}

func TestService_ListSold_DetachedFromCallerCancellation(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	var errAtQuery error
	var hadDeadline bool
	store.On("GetAllSold", mock.Anything).
		Run(func(args mock.Arguments) {
			qctx := args.Get(0).(context.Context)
			errAtQuery = qctx.Err()
			_, hadDeadline = qctx.Deadline()
		}).
		Return([]*types.PlotRecord{
			{ID: 1, IsSold: true, RentalEndDate: fixedNow.AddDate(0, 0, 20)},
		}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A caller that has already disconnected must not poison the collapsed
	// read for everyone sharing it.
	views, err := svc.ListSold(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)

	assert.NoError(t, errAtQuery)
	assert.True(t, hadDeadline)
}

func TestService_ListByOwner(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	store.On("GetByOwner", mock.Anything, "0xabc").Return([]*types.PlotRecord{
		{ID: 8, IsSold: true, OwnerAddress: "0xAbC", RentalEndDate: fixedNow.AddDate(0, 0, 60)},
	}, nil)

	views, err := svc.ListByOwner(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "0xAbC", views[0].OwnerAddress)
	assert.Equal(t, types.PlotStatusActive, views[0].Status)
}

// --- Quotes ---

func TestService_QuoteAllTerms(t *testing.T) {
	svc := newTestService(new(mockPlotStore))

	quotes, err := svc.QuoteAllTerms(1)
	require.NoError(t, err)
	require.Len(t, quotes, 3)

	// Plot 1 is lakefront at $150/month.
	assert.Equal(t, int64(150), quotes[0].TotalPrice)
	assert.Equal(t, int64(405), quotes[1].TotalPrice)
	assert.Equal(t, int64(45), quotes[1].Savings)
	assert.Equal(t, int64(1440), quotes[2].TotalPrice)
	assert.Equal(t, int64(360), quotes[2].Savings)
}

// --- PurgeTestPlot ---

func TestService_PurgeTestPlot_Passthrough(t *testing.T) {
	store := new(mockPlotStore)
	svc := newTestService(store)

	store.On("PurgeTestPlot", mock.Anything, 999).Return(nil)

	require.NoError(t, svc.PurgeTestPlot(context.Background(), 999))
	store.AssertExpectations(t)
}
