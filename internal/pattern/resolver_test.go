package pattern

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tutorslots/internal/domain"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) FetchWeeklyPatterns(ctx context.Context, tutorID int64) ([]domain.WeeklyPattern, error) {
	args := m.Called(ctx, tutorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.WeeklyPattern), args.Error(1)
}

func (m *mockAPI) WriteWeeklyPattern(ctx context.Context, w domain.PatternWrite) (*domain.WeeklyPattern, error) {
	args := m.Called(ctx, w)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WeeklyPattern), args.Error(1)
}

func (m *mockAPI) DeleteWeeklyPattern(ctx context.Context, patternID int64) error {
	return m.Called(ctx, patternID).Error(0)
}

func date(y int, mo time.Month, d int) time.Time {
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

func TestSelectPattern(t *testing.T) {
	jan := domain.WeeklyPattern{ID: 1, AppliedFrom: date(2024, 1, 1)}
	feb := domain.WeeklyPattern{ID: 2, AppliedFrom: date(2024, 2, 1)}

	tests := []struct {
		name     string
		patterns []domain.WeeklyPattern
		week     time.Time
		wantID   int64
	}{
		{"february week picks february", []domain.WeeklyPattern{jan, feb}, date(2024, 2, 5), 2},
		{"order does not matter", []domain.WeeklyPattern{feb, jan}, date(2024, 2, 5), 2},
		{"january week picks january", []domain.WeeklyPattern{jan, feb}, date(2024, 1, 15), 1},
		{"applied on the monday itself", []domain.WeeklyPattern{{ID: 3, AppliedFrom: date(2024, 3, 4)}}, date(2024, 3, 4), 3},
		{"nothing before the week", []domain.WeeklyPattern{feb}, date(2024, 1, 15), 0},
		{"empty list", nil, date(2024, 1, 15), 0},
		{
			"tie goes to highest id",
			[]domain.WeeklyPattern{{ID: 7, AppliedFrom: date(2024, 1, 1)}, {ID: 9, AppliedFrom: date(2024, 1, 1)}},
			date(2024, 1, 8),
			9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectPattern(tt.patterns, tt.week)
			if tt.wantID == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestSelectPatternAnchorsToMonday(t *testing.T) {
	// Applied on Wednesday: not active for the week it starts in.
	p := domain.WeeklyPattern{ID: 1, AppliedFrom: date(2024, 3, 6)}
	assert.Nil(t, SelectPattern([]domain.WeeklyPattern{p}, date(2024, 3, 8)))
	assert.NotNil(t, SelectPattern([]domain.WeeklyPattern{p}, date(2024, 3, 11)))
}

func TestBuildAvailabilityGrid(t *testing.T) {
	g, err := BuildAvailabilityGrid(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, g.Count())

	p := &domain.WeeklyPattern{ID: 1, Slots: []domain.Slot{
		{DayInWeek: domain.Monday, SlotIndex: 18},
		{DayInWeek: domain.Sunday, SlotIndex: 0},
		{DayInWeek: domain.Saturday, SlotIndex: 47},
	}}
	g, err = BuildAvailabilityGrid(p)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Count())

	on, err := g.At(domain.Monday, 18)
	require.NoError(t, err)
	assert.True(t, on)
	on, _ = g.At(domain.Tuesday, 18)
	assert.False(t, on)
	on, _ = g.At(domain.Sunday, 0)
	assert.True(t, on)

	_, err = g.At(8, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	rows := g.Rows()
	require.Len(t, rows, domain.SlotsPerDay)
	assert.Equal(t, "09:00 - 09:30", rows[18].Label)
	assert.True(t, rows[18].Days[domain.Monday-1])
	assert.Equal(t, "23:30 - 00:00", rows[47].Label)
}

func TestBuildAvailabilityGridRejectsBadSlot(t *testing.T) {
	_, err := BuildAvailabilityGrid(&domain.WeeklyPattern{ID: 4, Slots: []domain.Slot{{DayInWeek: 0, SlotIndex: 1}}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResolverForWeek(t *testing.T) {
	api := new(mockAPI)
	ctx := context.Background()
	api.On("FetchWeeklyPatterns", ctx, int64(42)).Return([]domain.WeeklyPattern{
		{ID: 1, TutorID: 42, AppliedFrom: date(2024, 1, 1), Slots: []domain.Slot{{DayInWeek: 2, SlotIndex: 20}}},
	}, nil).Once()

	res, err := NewResolver(api, nil).ForWeek(ctx, 42, date(2024, 1, 17))
	require.NoError(t, err)
	assert.Equal(t, date(2024, 1, 15), res.WeekStart)
	require.NotNil(t, res.Pattern)
	assert.Equal(t, 1, res.Grid.Count())
	api.AssertExpectations(t)
}

func TestResolverForWeekPropagatesFetchError(t *testing.T) {
	api := new(mockAPI)
	ctx := context.Background()
	api.On("FetchWeeklyPatterns", ctx, int64(1)).Return(nil, domain.Transport("pattern api down", errors.New("dial"))).Once()

	_, err := NewResolver(api, nil).ForWeek(ctx, 1, date(2024, 1, 1))
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestApplyPatternEditSendsFullSet(t *testing.T) {
	api := new(mockAPI)
	ctx := context.Background()
	want := domain.PatternWrite{
		AppliedFrom: date(2024, 3, 4),
		Slots:       []domain.Slot{{DayInWeek: 2, SlotIndex: 1}, {DayInWeek: 3, SlotIndex: 5}},
	}
	api.On("WriteWeeklyPattern", ctx, want).Return(&domain.WeeklyPattern{ID: 11}, nil).Once()

	p, err := NewEditor(api, nil).ApplyPatternEdit(ctx, date(2024, 3, 6), []domain.Slot{
		{DayInWeek: 3, SlotIndex: 5}, {DayInWeek: 2, SlotIndex: 1}, {DayInWeek: 3, SlotIndex: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), p.ID)
	api.AssertExpectations(t)
}

func TestApplyPatternEditValidatesBeforeWriting(t *testing.T) {
	api := new(mockAPI)
	_, err := NewEditor(api, nil).ApplyPatternEdit(context.Background(), date(2024, 3, 4), []domain.Slot{{DayInWeek: 2, SlotIndex: 48}})
	assert.ErrorIs(t, err, domain.ErrValidation)
	api.AssertNotCalled(t, "WriteWeeklyPattern", mock.Anything, mock.Anything)
}

func TestDeletePattern(t *testing.T) {
	api := new(mockAPI)
	ctx := context.Background()
	api.On("DeleteWeeklyPattern", ctx, int64(5)).Return(nil).Once()

	ed := NewEditor(api, nil)
	require.NoError(t, ed.DeletePattern(ctx, 5))
	assert.ErrorIs(t, ed.DeletePattern(ctx, 0), domain.ErrValidation)
	api.AssertExpectations(t)
}
