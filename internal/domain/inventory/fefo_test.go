package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
)

func day(d int) *time.Time {
	t := time.Date(2025, time.January, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func batch(qty int64, expiry *time.Time) Batch {
	return Batch{ID: id.New(), Quantity: qty, ExpiryDate: expiry}
}

func TestPlan_ConsumesEarliestExpiryFirst(t *testing.T) {
	b1 := batch(5, day(1))
	b2 := batch(5, day(10))

	// Pass them out of order; Plan must sort.
	plan, err := Plan(PlanRequest{ProductID: id.New(), Requested: 7, Aggregate: 10, Batches: []Batch{b2, b1}})
	require.NoError(t, err)

	require.Len(t, plan, 2)
	assert.Equal(t, b1.ID, *plan[0].BatchID)
	assert.Equal(t, int64(5), plan[0].Amount)
	assert.Equal(t, b2.ID, *plan[1].BatchID)
	assert.Equal(t, int64(2), plan[1].Amount)
}

func TestPlan_UndatedBatchesLast(t *testing.T) {
	undated := batch(10, nil)
	dated := batch(2, day(20))

	plan, err := Plan(PlanRequest{ProductID: id.New(), Requested: 3, Aggregate: 12, Batches: []Batch{undated, dated}})
	require.NoError(t, err)

	require.Len(t, plan, 2)
	assert.Equal(t, dated.ID, *plan[0].BatchID)
	assert.Equal(t, undated.ID, *plan[1].BatchID)
	assert.Equal(t, int64(1), plan[1].Amount)
}

func TestPlan_SameExpiryTieBreaksOnBatchID(t *testing.T) {
	a := batch(1, day(5))
	b := batch(1, day(5))
	first, second := a, b
	if id.Compare(a.ID, b.ID) > 0 {
		first, second = b, a
	}

	plan, err := Plan(PlanRequest{ProductID: id.New(), Requested: 2, Aggregate: 2, Batches: []Batch{second, first}})
	require.NoError(t, err)

	assert.Equal(t, first.ID, *plan[0].BatchID)
	assert.Equal(t, second.ID, *plan[1].BatchID)
}

func TestPlan_SkipsEmptyBatches(t *testing.T) {
	empty := batch(0, day(1))
	full := batch(4, day(2))

	plan, err := Plan(PlanRequest{ProductID: id.New(), Requested: 4, Aggregate: 4, Batches: []Batch{empty, full}})
	require.NoError(t, err)

	require.Len(t, plan, 1)
	assert.Equal(t, full.ID, *plan[0].BatchID)
}

func TestPlan_InsufficientStock(t *testing.T) {
	productID := id.New()
	_, err := Plan(PlanRequest{
		ProductID: productID,
		Requested: 11,
		Aggregate: 10,
		Batches:   []Batch{batch(5, day(1)), batch(5, day(2))},
	})
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInsufficientStock, appErr.Code)
	assert.Equal(t, productID.String(), appErr.Details["product_id"])
	assert.Equal(t, int64(11), appErr.Details["requested"])
	assert.Equal(t, int64(10), appErr.Details["available"])
}

func TestPlan_ImplicitBatch(t *testing.T) {
	plan, err := Plan(PlanRequest{ProductID: id.New(), Requested: 3, Aggregate: 8})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Nil(t, plan[0].BatchID)
	assert.Equal(t, int64(3), plan[0].Amount)

	_, err = Plan(PlanRequest{ProductID: id.New(), Requested: 9, Aggregate: 8})
	assert.True(t, apperror.IsInsufficientStock(err))
}

func TestPlan_SkipExpired(t *testing.T) {
	expired := batch(5, day(1))
	fresh := batch(5, day(30))
	asOf := time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)

	plan, err := Plan(PlanRequest{
		ProductID: id.New(),
		Requested: 5,
		Aggregate: 10,
		Batches:   []Batch{expired, fresh},
		Options:   PlanOptions{SkipExpired: true, AsOf: asOf},
	})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, fresh.ID, *plan[0].BatchID)

	_, err = Plan(PlanRequest{
		ProductID: id.New(),
		Requested: 6,
		Aggregate: 10,
		Batches:   []Batch{expired, fresh},
		Options:   PlanOptions{SkipExpired: true, AsOf: asOf},
	})
	assert.True(t, apperror.IsInsufficientStock(err))
}

func TestPlan_ExpiringTodayIsStillSellable(t *testing.T) {
	b := batch(1, day(15))
	asOf := time.Date(2025, time.January, 15, 23, 0, 0, 0, time.UTC)

	plan, err := Plan(PlanRequest{ProductID: id.New(), Requested: 1, Aggregate: 1, Batches: []Batch{b},
		Options: PlanOptions{SkipExpired: true, AsOf: asOf}})
	require.NoError(t, err)
	assert.Len(t, plan, 1)
}

func TestPlan_RejectsNonPositiveRequest(t *testing.T) {
	_, err := Plan(PlanRequest{ProductID: id.New(), Requested: 0, Aggregate: 5})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestPlan_DoesNotMutateInput(t *testing.T) {
	batches := []Batch{batch(5, day(10)), batch(5, day(1))}
	before := append([]Batch(nil), batches...)

	_, err := Plan(PlanRequest{ProductID: id.New(), Requested: 7, Aggregate: 10, Batches: batches})
	require.NoError(t, err)
	assert.Equal(t, before, batches)
}

func TestSnapshot_SameProductOnTwoLines(t *testing.T) {
	b1 := batch(3, day(1))
	b2 := batch(10, day(6))
	snap := NewSnapshot(&Availability{Product: Product{ID: id.New()}, Aggregate: 13, Batches: []Batch{b2, b1}})

	first, err := snap.Plan(4, PlanOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), Total(first))
	assert.Equal(t, b1.ID, *first[0].BatchID)

	second, err := snap.Plan(4, PlanOptions{})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, b2.ID, *second[0].BatchID)
	assert.Equal(t, int64(5), snap.Aggregate)

	_, err = snap.Plan(6, PlanOptions{})
	assert.True(t, apperror.IsInsufficientStock(err))
}
