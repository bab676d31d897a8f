package aggregate

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/issueforge/pkg/models"
)

func TestAggregateScenario(t *testing.T) {
	a := New()
	a.AddResult("u1", models.Success(time.Second, "f1", "f2"))
	a.AddResult("u2", models.Success(time.Second, "f2", "f3"))
	a.AddResult("u3", models.Failure(time.Second, errors.New("boom")))

	r := a.Aggregate()
	assert.Equal(t, 3, r.Total)
	assert.Equal(t, 2, r.Successful)
	assert.Equal(t, 1, r.Failed)
	assert.InDelta(t, 66.67, r.SuccessRate, 0.01)
	assert.Equal(t, []string{"f1", "f2", "f3"}, r.Artifacts)
	assert.Equal(t, []UnitError{{UnitID: "u3", Message: "boom"}}, r.Errors)
	require.NoError(t, r.Validate())

	assert.False(t, a.AllSucceeded())
	assert.True(t, a.AnyFailed())
	assert.Equal(t, []string{"u3"}, a.Failed())
}

func TestAggregateEmpty(t *testing.T) {
	a := New()
	r := a.Aggregate()

	assert.Zero(t, r.Total)
	assert.Zero(t, r.SuccessRate)
	assert.Empty(t, r.Errors)
	assert.Empty(t, r.Artifacts)
	assert.NoError(t, r.Validate())
	assert.False(t, a.AllSucceeded())
	assert.False(t, a.AnyFailed())
}

func TestAddResultLastWriteWins(t *testing.T) {
	a := New()
	a.AddResult("u1", models.Failure(0, errors.New("first try")))
	a.AddResult("u1", models.Success(0, "out.go"))

	r := a.Aggregate()
	assert.Equal(t, 1, r.Total)
	assert.Equal(t, 1, r.Successful)
	assert.Empty(t, r.Errors)
	assert.True(t, a.AllSucceeded())

	got, ok := a.Get("u1")
	require.True(t, ok)
	assert.True(t, got.Succeeded())
}

func TestAggregateSkipsEmptyErrorMessages(t *testing.T) {
	a := New()
	a.AddResult("u1", models.TaskOutcome{Status: models.OutcomeTimeout})
	a.AddResult("u2", models.TaskOutcome{Status: models.OutcomeCancelled, Err: errors.New("dependency failed")})

	r := a.Aggregate()
	assert.Equal(t, 2, r.Failed)
	assert.Equal(t, []UnitError{{UnitID: "u2", Message: "dependency failed"}}, r.Errors)
}

func TestAddResultConcurrent(t *testing.T) {
	a := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				a.AddResult(fmt.Sprintf("u%d", i), models.Failure(0, errors.New("x")))
				return
			}
			a.AddResult(fmt.Sprintf("u%d", i), models.Success(0, "shared"))
		}(i)
	}
	wg.Wait()

	r := a.Aggregate()
	assert.Equal(t, 100, r.Total)
	assert.Equal(t, 75, r.Successful)
	assert.Equal(t, 25, r.Failed)
	assert.Equal(t, []string{"shared"}, r.Artifacts)
	assert.NoError(t, r.Validate())
}

func TestValidateDetectsInconsistency(t *testing.T) {
	err := AggregatedResult{Total: 3, Successful: 1, Failed: 1}.Validate()
	assert.ErrorIs(t, err, ErrInconsistent)

	err = AggregatedResult{SuccessRate: 50}.Validate()
	assert.ErrorIs(t, err, ErrInconsistent)
}

func TestReset(t *testing.T) {
	a := New()
	a.AddResult("u1", models.Success(0))
	a.Reset()
	assert.Equal(t, 0, a.Len())
}
