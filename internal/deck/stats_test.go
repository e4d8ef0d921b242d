package deck

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cardsync/internal/model"
)

func TestComputeStats(t *testing.T) {
	now := t0

	a := &model.Card{ID: "a", Subject: "Math", Interval: 1, ReviewCount: 4, NextReview: now.AddDate(0, 0, -2)}
	b := &model.Card{ID: "b", Subject: "math", Interval: 3, ReviewCount: 1, NextReview: now.AddDate(0, 0, 1)}
	c := &model.Card{ID: "c", Subject: "History", Interval: 10, NextReview: now.AddDate(0, 0, 30)}

	subjects := []*model.Subject{{Name: "Math"}, {Name: "History"}, {Name: "Empty"}}

	st := computeStats([]*model.Card{a, b, c}, subjects, now)

	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.Subjects)
	assert.Equal(t, 1, st.DueNow)

	require.Len(t, st.Forecast, forecastDays)
	assert.True(t, st.Forecast[0].Day.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, st.Forecast[0].Count)
	assert.Equal(t, 1, st.Forecast[1].Count)

	for _, f := range st.Forecast[2:] {
		assert.Zero(t, f.Count)
	}

	assert.Equal(t, []SubjectValue{
		{Subject: "History", Value: 10},
		{Subject: "Math", Value: 2},
		{Subject: "Empty", Value: 0},
	}, st.Strength)

	assert.Equal(t, []SubjectValue{
		{Subject: "Math", Value: 2},
		{Subject: "History", Value: 1},
	}, st.Distribution)

	require.Len(t, st.Difficult, 3)
	assert.Equal(t, "a", st.Difficult[0].ID)
	assert.Equal(t, "b", st.Difficult[1].ID)

	assert.InDelta(t, 4.7, st.AverageStrength, 1e-9)
}

func TestComputeStats_Empty(t *testing.T) {
	st := computeStats(nil, nil, t0)

	assert.Zero(t, st.Total)
	assert.Zero(t, st.AverageStrength)
	assert.Empty(t, st.Strength)
	assert.Empty(t, st.Difficult)
	assert.Len(t, st.Forecast, forecastDays)
}

func TestComputeStats_DifficultLimit(t *testing.T) {
	var cards []*model.Card

	for i := range 8 {
		cards = append(cards, &model.Card{ID: string(rune('a' + i)), Interval: 1, ReviewCount: i, NextReview: t0})
	}

	st := computeStats(cards, nil, t0)
	require.Len(t, st.Difficult, difficultLimit)
	assert.Equal(t, "h", st.Difficult[0].ID)
}

func TestStats_ReadsStore(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.BulkCreateCards(ctx, "Q1/A1/math\nQ2/A2/math")
	require.NoError(t, err)

	_, err = svc.CreateSubject(ctx, "math")
	require.NoError(t, err)

	st, err := svc.Stats(ctx, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Subjects)
	assert.Equal(t, 2, st.DueNow)
	assert.Equal(t, 2, st.Forecast[0].Count)
}
