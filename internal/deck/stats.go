package deck

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/tonimelisma/cardsync/internal/model"
)

// Dashboard sizing.
const (
	forecastDays   = 7
	difficultLimit = 5
)

// Stats is the dashboard summary of the local deck.
type Stats struct {
	Total    int
	Subjects int

	// DueNow counts cards due at the time of the call.
	DueNow int

	// Forecast counts reviews per calendar day starting today; today
	// includes overdue cards.
	Forecast []DayForecast

	// Strength is the average interval per subject in days, rounded to one
	// decimal, strongest first.
	Strength     []SubjectValue
	Distribution []SubjectValue

	// Difficult holds the cards with the highest reviews-per-interval ratio.
	Difficult []*model.Card

	AverageStrength float64
}

// DayForecast is the number of cards falling due on Day.
type DayForecast struct {
	Day   time.Time
	Count int
}

// SubjectValue pairs a subject name with a number.
type SubjectValue struct {
	Subject string
	Value   float64
}

// Stats computes the dashboard. Day boundaries follow loc.
func (s *Service) Stats(ctx context.Context, loc *time.Location) (*Stats, error) {
	cards, err := s.store.ListCards(ctx)
	if err != nil {
		return nil, err
	}

	subjects, err := s.store.ListSubjects(ctx)
	if err != nil {
		return nil, err
	}

	return computeStats(cards, subjects, s.nowFunc().In(loc)), nil
}

func computeStats(cards []*model.Card, subjects []*model.Subject, now time.Time) *Stats {
	st := &Stats{
		Total:    len(cards),
		Subjects: len(subjects),
		Forecast: make([]DayForecast, forecastDays),
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for i := range st.Forecast {
		st.Forecast[i].Day = today.AddDate(0, 0, i)
	}

	type subjectAgg struct {
		cards    int
		interval int
	}

	bySubject := make(map[string]*subjectAgg)
	totalInterval := 0

	for _, c := range cards {
		if !c.NextReview.After(now) {
			st.DueNow++
		}

		if day := dayIndex(today, c.NextReview.In(now.Location())); day < forecastDays {
			st.Forecast[max(day, 0)].Count++
		}

		interval := max(c.Interval, 1)
		totalInterval += interval

		key := model.FoldName(c.Subject)
		agg := bySubject[key]

		if agg == nil {
			agg = &subjectAgg{}
			bySubject[key] = agg
		}

		agg.cards++
		agg.interval += interval
	}

	for _, subj := range subjects {
		agg := bySubject[model.FoldName(subj.Name)]

		strength := 0.0
		if agg != nil && agg.cards > 0 {
			strength = round1(float64(agg.interval) / float64(agg.cards))
			st.Distribution = append(st.Distribution, SubjectValue{Subject: subj.Name, Value: float64(agg.cards)})
		}

		st.Strength = append(st.Strength, SubjectValue{Subject: subj.Name, Value: strength})
	}

	sort.SliceStable(st.Strength, func(i, j int) bool {
		return st.Strength[i].Value > st.Strength[j].Value
	})

	st.Difficult = mostDifficult(cards, difficultLimit)

	if len(cards) > 0 {
		st.AverageStrength = round1(float64(totalInterval) / float64(len(cards)))
	}

	return st
}

// dayIndex returns how many calendar days after today t falls; negative for
// the past.
func dayIndex(today, t time.Time) int {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, today.Location())

	// Round to absorb DST shifts.
	return int(math.Round(d.Sub(today).Hours() / 24))
}

func mostDifficult(cards []*model.Card, limit int) []*model.Card {
	ranked := make([]*model.Card, len(cards))
	copy(ranked, cards)

	score := func(c *model.Card) float64 {
		return float64(c.ReviewCount) / float64(max(c.Interval, 1))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return score(ranked[i]) > score(ranked[j])
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	return ranked
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
