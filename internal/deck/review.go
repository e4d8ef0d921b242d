package deck

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/cardsync/internal/model"
	"github.com/tonimelisma/cardsync/internal/srs"
	"github.com/tonimelisma/cardsync/internal/store"
)

// ApplyReview schedules card after a review graded quality (0..5) and stores
// the new interval, easiness, next review time and review count. The card is
// re-read inside the write, so the schedule builds on the stored row and a
// card deleted since it was loaded yields ErrUnknownCard. Cards written
// without scheduling state start from interval 1 and easiness 2.5.
func (s *Service) ApplyReview(ctx context.Context, card *model.Card, quality int) (*model.Card, error) {
	if quality < 0 || quality > srs.MaxQuality {
		return nil, fmt.Errorf("%w: got %d", srs.ErrInvalidQuality, quality)
	}

	var updated *model.Card

	err := s.update(ctx, "review card", func(tx *store.Tx) error {
		current, err := getCard(ctx, tx, card.ID)
		if err != nil {
			return err
		}

		easiness := current.Easiness
		if easiness == 0 {
			easiness = srs.DefaultEasiness
		}

		now := s.now()

		res, err := srs.ComputeReview(quality, current.Interval, easiness, now)
		if err != nil {
			return err
		}

		current.Interval = res.Interval
		current.Easiness = res.Easiness
		current.NextReview = res.NextReviewAt
		current.ReviewCount++
		current.UpdatedAt = now
		current.IsSynced = false
		updated = current

		return tx.PutCard(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("card reviewed",
		slog.String("id", updated.ID),
		slog.Int("quality", quality),
		slog.Int("interval", updated.Interval),
	)

	return updated, nil
}

// RecordReview applies a review to the card with the given id.
func (s *Service) RecordReview(ctx context.Context, cardID string, quality int) (*model.Card, error) {
	return s.ApplyReview(ctx, &model.Card{ID: cardID}, quality)
}

// StartReview returns the cards due now in random order. An empty or "all"
// subject selects every subject.
func (s *Service) StartReview(ctx context.Context, subject string) ([]*model.Card, error) {
	if isAllSubjects(subject) {
		subject = ""
	}

	due, err := s.store.ListDueCards(ctx, s.now(), subject)
	if err != nil {
		return nil, err
	}

	s.shuffle(len(due), func(i, j int) { due[i], due[j] = due[j], due[i] })

	return due, nil
}
