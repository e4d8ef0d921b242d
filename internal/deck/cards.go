package deck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tonimelisma/cardsync/internal/model"
	"github.com/tonimelisma/cardsync/internal/recordid"
	"github.com/tonimelisma/cardsync/internal/store"
)

// bulkSeparator splits an import line into question, answer and subject.
const bulkSeparator = "/"

// NewCard is the input of CreateCard. A blank subject means the default
// subject.
type NewCard struct {
	Question string `validate:"required"`
	Answer   string `validate:"required"`
	Subject  string
}

// CardPatch lists the fields UpdateCard changes; nil fields are left alone.
type CardPatch struct {
	Question *string
	Answer   *string
	Subject  *string
}

// CreateCard stores a new dirty card with a temporary id, due immediately.
func (s *Service) CreateCard(ctx context.Context, in NewCard) (*model.Card, error) {
	in.Question = strings.TrimSpace(in.Question)
	in.Answer = strings.TrimSpace(in.Answer)

	if err := s.check(in); err != nil {
		return nil, err
	}

	var card *model.Card

	err := s.update(ctx, "create card", func(tx *store.Tx) error {
		ws, err := workspace(ctx, tx)
		if err != nil {
			return err
		}

		card = s.newCard(ws, in.Question, in.Answer, in.Subject)

		return tx.PutCard(ctx, card)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("card created", slog.String("id", card.ID), slog.String("subject", card.Subject))

	return card, nil
}

func (s *Service) newCard(ws, question, answer, subject string) *model.Card {
	now := s.now()

	return &model.Card{
		ID:          recordid.NewTemporary(now),
		Question:    question,
		Answer:      answer,
		Subject:     s.subjectOrDefault(subject),
		NextReview:  now,
		Interval:    model.DefaultInterval,
		Easiness:    model.DefaultEasiness,
		CreatedAt:   now,
		UpdatedAt:   now,
		WorkspaceID: ws,
	}
}

// UpdateCard applies a patch to a card and marks it dirty.
func (s *Service) UpdateCard(ctx context.Context, id string, patch CardPatch) (*model.Card, error) {
	for _, f := range []struct {
		name string
		v    *string
	}{{"question", patch.Question}, {"answer", patch.Answer}} {
		if f.v != nil && strings.TrimSpace(*f.v) == "" {
			return nil, fmt.Errorf("%w: %s", ErrEmptyField, f.name)
		}
	}

	var card *model.Card

	err := s.update(ctx, "update card", func(tx *store.Tx) error {
		var err error

		card, err = getCard(ctx, tx, id)
		if err != nil {
			return err
		}

		if patch.Question != nil {
			card.Question = strings.TrimSpace(*patch.Question)
		}

		if patch.Answer != nil {
			card.Answer = strings.TrimSpace(*patch.Answer)
		}

		if patch.Subject != nil {
			card.Subject = s.subjectOrDefault(*patch.Subject)
		}

		card.UpdatedAt = s.now()
		card.IsSynced = false

		return tx.PutCard(ctx, card)
	})
	if err != nil {
		return nil, err
	}

	return card, nil
}

// DeleteCard removes a card locally and queues its remote delete.
func (s *Service) DeleteCard(ctx context.Context, id string) error {
	err := s.update(ctx, "delete card", func(tx *store.Tx) error {
		card, err := getCard(ctx, tx, id)
		if err != nil {
			return err
		}

		return deleteCard(ctx, tx, card, s.now())
	})
	if err != nil {
		return err
	}

	s.logger.Info("card deleted", slog.String("id", id))

	return nil
}

func deleteCard(ctx context.Context, tx *store.Tx, card *model.Card, now time.Time) error {
	if _, err := tx.DeleteRecord(ctx, model.CollectionCards, card.ID); err != nil {
		return err
	}

	return tombstone(ctx, tx, model.CollectionCards, card.ID, card.CanonicalID, now)
}

func getCard(ctx context.Context, tx *store.Tx, id string) (*model.Card, error) {
	card, err := tx.GetCard(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCard, id)
	}

	return card, err
}

// BulkCreateCards imports newline-separated "question / answer / subject"
// lines. Lines with fewer than three segments, or with a blank question or
// answer, are skipped; segments past the third are ignored. It returns the
// number of cards created.
func (s *Service) BulkCreateCards(ctx context.Context, text string) (int, error) {
	type parsed struct{ question, answer, subject string }

	var lines []parsed

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		parts := strings.Split(line, bulkSeparator)
		if len(parts) < 3 {
			continue
		}

		p := parsed{
			question: strings.TrimSpace(parts[0]),
			answer:   strings.TrimSpace(parts[1]),
			subject:  parts[2],
		}

		if p.question == "" || p.answer == "" {
			continue
		}

		lines = append(lines, p)
	}

	if len(lines) == 0 {
		return 0, nil
	}

	err := s.update(ctx, "bulk create cards", func(tx *store.Tx) error {
		ws, err := workspace(ctx, tx)
		if err != nil {
			return err
		}

		for _, p := range lines {
			if err := tx.PutCard(ctx, s.newCard(ws, p.question, p.answer, p.subject)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("cards imported", slog.Int("count", len(lines)))

	return len(lines), nil
}

// SearchCards returns the cards whose question or answer contains term
// (case-insensitively), optionally restricted to a subject. An empty term
// matches everything; an empty or "all" subject matches every subject.
func (s *Service) SearchCards(ctx context.Context, term, subject string) ([]*model.Card, error) {
	var (
		cards []*model.Card
		err   error
	)

	if isAllSubjects(subject) {
		cards, err = s.store.ListCards(ctx)
	} else {
		cards, err = s.store.ListCardsBySubject(ctx, subject)
	}

	if err != nil {
		return nil, err
	}

	needle := model.FoldName(term)
	if needle == "" {
		return cards, nil
	}

	out := cards[:0]

	for _, c := range cards {
		if strings.Contains(model.FoldName(c.Question), needle) || strings.Contains(model.FoldName(c.Answer), needle) {
			out = append(out, c)
		}
	}

	return out, nil
}

// isAllSubjects reports whether a subject filter selects every subject.
func isAllSubjects(subject string) bool {
	subject = strings.TrimSpace(subject)
	return subject == "" || strings.EqualFold(subject, "all")
}
