package deck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/cardsync/internal/model"
	"github.com/tonimelisma/cardsync/internal/recordid"
	"github.com/tonimelisma/cardsync/internal/store"
)

// SubjectDeletePolicy says what happens to a deleted subject's cards. The
// zero value is deliberately invalid: callers must choose.
type SubjectDeletePolicy int

const (
	// DeleteCascade deletes the subject's cards along with it.
	DeleteCascade SubjectDeletePolicy = iota + 1
	// DeleteReassign moves the subject's cards to the default subject.
	DeleteReassign
)

func (p SubjectDeletePolicy) String() string {
	switch p {
	case DeleteCascade:
		return "cascade"
	case DeleteReassign:
		return "reassign"
	default:
		return fmt.Sprintf("SubjectDeletePolicy(%d)", int(p))
	}
}

// CreateSubject stores a new subject. The name is normalized ("  hISTORY "
// becomes "History") and must not match an existing subject
// case-insensitively.
func (s *Service) CreateSubject(ctx context.Context, name string) (*model.Subject, error) {
	normalized := model.NormalizeSubjectName(name)
	if normalized == "" {
		return nil, fmt.Errorf("%w: name", ErrEmptyField)
	}

	var subj *model.Subject

	err := s.update(ctx, "create subject", func(tx *store.Tx) error {
		ws, err := workspace(ctx, tx)
		if err != nil {
			return err
		}

		subj, err = s.createSubject(ctx, tx, ws, normalized)

		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subject created", slog.String("id", subj.ID), slog.String("name", subj.Name))

	return subj, nil
}

func (s *Service) createSubject(ctx context.Context, tx *store.Tx, ws, name string) (*model.Subject, error) {
	existing, err := tx.FindSubjectByName(ctx, name)
	if err == nil {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateSubject, existing.Name)
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	subj := &model.Subject{
		ID:          recordid.NewTemporary(now),
		Name:        name,
		CreatedAt:   now,
		UpdatedAt:   now,
		WorkspaceID: ws,
	}

	return subj, tx.PutSubject(ctx, subj)
}

// ensureSubject creates the subject record if none matches name.
func (s *Service) ensureSubject(ctx context.Context, tx *store.Tx, ws, name string) error {
	_, err := tx.FindSubjectByName(ctx, name)
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	_, err = s.createSubject(ctx, tx, ws, name)

	return err
}

// DeleteSubject deletes a subject, resolving its cards with policy, and
// queues the remote deletes. Cards are matched by subject name, so a subject
// that only exists on cards can be deleted too; ErrUnknownSubject means there
// is neither a record nor a card. Deleting the default subject with
// DeleteReassign is rejected. It returns the number of cards deleted or
// moved.
func (s *Service) DeleteSubject(ctx context.Context, name string, policy SubjectDeletePolicy) (int, error) {
	if policy != DeleteCascade && policy != DeleteReassign {
		return 0, fmt.Errorf("%w: got %s", ErrDeletePolicy, policy)
	}

	var affected int

	err := s.update(ctx, "delete subject", func(tx *store.Tx) error {
		subj, err := tx.FindSubjectByName(ctx, name)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if subj == nil {
			cards, err := tx.ListCardsBySubject(ctx, name)
			if err != nil {
				return err
			}

			if len(cards) == 0 {
				return fmt.Errorf("%w: %q", ErrUnknownSubject, name)
			}
		}

		now := s.now()

		switch policy {
		case DeleteCascade:
			affected, err = cascadeCards(ctx, tx, name, now)
		case DeleteReassign:
			affected, err = s.reassignCards(ctx, tx, name, now)
		}

		if err != nil || subj == nil {
			return err
		}

		if _, err := tx.DeleteRecord(ctx, model.CollectionSubjects, subj.ID); err != nil {
			return err
		}

		return tombstone(ctx, tx, model.CollectionSubjects, subj.ID, subj.CanonicalID, now)
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("subject deleted",
		slog.String("name", name),
		slog.String("policy", policy.String()),
		slog.Int("cards", affected),
	)

	return affected, nil
}

// ReassignSubjectCards moves every card of a subject to the default subject
// and keeps the subject itself. It returns the number of cards moved.
func (s *Service) ReassignSubjectCards(ctx context.Context, name string) (int, error) {
	var moved int

	err := s.update(ctx, "reassign subject cards", func(tx *store.Tx) error {
		var err error

		moved, err = s.reassignCards(ctx, tx, name, s.now())

		return err
	})
	if err != nil {
		return 0, err
	}

	return moved, nil
}

func cascadeCards(ctx context.Context, tx *store.Tx, subject string, now time.Time) (int, error) {
	cards, err := tx.ListCardsBySubject(ctx, subject)
	if err != nil {
		return 0, err
	}

	for _, c := range cards {
		if err := deleteCard(ctx, tx, c, now); err != nil {
			return 0, err
		}
	}

	return len(cards), nil
}

// reassignCards moves a subject's cards to the default subject, creating the
// default subject record if the workspace has none yet.
func (s *Service) reassignCards(ctx context.Context, tx *store.Tx, subject string, now time.Time) (int, error) {
	if model.FoldName(subject) == model.FoldName(s.defaultSubject) {
		return 0, fmt.Errorf("deck: cannot reassign cards of the default subject %q to itself", s.defaultSubject)
	}

	ws, err := workspace(ctx, tx)
	if err != nil {
		return 0, err
	}

	if err := s.ensureSubject(ctx, tx, ws, s.defaultSubject); err != nil {
		return 0, err
	}

	n, err := tx.ReassignSubject(ctx, subject, s.defaultSubject, now)
	if err != nil {
		return 0, err
	}

	return int(n), nil
}
