// Package deck is the mutation layer: every user-initiated create, update,
// delete and review goes through a Service, which stamps records with their
// sync metadata (temporary id, timestamps, dirty flag, workspace), writes them
// to the local store and then asks for a sync. It also answers the read-side
// questions the shell needs (due cards, search, dashboard statistics).
package deck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tonimelisma/cardsync/internal/model"
	"github.com/tonimelisma/cardsync/internal/recordid"
	"github.com/tonimelisma/cardsync/internal/store"
)

// Validation failures. None of them mutate state.
var (
	ErrEmptyField       = errors.New("deck: required field is empty")
	ErrDuplicateSubject = errors.New("deck: subject already exists")
	ErrUnknownCard      = errors.New("deck: no such card")
	ErrUnknownSubject   = errors.New("deck: no such subject")
	ErrNoWorkspace      = errors.New("deck: no active workspace")
	ErrDeletePolicy     = errors.New("deck: deleting a subject needs an explicit policy")
)

// Trigger receives a sync request after every successful mutation. Request
// must not block.
type Trigger interface {
	Request()
}

type nopTrigger struct{}

func (nopTrigger) Request() {}

// Service applies mutations to the local store.
type Service struct {
	store          *store.Store
	trigger        Trigger
	logger         *slog.Logger
	defaultSubject string
	validate       *validator.Validate

	nowFunc func() time.Time
	shuffle func(n int, swap func(i, j int))
}

// NewService creates a Service. A nil trigger disables sync requests.
// defaultSubject is where cards go when their subject is blank or deleted
// with DeleteReassign.
func NewService(st *store.Store, trigger Trigger, defaultSubject string, logger *slog.Logger) *Service {
	if trigger == nil {
		trigger = nopTrigger{}
	}

	return &Service{
		store:          st,
		trigger:        trigger,
		logger:         logger,
		defaultSubject: model.NormalizeSubjectName(defaultSubject),
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		nowFunc:        time.Now,
		shuffle:        rand.Shuffle,
	}
}

// DefaultSubject returns the normalized default subject name.
func (s *Service) DefaultSubject() string {
	return s.defaultSubject
}

func (s *Service) now() time.Time {
	return s.nowFunc().UTC()
}

// workspaceReader is satisfied by both *store.Store and *store.Tx.
type workspaceReader interface {
	Workspace(ctx context.Context) (string, error)
}

// workspace returns the active workspace or ErrNoWorkspace.
func workspace(ctx context.Context, r workspaceReader) (string, error) {
	ws, err := r.Workspace(ctx)
	if err != nil {
		return "", fmt.Errorf("deck: reading workspace: %w", err)
	}

	if ws == "" {
		return "", ErrNoWorkspace
	}

	return ws, nil
}

// update runs fn in a store transaction and requests a sync when it commits.
func (s *Service) update(ctx context.Context, op string, fn func(tx *store.Tx) error) error {
	if err := s.store.Update(ctx, fn); err != nil {
		return err
	}

	s.logger.Debug("mutation committed", slog.String("op", op))
	s.trigger.Request()

	return nil
}

// check validates v against its struct tags, reporting missing fields as
// ErrEmptyField.
func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("deck: validating input: %w", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}

	return fmt.Errorf("%w: %s", ErrEmptyField, strings.Join(fields, ", "))
}

// subjectOrDefault normalizes a subject name, falling back to the default
// subject when it is blank.
func (s *Service) subjectOrDefault(name string) string {
	if n := model.NormalizeSubjectName(name); n != "" {
		return n
	}

	return s.defaultSubject
}

// tombstone records the remote delete owed for a locally deleted record.
// Temporary records that never reached the remote need none; once a push has
// taught us the canonical id, that id is what the remote knows.
func tombstone(ctx context.Context, tx *store.Tx, c model.Collection, id, canonicalID string, now time.Time) error {
	remoteID := id
	if !recordid.IsCanonical(id) {
		if canonicalID == "" {
			return nil
		}

		remoteID = canonicalID
	}

	return tx.AddPendingDeletion(ctx, model.PendingDeletion{ID: remoteID, Collection: c, CreatedAt: now})
}
