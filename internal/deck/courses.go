package deck

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/tonimelisma/cardsync/internal/model"
	"github.com/tonimelisma/cardsync/internal/recordid"
	"github.com/tonimelisma/cardsync/internal/store"
)

// NewCourse is the input of CreateCourse. Content is stored as given.
type NewCourse struct {
	Title   string `validate:"required"`
	Subject string
	Content string
}

// CourseGroup is the courses of one subject.
type CourseGroup struct {
	Subject string
	Courses []*model.Course
}

// CreateCourse stores a new dirty course with a temporary id.
func (s *Service) CreateCourse(ctx context.Context, in NewCourse) (*model.Course, error) {
	in.Title = strings.TrimSpace(in.Title)

	if err := s.check(in); err != nil {
		return nil, err
	}

	var course *model.Course

	err := s.update(ctx, "create course", func(tx *store.Tx) error {
		ws, err := workspace(ctx, tx)
		if err != nil {
			return err
		}

		now := s.now()
		course = &model.Course{
			ID:          recordid.NewTemporary(now),
			Title:       in.Title,
			Subject:     s.subjectOrDefault(in.Subject),
			Content:     in.Content,
			CreatedAt:   now,
			UpdatedAt:   now,
			WorkspaceID: ws,
		}

		return tx.PutCourse(ctx, course)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("course created", slog.String("id", course.ID), slog.String("title", course.Title))

	return course, nil
}

// CoursesBySubject groups every course under its subject, subjects sorted by
// name. Courses without a subject land under the default subject.
func (s *Service) CoursesBySubject(ctx context.Context) ([]CourseGroup, error) {
	courses, err := s.store.ListCourses(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)

	var groups []CourseGroup

	for _, c := range courses {
		name := s.subjectOrDefault(c.Subject)
		key := model.FoldName(name)

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, CourseGroup{Subject: name})
		}

		groups[i].Courses = append(groups[i].Courses, c)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return model.FoldName(groups[i].Subject) < model.FoldName(groups[j].Subject)
	})

	return groups, nil
}
