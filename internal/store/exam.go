package store

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/pavelanni/examportal/internal/model"
)

// ExamFilter narrows ListExams. Empty fields match everything.
type ExamFilter struct {
	Status       model.ExamStatus
	Subject      string
	ClassGroup   string
	ExcludeDraft bool
}

func (f ExamFilter) match(e model.Exam) bool {
	if f.ExcludeDraft && e.Status == model.ExamDraft {
		return false
	}
	return (f.Status == "" || e.Status == f.Status) &&
		(f.Subject == "" || e.Subject == f.Subject) &&
		(f.ClassGroup == "" || e.ClassGroup == f.ClassGroup)
}

// CreateExam stores an exam, assigning an ID when empty.
func (s *Store) CreateExam(ctx context.Context, e *model.Exam) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := s.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	if _, err := putJSON(ctx, s.kv, prefixExam+e.ID, e, MustNotExist); err != nil {
		return fmt.Errorf("create exam: %w", err)
	}
	return nil
}

// GetExam returns an exam by ID.
func (s *Store) GetExam(ctx context.Context, id string) (*model.Exam, error) {
	e, _, err := getJSON[model.Exam](ctx, s.kv, prefixExam+id)
	if err != nil {
		return nil, fmt.Errorf("get exam %s: %w", id, err)
	}
	return &e, nil
}

// UpdateExam overwrites an existing exam.
func (s *Store) UpdateExam(ctx context.Context, e *model.Exam) error {
	old, err := s.GetExam(ctx, e.ID)
	if err != nil {
		return err
	}
	e.CreatedAt = old.CreatedAt
	e.CreatedBy = old.CreatedBy
	e.UpdatedAt = s.now().UTC()
	if _, err := putJSON(ctx, s.kv, prefixExam+e.ID, e, AnyVersion); err != nil {
		return fmt.Errorf("update exam %s: %w", e.ID, err)
	}
	return nil
}

// DeleteExam removes an exam.
func (s *Store) DeleteExam(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, prefixExam+id); err != nil {
		return fmt.Errorf("delete exam %s: %w", id, err)
	}
	return nil
}

// ListExams returns exams matching the filter, newest first.
func (s *Store) ListExams(ctx context.Context, f ExamFilter) ([]model.Exam, error) {
	all, err := scanJSON[model.Exam](ctx, s.kv, prefixExam)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	exams := all[:0]
	for _, e := range all {
		if f.match(e) {
			exams = append(exams, e)
		}
	}
	sort.SliceStable(exams, func(i, j int) bool {
		if !exams[i].CreatedAt.Equal(exams[j].CreatedAt) {
			return exams[i].CreatedAt.After(exams[j].CreatedAt)
		}
		return exams[i].ID < exams[j].ID
	})
	return exams, nil
}

// ExamsUsingQuestion returns the IDs of exams that reference questionID.
func (s *Store) ExamsUsingQuestion(ctx context.Context, questionID string) ([]string, error) {
	exams, err := s.ListExams(ctx, ExamFilter{})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range exams {
		if slices.Contains(e.QuestionIDs, questionID) {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}
