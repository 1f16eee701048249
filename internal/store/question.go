package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/pavelanni/examportal/internal/model"
)

// QuestionFilter narrows ListQuestions. Empty fields match everything.
type QuestionFilter struct {
	Subject    string
	Topic      string
	Difficulty model.Difficulty
	Type       model.QuestionType
}

func (f QuestionFilter) match(q model.Question) bool {
	return (f.Subject == "" || q.Subject == f.Subject) &&
		(f.Topic == "" || q.Topic == f.Topic) &&
		(f.Difficulty == "" || q.Difficulty == f.Difficulty) &&
		(f.Type == "" || q.Type == f.Type)
}

// CreateQuestion stores a question, assigning an ID when empty.
func (s *Store) CreateQuestion(ctx context.Context, q *model.Question) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	now := s.now().UTC()
	q.CreatedAt, q.UpdatedAt = now, now
	if _, err := putJSON(ctx, s.kv, prefixQuestion+q.ID, q, MustNotExist); err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	q, _, err := getJSON[model.Question](ctx, s.kv, prefixQuestion+id)
	if err != nil {
		return nil, fmt.Errorf("get question %s: %w", id, err)
	}
	return &q, nil
}

// GetQuestions loads the given IDs. Missing questions are left out of the map.
func (s *Store) GetQuestions(ctx context.Context, ids []string) (map[string]model.Question, error) {
	out := make(map[string]model.Question, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		q, _, err := getJSON[model.Question](ctx, s.kv, prefixQuestion+id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get question %s: %w", id, err)
		}
		out[id] = q
	}
	return out, nil
}

// UpdateQuestion overwrites an existing question in place.
func (s *Store) UpdateQuestion(ctx context.Context, q *model.Question) error {
	old, err := s.GetQuestion(ctx, q.ID)
	if err != nil {
		return err
	}
	q.CreatedAt = old.CreatedAt
	q.CreatedBy = old.CreatedBy
	q.UpdatedAt = s.now().UTC()
	if _, err := putJSON(ctx, s.kv, prefixQuestion+q.ID, q, AnyVersion); err != nil {
		return fmt.Errorf("update question %s: %w", q.ID, err)
	}
	return nil
}

// DeleteQuestion removes a question.
func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, prefixQuestion+id); err != nil {
		return fmt.Errorf("delete question %s: %w", id, err)
	}
	return nil
}

// ListQuestions returns questions matching the filter, oldest first.
func (s *Store) ListQuestions(ctx context.Context, f QuestionFilter) ([]model.Question, error) {
	all, err := scanJSON[model.Question](ctx, s.kv, prefixQuestion)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	questions := all[:0]
	for _, q := range all {
		if f.match(q) {
			questions = append(questions, q)
		}
	}
	sort.SliceStable(questions, func(i, j int) bool {
		if !questions[i].CreatedAt.Equal(questions[j].CreatedAt) {
			return questions[i].CreatedAt.Before(questions[j].CreatedAt)
		}
		return questions[i].ID < questions[j].ID
	})
	return questions, nil
}

// QuestionCount returns the number of stored questions.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	records, err := s.kv.Scan(ctx, prefixQuestion)
	return len(records), err
}
