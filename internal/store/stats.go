package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/examportal/internal/model"
)

// Stats aggregates portal totals and per-exam attempt figures.
func (s *Store) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	var err error

	if st.TotalStudents, err = s.UserCount(ctx, model.UserRoleStudent); err != nil {
		return st, fmt.Errorf("count students: %w", err)
	}
	if st.TotalQuestions, err = s.QuestionCount(ctx); err != nil {
		return st, fmt.Errorf("count questions: %w", err)
	}
	exams, err := s.ListExams(ctx, ExamFilter{})
	if err != nil {
		return st, err
	}
	st.TotalExams = len(exams)
	attempts, err := s.ListAttempts(ctx, AttemptFilter{})
	if err != nil {
		return st, err
	}
	st.TotalSubmissions = len(attempts)

	byExam := make(map[string]*model.ExamStats, len(exams))
	st.Exams = make([]model.ExamStats, len(exams))
	for i, e := range exams {
		st.Exams[i] = model.ExamStats{ExamID: e.ID, Title: e.Title}
		byExam[e.ID] = &st.Exams[i]
	}
	passed := make(map[string]int)
	for _, a := range attempts {
		if a.Status == model.AttemptInProgress {
			st.ActiveAttempts++
		}
		es, ok := byExam[a.ExamID]
		if !ok {
			continue
		}
		es.Attempts++
		es.Violations += a.Violations.Total()
		switch {
		case a.Status == model.AttemptInProgress:
			es.InProgress++
		case a.Status == model.AttemptSuspended:
			es.Suspended++
		case a.Result != nil:
			es.Graded++
			es.AveragePercentage += a.Result.Percentage
			if a.Result.Passed {
				passed[a.ExamID]++
			}
		}
	}
	for i := range st.Exams {
		es := &st.Exams[i]
		if es.Graded > 0 {
			es.AveragePercentage /= float64(es.Graded)
			es.PassRate = float64(passed[es.ExamID]) / float64(es.Graded) * 100
		}
	}
	return st, nil
}
