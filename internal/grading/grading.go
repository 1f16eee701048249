// Package grading scores exam answers. It has no side effects: callers load
// the exam and its questions and persist the result.
package grading

import (
	"fmt"
	"slices"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/model"
)

// ErrInvalidReference is returned when an exam names a question that does
// not exist.
var ErrInvalidReference = apperr.NotFound("exam references a missing question")

// MaxScore sums the points of every question the exam references.
func MaxScore(exam model.Exam, questions map[string]model.Question) (float64, error) {
	var sum float64
	for _, id := range exam.QuestionIDs {
		q, ok := questions[id]
		if !ok {
			return 0, fmt.Errorf("question %s: %w", id, ErrInvalidReference)
		}
		sum += float64(q.Points)
	}
	return sum, nil
}

// Grade scores answers against the exam. Answers for questions outside the
// exam are kept but never scored. When a question has several answers the
// last one counts.
func Grade(exam model.Exam, questions map[string]model.Question, answers []model.AttemptAnswer) (model.GradedSubmission, error) {
	maxScore, err := MaxScore(exam, questions)
	if err != nil {
		return model.GradedSubmission{}, err
	}
	mode := exam.ScoringMode
	if mode == "" {
		mode = model.ScoringPerQuestionPoints
	}
	res := model.GradedSubmission{
		ScoringMode: mode,
		MaxScore:    maxScore,
		Answers:     make([]model.GradedAnswer, 0, len(answers)),
	}

	for _, a := range dedupe(answers) {
		ga := model.GradedAnswer{QuestionID: a.QuestionID, Answer: a.Answer}
		if !slices.Contains(exam.QuestionIDs, a.QuestionID) {
			res.Answers = append(res.Answers, ga)
			continue
		}
		q := questions[a.QuestionID]
		ga.MaxPoints = float64(q.Points)
		if q.Type == model.QuestionShortAnswer {
			ga.NeedsReview = true
			res.Answers = append(res.Answers, ga)
			continue
		}
		correct := a.Answer.Answered() && q.CorrectAnswer.Equal(a.Answer)
		ga.IsCorrect = &correct
		ga.Points = award(mode, exam.MarkingScheme, q, a.Answer, correct)
		res.Answers = append(res.Answers, ga)
	}
	total(&res, exam.PassingMarks)
	return res, nil
}

func award(mode model.ScoringMode, scheme model.MarkingScheme, q model.Question, ans model.Answer, correct bool) float64 {
	points := float64(q.Points)
	if mode == model.ScoringUniformMarkingScheme {
		switch {
		case correct:
			return scheme.Correct * points
		case ans.Answered():
			return scheme.Wrong * points
		default:
			return 0
		}
	}
	if correct {
		return points
	}
	return 0
}

func dedupe(answers []model.AttemptAnswer) []model.AttemptAnswer {
	last := make(map[string]int, len(answers))
	for i, a := range answers {
		last[a.QuestionID] = i
	}
	out := make([]model.AttemptAnswer, 0, len(last))
	for i, a := range answers {
		if last[a.QuestionID] == i {
			out = append(out, a)
		}
	}
	return out
}

// total derives the score fields from the per-answer points.
func total(res *model.GradedSubmission, passingMarks float64) {
	var sum float64
	res.PendingReview = false
	for _, a := range res.Answers {
		sum += a.Points
		if a.NeedsReview && !a.Reviewed {
			res.PendingReview = true
		}
	}
	res.TotalScore = min(max(sum, 0), res.MaxScore)
	res.Percentage = 0
	if res.MaxScore > 0 {
		res.Percentage = res.TotalScore / res.MaxScore * 100
	}
	res.Passed = res.Percentage >= passingMarks
}

// Rescore recomputes totals after per-answer points changed.
func Rescore(res *model.GradedSubmission, exam model.Exam) {
	total(res, exam.PassingMarks)
}

// ApplyManualScore records a staff score for one answer and re-totals.
func ApplyManualScore(res *model.GradedSubmission, exam model.Exam, questionID string, points float64) error {
	i := slices.IndexFunc(res.Answers, func(a model.GradedAnswer) bool { return a.QuestionID == questionID })
	if i < 0 {
		return apperr.NotFound("no answer for question %s", questionID)
	}
	ga := &res.Answers[i]
	if ga.MaxPoints == 0 {
		return apperr.Validation("question %s is not part of the exam", questionID)
	}
	if points < 0 || points > ga.MaxPoints {
		return apperr.ValidationFields("score out of range", map[string]string{
			"points": fmt.Sprintf("must be between 0 and %g", ga.MaxPoints),
		})
	}
	ga.Points = points
	ga.Reviewed = true
	ga.NeedsReview = false
	Rescore(res, exam)
	return nil
}
