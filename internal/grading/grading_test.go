package grading

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/model"
)

func mcQuestion(id string, points int, correct string) model.Question {
	return model.Question{
		ID:            id,
		Type:          model.QuestionMultipleChoice,
		Options:       []string{"A", "B", "C"},
		CorrectAnswer: model.StringAnswer(correct),
		Points:        points,
	}
}

func questionMap(qs ...model.Question) map[string]model.Question {
	m := make(map[string]model.Question, len(qs))
	for _, q := range qs {
		m[q.ID] = q
	}
	return m
}

func answer(qid string, a model.Answer) model.AttemptAnswer {
	return model.AttemptAnswer{QuestionID: qid, Answer: a}
}

func uniformExam(ids ...string) model.Exam {
	return model.Exam{
		QuestionIDs:   ids,
		ScoringMode:   model.ScoringUniformMarkingScheme,
		MarkingScheme: model.MarkingScheme{Correct: 1, Wrong: -0.25},
		PassingMarks:  50,
	}
}

func TestGradeUniformMarkingScheme(t *testing.T) {
	qs := questionMap(mcQuestion("q1", 1, "A"), mcQuestion("q2", 1, "B"))
	exam := uniformExam("q1", "q2")

	t.Run("one right one wrong", func(t *testing.T) {
		res, err := Grade(exam, qs, []model.AttemptAnswer{
			answer("q1", model.StringAnswer("A")),
			answer("q2", model.StringAnswer("C")),
		})
		require.NoError(t, err)
		require.InDelta(t, 0.75, res.TotalScore, 1e-9)
		require.Equal(t, 2.0, res.MaxScore)
		// Percentage is total over the sum of question points.
		require.InDelta(t, 37.5, res.Percentage, 1e-9)
		require.False(t, res.Passed)
		require.Equal(t, -0.25, res.Answers[1].Points)
		require.False(t, *res.Answers[1].IsCorrect)
	})

	t.Run("both right", func(t *testing.T) {
		res, err := Grade(exam, qs, []model.AttemptAnswer{
			answer("q1", model.StringAnswer("A")),
			answer("q2", model.StringAnswer("B")),
		})
		require.NoError(t, err)
		require.Equal(t, 2.0, res.TotalScore)
		require.Equal(t, 100.0, res.Percentage)
		require.True(t, res.Passed)
	})

	t.Run("unanswered scores zero", func(t *testing.T) {
		res, err := Grade(exam, qs, []model.AttemptAnswer{
			answer("q1", model.StringAnswer("")),
			answer("q2", model.Answer{}),
		})
		require.NoError(t, err)
		require.Equal(t, 0.0, res.TotalScore)
		for _, a := range res.Answers {
			require.Equal(t, 0.0, a.Points)
		}
	})
}

func TestGradeClampsTotal(t *testing.T) {
	qs := questionMap(mcQuestion("q1", 2, "A"), mcQuestion("q2", 2, "A"))

	low := uniformExam("q1", "q2")
	low.MarkingScheme = model.MarkingScheme{Correct: 1, Wrong: -3}
	res, err := Grade(low, qs, []model.AttemptAnswer{
		answer("q1", model.StringAnswer("B")),
		answer("q2", model.StringAnswer("C")),
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, res.TotalScore)
	require.Equal(t, 0.0, res.Percentage)

	high := uniformExam("q1", "q2")
	high.MarkingScheme = model.MarkingScheme{Correct: 3, Wrong: 0}
	res, err = Grade(high, qs, []model.AttemptAnswer{
		answer("q1", model.StringAnswer("A")),
		answer("q2", model.StringAnswer("A")),
	})
	require.NoError(t, err)
	require.Equal(t, res.MaxScore, res.TotalScore)
	require.Equal(t, 100.0, res.Percentage)
}

func TestGradePerQuestionPoints(t *testing.T) {
	qs := questionMap(mcQuestion("q1", 3, "A"), mcQuestion("q2", 1, "B"))
	exam := model.Exam{QuestionIDs: []string{"q1", "q2"}, PassingMarks: 75}

	res, err := Grade(exam, qs, []model.AttemptAnswer{
		answer("q1", model.StringAnswer("A")),
		answer("q2", model.StringAnswer("A")),
	})
	require.NoError(t, err)
	require.Equal(t, model.ScoringPerQuestionPoints, res.ScoringMode)
	require.Equal(t, 3.0, res.TotalScore)
	require.Equal(t, 4.0, res.MaxScore)
	require.Equal(t, 75.0, res.Percentage)
	require.True(t, res.Passed)
}

func TestGradeZeroMaxScore(t *testing.T) {
	res, err := Grade(model.Exam{}, nil, []model.AttemptAnswer{answer("x", model.StringAnswer("A"))})
	require.NoError(t, err)
	require.Equal(t, 0.0, res.MaxScore)
	require.Equal(t, 0.0, res.Percentage)
	require.True(t, res.Passed, "0 >= 0 passing marks")
}

func TestGradeStrictEquality(t *testing.T) {
	tests := []struct {
		name    string
		correct model.Answer
		given   model.Answer
		want    bool
	}{
		{"same string", model.StringAnswer("Paris"), model.StringAnswer("Paris"), true},
		{"case differs", model.StringAnswer("Paris"), model.StringAnswer("paris"), false},
		{"number vs string", model.NumberAnswer(1), model.StringAnswer("1"), false},
		{"bool vs string", model.BoolAnswer(true), model.StringAnswer("true"), false},
		{"same bool", model.BoolAnswer(false), model.BoolAnswer(false), true},
		{"same number", model.NumberAnswer(2.5), model.NumberAnswer(2.5), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := model.Question{ID: "q", Type: model.QuestionTrueFalse, CorrectAnswer: tt.correct, Points: 1}
			res, err := Grade(model.Exam{QuestionIDs: []string{"q"}}, questionMap(q), []model.AttemptAnswer{answer("q", tt.given)})
			require.NoError(t, err)
			require.Equal(t, tt.want, *res.Answers[0].IsCorrect)
		})
	}
}

func TestGradeMultipleAnswerIgnoresOrderAndDuplicates(t *testing.T) {
	q := model.Question{
		ID:            "q",
		Type:          model.QuestionMultipleAnswer,
		Options:       []string{"GET", "PUT", "DELETE", "PATCH"},
		CorrectAnswer: model.SetAnswer("GET", "PUT", "DELETE"),
		Points:        4,
	}
	exam := model.Exam{QuestionIDs: []string{"q"}}

	tests := []struct {
		name  string
		given model.Answer
		want  bool
	}{
		{"reordered", model.SetAnswer("GET", "DELETE", "PUT"), true},
		{"duplicates", model.SetAnswer("PUT", "GET", "GET", "DELETE"), true},
		{"missing one", model.SetAnswer("GET", "PUT"), false},
		{"extra one", model.SetAnswer("GET", "PUT", "DELETE", "PATCH"), false},
		{"scalar", model.StringAnswer("GET"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Grade(exam, questionMap(q), []model.AttemptAnswer{answer("q", tt.given)})
			require.NoError(t, err)
			require.Equal(t, tt.want, *res.Answers[0].IsCorrect)
			if tt.want {
				require.Equal(t, 4.0, res.TotalScore)
			}
		})
	}
}

func TestGradeShortAnswerNeedsReview(t *testing.T) {
	qs := questionMap(
		model.Question{ID: "s", Type: model.QuestionShortAnswer, Points: 5},
		mcQuestion("m", 5, "A"),
	)
	exam := model.Exam{QuestionIDs: []string{"s", "m"}, PassingMarks: 60}

	res, err := Grade(exam, qs, []model.AttemptAnswer{
		answer("s", model.StringAnswer("Goroutines are lightweight threads")),
		answer("m", model.StringAnswer("A")),
	})
	require.NoError(t, err)
	require.Nil(t, res.Answers[0].IsCorrect)
	require.True(t, res.Answers[0].NeedsReview)
	require.True(t, res.PendingReview)
	require.Equal(t, 5.0, res.TotalScore)
	require.Equal(t, 50.0, res.Percentage)
	require.False(t, res.Passed)

	require.NoError(t, ApplyManualScore(&res, exam, "s", 4))
	require.False(t, res.PendingReview)
	require.Equal(t, 9.0, res.TotalScore)
	require.Equal(t, 90.0, res.Percentage)
	require.True(t, res.Passed)

	err = ApplyManualScore(&res, exam, "s", 6)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	err = ApplyManualScore(&res, exam, "zzz", 1)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGradeForeignAnswersPassThrough(t *testing.T) {
	qs := questionMap(mcQuestion("q1", 1, "A"), mcQuestion("other", 10, "A"))
	res, err := Grade(model.Exam{QuestionIDs: []string{"q1"}}, qs, []model.AttemptAnswer{
		answer("other", model.StringAnswer("A")),
		answer("q1", model.StringAnswer("A")),
	})
	require.NoError(t, err)
	require.Len(t, res.Answers, 2)
	require.Equal(t, 0.0, res.Answers[0].Points)
	require.Equal(t, 0.0, res.Answers[0].MaxPoints)
	require.Nil(t, res.Answers[0].IsCorrect)
	require.Equal(t, 1.0, res.TotalScore)
}

func TestGradeMissingQuestionFails(t *testing.T) {
	qs := questionMap(mcQuestion("q1", 1, "A"))
	_, err := Grade(model.Exam{QuestionIDs: []string{"q1", "gone"}}, qs, nil)
	require.ErrorIs(t, err, ErrInvalidReference)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGradeLastAnswerWins(t *testing.T) {
	qs := questionMap(mcQuestion("q1", 1, "A"))
	res, err := Grade(model.Exam{QuestionIDs: []string{"q1"}}, qs, []model.AttemptAnswer{
		answer("q1", model.StringAnswer("A")),
		answer("q1", model.StringAnswer("B")),
	})
	require.NoError(t, err)
	require.Len(t, res.Answers, 1)
	require.Equal(t, 0.0, res.TotalScore)
}
