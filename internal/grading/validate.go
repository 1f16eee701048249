package grading

import (
	"fmt"
	"slices"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/model"
)

// ValidateAnswers checks that each answer has the shape its question type
// expects. Answers to unknown questions are not checked.
func ValidateAnswers(questions map[string]model.Question, answers []model.AttemptAnswer) error {
	fields := make(map[string]string)
	for i, a := range answers {
		key := fmt.Sprintf("answers[%d]", i)
		if a.QuestionID == "" {
			fields[key] = "question_id is required"
			continue
		}
		q, ok := questions[a.QuestionID]
		if !ok || a.Answer.Kind == model.AnswerNone {
			continue
		}
		if msg := shapeError(q.Type, a.Answer); msg != "" {
			fields[key] = msg
		}
	}
	if len(fields) > 0 {
		return apperr.ValidationFields("invalid answers", fields)
	}
	return nil
}

func shapeError(t model.QuestionType, a model.Answer) string {
	if t == model.QuestionMultipleAnswer {
		if a.Kind != model.AnswerSet {
			return "expected an array of strings"
		}
		return ""
	}
	if !a.IsScalar() {
		return "expected a single value"
	}
	return ""
}

// ValidateQuestion checks a question definition before it is stored.
func ValidateQuestion(q model.Question) error {
	fields := make(map[string]string)
	if q.Text == "" {
		fields["question"] = "is required"
	}
	if !q.Type.Valid() {
		fields["type"] = "must be one of multiple-choice, true-false, multiple-answer, short-answer"
	}
	if q.Points <= 0 {
		fields["points"] = "must be positive"
	}
	switch q.Type {
	case model.QuestionMultipleChoice, model.QuestionMultipleAnswer:
		if len(q.Options) < 2 {
			fields["options"] = "at least two options are required"
		}
	case model.QuestionShortAnswer:
		if len(q.Options) > 0 {
			fields["options"] = "short-answer questions have no options"
		}
	}
	if q.Type.Valid() && q.Type != model.QuestionShortAnswer {
		if !q.CorrectAnswer.Answered() {
			fields["correct_answer"] = "is required"
		} else if msg := shapeError(q.Type, q.CorrectAnswer); msg != "" {
			fields["correct_answer"] = msg
		} else if msg := optionError(q); msg != "" {
			fields["correct_answer"] = msg
		}
	}
	if len(fields) > 0 {
		return apperr.ValidationFields("invalid question", fields)
	}
	return nil
}

// optionError reports string answers that are not among the options.
func optionError(q model.Question) string {
	if len(q.Options) == 0 {
		return ""
	}
	switch q.CorrectAnswer.Kind {
	case model.AnswerString:
		if q.Type == model.QuestionMultipleChoice && !slices.Contains(q.Options, q.CorrectAnswer.Str) {
			return "must be one of the options"
		}
	case model.AnswerSet:
		for _, v := range q.CorrectAnswer.Set {
			if !slices.Contains(q.Options, v) {
				return fmt.Sprintf("%q is not one of the options", v)
			}
		}
	}
	return ""
}
