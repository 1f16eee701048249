package handler

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/pavelanni/examportal/internal/model"
)

// userView returns a copy of u without the password hash.
func userView(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	out := *u
	out.PasswordHash = ""
	return &out
}

// publicQuestion is a question without its answer key.
type publicQuestion struct {
	ID         string             `json:"id"`
	Text       string             `json:"question"`
	Type       model.QuestionType `json:"type"`
	Options    []string           `json:"options"`
	Points     int                `json:"points"`
	Subject    string             `json:"subject,omitempty"`
	Topic      string             `json:"topic,omitempty"`
	Difficulty model.Difficulty   `json:"difficulty,omitempty"`
}

func redactQuestion(q model.Question) publicQuestion {
	opts := q.Options
	if opts == nil {
		opts = []string{}
	}
	return publicQuestion{
		ID:         q.ID,
		Text:       q.Text,
		Type:       q.Type,
		Options:    opts,
		Points:     q.Points,
		Subject:    q.Subject,
		Topic:      q.Topic,
		Difficulty: q.Difficulty,
	}
}

// questionFor renders a question for the caller: staff see the answer key,
// students never do.
func questionFor(u *model.User, q model.Question) any {
	if u.Role.IsStaff() {
		return q
	}
	return redactQuestion(q)
}

// reviewItem is the answer key shown to a student reviewing a finished attempt.
type reviewItem struct {
	QuestionID    string       `json:"question_id"`
	CorrectAnswer model.Answer `json:"correct_answer"`
	Explanation   string       `json:"explanation,omitempty"`
}

// attemptView decorates an attempt for API output.
type attemptView struct {
	model.Attempt
	Deadline       *time.Time   `json:"deadline,omitempty"`
	ResultsPending bool         `json:"results_pending,omitempty"`
	Review         []reviewItem `json:"review,omitempty"`
}

// staffAttemptView shows everything, including advisory suggestions.
func (h *Handler) staffAttemptView(a *model.Attempt, exam *model.Exam) attemptView {
	v := attemptView{Attempt: *a}
	if exam != nil && !a.Status.Terminal() {
		if d, ok := h.tracker.Deadline(a, exam); ok {
			v.Deadline = &d
		}
	}
	return v
}

// studentAttemptView hides suggestions, withholds the result when the exam
// does not show results, and attaches the answer key only once the attempt
// is finished and the exam allows review.
func (h *Handler) studentAttemptView(a *model.Attempt, exam *model.Exam, questions map[string]model.Question) attemptView {
	v := h.staffAttemptView(a, exam)
	if a.Result != nil {
		res := *a.Result
		res.Answers = make([]model.GradedAnswer, len(a.Result.Answers))
		for i, ga := range a.Result.Answers {
			ga.SuggestedPoints = nil
			ga.SuggestedFeedback = ""
			res.Answers[i] = ga
		}
		v.Result = &res
	}
	// Without the exam its show_results setting is unknown, so the result
	// stays withheld.
	showResults := exam != nil && exam.Settings.ShowResults
	if a.Status.Terminal() && !showResults {
		v.Result = nil
		v.ResultsPending = a.Status != model.AttemptSuspended
	}
	if exam == nil {
		return v
	}
	if a.Status.Terminal() && a.Status != model.AttemptSuspended && exam.Settings.AllowReview && showResults {
		for _, id := range exam.QuestionIDs {
			q, ok := questions[id]
			if !ok {
				continue
			}
			v.Review = append(v.Review, reviewItem{
				QuestionID:    q.ID,
				CorrectAnswer: q.CorrectAnswer,
				Explanation:   q.Explanation,
			})
		}
	}
	return v
}

// takeView is the exam as presented to a student taking it.
type takeView struct {
	Exam      model.Exam       `json:"exam"`
	Summary   string           `json:"summary"`
	TimeLimit string           `json:"time_limit,omitempty"`
	Questions []publicQuestion `json:"questions"`
	Attempt   *attemptView     `json:"attempt,omitempty"`
}

// arrangeForStudent orders the exam's questions, and their options, in a
// stable per-student permutation when the exam asks for randomization.
func arrangeForStudent(exam *model.Exam, questions map[string]model.Question, studentID string) []publicQuestion {
	rng := studentRand(exam.ID, studentID)
	out := make([]publicQuestion, 0, len(exam.QuestionIDs))
	for _, id := range exam.QuestionIDs {
		q, ok := questions[id]
		if !ok {
			continue
		}
		pq := redactQuestion(q)
		if exam.Settings.RandomizeOptions && shuffleable(q) {
			pq.Options = append([]string(nil), pq.Options...)
			rng.Shuffle(len(pq.Options), func(i, j int) {
				pq.Options[i], pq.Options[j] = pq.Options[j], pq.Options[i]
			})
		}
		out = append(out, pq)
	}
	if exam.Settings.RandomizeQuestions {
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}

// shuffleable reports whether reordering options keeps the answer key valid.
// Keys given as option positions would break.
func shuffleable(q model.Question) bool {
	switch q.Type {
	case model.QuestionMultipleChoice, model.QuestionMultipleAnswer:
		return q.CorrectAnswer.Kind != model.AnswerNumber
	}
	return false
}

func studentRand(examID, studentID string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(examID))
	h.Write([]byte{0})
	h.Write([]byte(studentID))
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed>>1|1))
}
