package llm

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/examportal/internal/model"
)

//go:embed prompts/*.txt
var promptFS embed.FS

// Variant selects the review prompt.
type Variant string

const (
	VariantStrict   Variant = "strict"
	VariantStandard Variant = "standard"
	VariantLenient  Variant = "lenient"
)

const maxAnswerRunes = 10000

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

var reviewTemplates = mustLoadTemplates(VariantStrict, VariantStandard, VariantLenient)

// IsValidVariant reports whether v names a known prompt variant.
func IsValidVariant(v string) bool {
	_, ok := reviewTemplates[Variant(v)]
	return ok
}

type reviewData struct {
	QuestionText string
	MaxPoints    int
	Reference    string
	Explanation  string
	Answer       string
}

func mustLoadTemplates(variants ...Variant) map[Variant]*template.Template {
	out := make(map[Variant]*template.Template, len(variants))
	for _, v := range variants {
		name := "prompts/review_" + string(v) + ".txt"
		tmpl, err := template.ParseFS(promptFS, name)
		if err != nil {
			panic(fmt.Sprintf("parse prompt %s: %v", name, err))
		}
		out[v] = tmpl
	}
	return out
}

func buildReviewPrompt(v Variant, q model.Question, answer string) (string, error) {
	tmpl, ok := reviewTemplates[v]
	if !ok {
		return "", fmt.Errorf("invalid prompt variant: %q", v)
	}
	data := reviewData{
		QuestionText: q.Text,
		MaxPoints:    q.Points,
		Explanation:  q.Explanation,
		Answer:       sanitizeAnswer(answer),
	}
	if q.CorrectAnswer.Answered() {
		data.Reference = q.CorrectAnswer.Text()
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

// sanitizeAnswer strips tags that could break out of the answer block and
// truncates very long answers.
func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}
	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}
	return answer
}
