package model

import (
	"encoding/json"
	"testing"
)

func TestAnswerJSONKeepsKind(t *testing.T) {
	tests := []struct {
		in   string
		kind AnswerKind
		out  string
	}{
		{`"Paris"`, AnswerString, `"Paris"`},
		{`42`, AnswerNumber, `42`},
		{`true`, AnswerBool, `true`},
		{`["b","a"]`, AnswerSet, `["b","a"]`},
		{`[]`, AnswerSet, `[]`},
		{`null`, AnswerNone, `null`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var a Answer
			if err := json.Unmarshal([]byte(tt.in), &a); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if a.Kind != tt.kind {
				t.Errorf("kind = %d, want %d", a.Kind, tt.kind)
			}
			b, err := json.Marshal(a)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(b) != tt.out {
				t.Errorf("Marshal = %s, want %s", b, tt.out)
			}
		})
	}
}

func TestAnswerJSONRejectsOtherShapes(t *testing.T) {
	for _, in := range []string{`{"a":1}`, `[1,2]`, `[true]`} {
		var a Answer
		if err := json.Unmarshal([]byte(in), &a); err == nil {
			t.Errorf("expected error for %s", in)
		}
	}
}

func TestAnswerEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Answer
		want bool
	}{
		{"strings", StringAnswer("x"), StringAnswer("x"), true},
		{"case sensitive", StringAnswer("X"), StringAnswer("x"), false},
		{"kind mismatch", NumberAnswer(1), StringAnswer("1"), false},
		{"set order", SetAnswer("a", "b"), SetAnswer("b", "a"), true},
		{"set duplicates", SetAnswer("a", "b"), SetAnswer("b", "a", "a"), true},
		{"set subset", SetAnswer("a", "b"), SetAnswer("a"), false},
		{"none", Answer{}, Answer{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnswered(t *testing.T) {
	if (Answer{}).Answered() || StringAnswer("").Answered() || SetAnswer().Answered() {
		t.Error("empty answers should not count as answered")
	}
	if !BoolAnswer(false).Answered() || !NumberAnswer(0).Answered() {
		t.Error("false and 0 are real answers")
	}
}

func TestViolationsAdd(t *testing.T) {
	var v Violations
	for range 3 {
		v.Add(ViolationTabSwitch)
	}
	n, ok := v.Add(ViolationCopyPasteBlock)
	if !ok || n != 1 {
		t.Errorf("Add copy_paste_block = %d, %v", n, ok)
	}
	if _, ok := v.Add("screenshot"); ok {
		t.Error("unknown kind should be rejected")
	}
	if v.TabSwitches != 3 || v.Total() != 4 {
		t.Errorf("unexpected counters %+v", v)
	}
}

func TestExamOpenAt(t *testing.T) {
	e := Exam{Status: ExamActive}
	now := e.CreatedAt
	if !e.OpenAt(now) {
		t.Error("active exam without window should be open")
	}
	start := now.Add(1)
	e.StartAt = &start
	if e.OpenAt(now) {
		t.Error("exam should not open before its start")
	}
	e.StartAt = nil
	e.Status = ExamDraft
	if e.OpenAt(now) {
		t.Error("draft exam should never be open")
	}
}

func TestExamApplyDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   Exam
		want Exam
	}{
		{"empty", Exam{}, Exam{ScoringMode: ScoringPerQuestionPoints, Status: ExamDraft}},
		{"uniform without scheme", Exam{ScoringMode: ScoringUniformMarkingScheme},
			Exam{ScoringMode: ScoringUniformMarkingScheme, MarkingScheme: MarkingScheme{Correct: 1}, Status: ExamDraft}},
		{"uniform keeps scheme", Exam{ScoringMode: ScoringUniformMarkingScheme, MarkingScheme: MarkingScheme{Correct: 2, Wrong: -1}, Status: ExamActive},
			Exam{ScoringMode: ScoringUniformMarkingScheme, MarkingScheme: MarkingScheme{Correct: 2, Wrong: -1}, Status: ExamActive}},
		{"per-question ignores scheme", Exam{ScoringMode: ScoringPerQuestionPoints},
			Exam{ScoringMode: ScoringPerQuestionPoints, Status: ExamDraft}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			got.ApplyDefaults()
			if got.ScoringMode != tt.want.ScoringMode || got.MarkingScheme != tt.want.MarkingScheme || got.Status != tt.want.Status {
				t.Errorf("ApplyDefaults() = %s %+v %s, want %s %+v %s",
					got.ScoringMode, got.MarkingScheme, got.Status,
					tt.want.ScoringMode, tt.want.MarkingScheme, tt.want.Status)
			}
		})
	}
}
