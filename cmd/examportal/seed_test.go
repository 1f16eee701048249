package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pavelanni/examportal/internal/identity"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

const seedJSON = `{
  "users": [
    {"email": "moderator@example.com", "password": "password123", "role": "moderator"},
    {"email": "ann@example.com", "password": "password123", "class_group": "10A"}
  ],
  "questions": [
    {"key": "sum", "question": "2+2", "type": "multiple-choice", "options": ["3", "4"], "correct_answer": "4", "points": 2},
    {"key": "sky", "question": "The sky is blue", "type": "true-false", "correct_answer": true, "points": 1},
    {"key": "why", "question": "Explain gravity", "type": "short-answer", "points": 5}
  ],
  "exams": [
    {"title": "Mixed", "questions": ["sum", "sky", "why"], "status": "active", "duration_minutes": 20}
  ]
}`

func TestApplySeed(t *testing.T) {
	ctx := context.Background()
	db, err := store.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ids := identity.NewService(db, nil)

	var seed seedData
	require.NoError(t, json.Unmarshal([]byte(seedJSON), &seed))

	n, err := applySeed(ctx, db, ids, seed)
	require.NoError(t, err)
	require.Equal(t, seedCounts{users: 2, questions: 3, exams: 1}, n)

	exams, err := db.ListExams(ctx, store.ExamFilter{})
	require.NoError(t, err)
	require.Len(t, exams, 1)
	exam := exams[0]
	require.Len(t, exam.QuestionIDs, 3)
	require.Equal(t, 8.0, exam.TotalMarks)
	require.Equal(t, model.ScoringPerQuestionPoints, exam.ScoringMode)
	require.Equal(t, model.ExamActive, exam.Status)

	u, err := db.GetUserByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	require.Equal(t, model.UserRoleStudent, u.Role)
	require.Equal(t, "10A", u.ClassGroup)

	// Existing users are skipped on a second run.
	n, err = applySeed(ctx, db, ids, seedData{Users: seed.Users})
	require.NoError(t, err)
	require.Zero(t, n.users)
}

func TestApplySeedRejectsBadData(t *testing.T) {
	ctx := context.Background()
	db, err := store.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ids := identity.NewService(db, nil)

	tests := []struct {
		name string
		json string
	}{
		{"answer not among options", `{"questions": [{"key": "q", "question": "x", "type": "multiple-choice", "options": ["a", "b"], "correct_answer": "c", "points": 1}]}`},
		{"unknown question key", `{"exams": [{"title": "E", "questions": ["missing"]}]}`},
		{"bad exam after good content", `{
			"users": [{"email": "late@example.com", "password": "password123"}],
			"questions": [{"key": "ok", "question": "2+2", "type": "multiple-choice", "options": ["3", "4"], "correct_answer": "4", "points": 1}],
			"exams": [{"title": "E", "questions": ["ok", "missing"]}]
		}`},
		{"duplicate key", `{"questions": [
			{"key": "k", "question": "a", "type": "true-false", "correct_answer": true, "points": 1},
			{"key": "k", "question": "b", "type": "true-false", "correct_answer": false, "points": 1}
		]}`},
		{"invalid role", `{"users": [{"email": "r@example.com", "password": "password123", "role": "janitor"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seed seedData
			require.NoError(t, json.Unmarshal([]byte(tt.json), &seed))
			n, err := applySeed(ctx, db, ids, seed)
			require.Error(t, err)
			require.Zero(t, n)
		})
	}

	// Nothing from the rejected files reached the store.
	count, err := db.QuestionCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
	_, err = db.GetUserByEmail(ctx, "late@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplySeedDefaultsUniformScheme(t *testing.T) {
	ctx := context.Background()
	db, err := store.New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	var seed seedData
	require.NoError(t, json.Unmarshal([]byte(`{
		"questions": [{"key": "q", "question": "2+2", "type": "multiple-choice", "options": ["3", "4"], "correct_answer": "4", "points": 3}],
		"exams": [{"title": "Uniform", "questions": ["q"], "scoring_mode": "uniform-marking-scheme"}]
	}`), &seed))
	_, err = applySeed(ctx, db, identity.NewService(db, nil), seed)
	require.NoError(t, err)

	exams, err := db.ListExams(ctx, store.ExamFilter{})
	require.NoError(t, err)
	require.Len(t, exams, 1)
	require.Equal(t, model.MarkingScheme{Correct: 1}, exams[0].MarkingScheme)
	require.Equal(t, model.ExamDraft, exams[0].Status)
	require.Equal(t, 3.0, exams[0].TotalMarks)
}

func TestOriginChecker(t *testing.T) {
	require.Nil(t, originChecker(nil))

	check := originChecker([]string{"https://exams.example.com"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://exams.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/api/monitoring/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		require.Equal(t, tt.want, check(r), tt.origin)
	}
}
