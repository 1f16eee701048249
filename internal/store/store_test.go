package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestQuestion(t *testing.T, s *Store, text string, difficulty model.Difficulty, topic string) string {
	t.Helper()
	q := &model.Question{
		Text:          text,
		Type:          model.QuestionMultipleChoice,
		Options:       []string{"a", "b"},
		CorrectAnswer: model.StringAnswer("a"),
		Points:        2,
		Difficulty:    difficulty,
		Topic:         topic,
	}
	if err := s.CreateQuestion(context.Background(), q); err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
	return q.ID
}

// testKVContract runs the record store contract against any backend.
func testKVContract(t *testing.T, kv KV) {
	ctx := context.Background()

	if _, err := kv.Get(ctx, "exam:missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: expected ErrNotFound, got %v", err)
	}

	v, err := kv.Put(ctx, "exam:1", []byte(`{"a":1}`), MustNotExist)
	if err != nil {
		t.Fatalf("Put new: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}
	if _, err := kv.Put(ctx, "exam:1", []byte(`{}`), MustNotExist); !errors.Is(err, ErrConflict) {
		t.Fatalf("Put existing with MustNotExist: expected ErrConflict, got %v", err)
	}

	v, err = kv.Put(ctx, "exam:1", []byte(`{"a":2}`), 1)
	if err != nil {
		t.Fatalf("Put exact version: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected version 2, got %d", v)
	}
	if _, err := kv.Put(ctx, "exam:1", []byte(`{"a":3}`), 1); !errors.Is(err, ErrConflict) {
		t.Fatalf("Put stale version: expected ErrConflict, got %v", err)
	}
	if apperr.KindOf(ErrConflict) != apperr.KindConflict {
		t.Fatal("ErrConflict should classify as conflict")
	}

	v, err = kv.Put(ctx, "exam:1", []byte(`{"a":4}`), AnyVersion)
	if err != nil {
		t.Fatalf("Put any version: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected version 3, got %d", v)
	}
	rec, err := kv.Get(ctx, "exam:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(rec.Value) != `{"a":4}` || rec.Version != 3 {
		t.Errorf("unexpected record %s v%d", rec.Value, rec.Version)
	}

	if _, err := kv.Put(ctx, "exam:2", []byte(`{}`), AnyVersion); err != nil {
		t.Fatalf("Put any version on new key: %v", err)
	}
	if _, err := kv.Put(ctx, "exams:x", []byte(`{}`), AnyVersion); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := kv.Put(ctx, "user:1", []byte(`{}`), AnyVersion); err != nil {
		t.Fatalf("Put: %v", err)
	}

	records, err := kv.Scan(ctx, "exam:")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records under exam:, got %d", len(records))
	}
	if records[0].Key != "exam:1" || records[1].Key != "exam:2" {
		t.Errorf("expected ordered keys, got %s, %s", records[0].Key, records[1].Key)
	}

	if err := kv.Delete(ctx, "exam:1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := kv.Delete(ctx, "exam:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete missing: expected ErrNotFound, got %v", err)
	}
	if _, err := kv.Put(ctx, "exam:1", []byte(`{}`), MustNotExist); err != nil {
		t.Fatalf("Put after delete: %v", err)
	}
}

func TestSQLKVContract(t *testing.T) {
	kv, err := OpenSQL(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	testKVContract(t, kv)
}

func TestRebind(t *testing.T) {
	pg := &SQLKV{driver: DriverPostgres}
	got := pg.rebind(`UPDATE records SET value = ? WHERE key = ? AND version = ?`)
	want := `UPDATE records SET value = $1 WHERE key = $2 AND version = $3`
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}
	lite := &SQLKV{driver: DriverSQLite}
	if q := lite.rebind("a = ?"); q != "a = ?" {
		t.Errorf("sqlite query should be unchanged, got %q", q)
	}
}

func TestQuestionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty DB should return zero count and empty list.
	count, err := s.QuestionCount(ctx)
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 questions, got %d", count)
	}

	id := insertTestQuestion(t, s, "What is Go?", model.DifficultyEasy, "basics")
	q, err := s.GetQuestion(ctx, id)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.Text != "What is Go?" {
		t.Errorf("expected text 'What is Go?', got %q", q.Text)
	}
	if !q.CorrectAnswer.Equal(model.StringAnswer("a")) {
		t.Errorf("correct answer did not round-trip: %+v", q.CorrectAnswer)
	}

	// Not found.
	_, err = s.GetQuestion(ctx, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	q.Points = 5
	if err := s.UpdateQuestion(ctx, q); err != nil {
		t.Fatalf("UpdateQuestion: %v", err)
	}
	got, _ := s.GetQuestion(ctx, id)
	if got.Points != 5 {
		t.Errorf("expected 5 points after update, got %d", got.Points)
	}

	byID, err := s.GetQuestions(ctx, []string{id, "missing"})
	if err != nil {
		t.Fatalf("GetQuestions: %v", err)
	}
	if len(byID) != 1 {
		t.Errorf("expected only the existing question, got %d", len(byID))
	}

	if err := s.DeleteQuestion(ctx, id); err != nil {
		t.Fatalf("DeleteQuestion: %v", err)
	}
	if err := s.DeleteQuestion(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListQuestionsFiltered(t *testing.T) {
	s := newTestStore(t)
	insertTestQuestion(t, s, "Q1", model.DifficultyEasy, "basics")
	insertTestQuestion(t, s, "Q2", model.DifficultyHard, "basics")
	insertTestQuestion(t, s, "Q3", model.DifficultyEasy, "concurrency")

	tests := []struct {
		name      string
		filter    QuestionFilter
		wantCount int
	}{
		{"no filter", QuestionFilter{}, 3},
		{"by difficulty easy", QuestionFilter{Difficulty: model.DifficultyEasy}, 2},
		{"by difficulty hard", QuestionFilter{Difficulty: model.DifficultyHard}, 1},
		{"by topic basics", QuestionFilter{Topic: "basics"}, 2},
		{"by both", QuestionFilter{Difficulty: model.DifficultyEasy, Topic: "basics"}, 1},
		{"no match", QuestionFilter{Difficulty: model.DifficultyHard, Topic: "concurrency"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := s.ListQuestions(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("ListQuestions: %v", err)
			}
			if len(qs) != tt.wantCount {
				t.Errorf("expected %d questions, got %d", tt.wantCount, len(qs))
			}
		})
	}
}

func TestUserEmailUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &model.User{Email: " Ana@Example.com ", DisplayName: "Ana", Role: model.UserRoleStudent}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Email != "ana@example.com" {
		t.Errorf("expected normalized email, got %q", u.Email)
	}
	if u.Status != model.UserActive {
		t.Errorf("expected active status, got %q", u.Status)
	}

	dup := &model.User{Email: "ANA@example.com", Role: model.UserRoleStudent}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	got, err := s.GetUserByEmail(ctx, "ana@EXAMPLE.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("expected user %s, got %s", u.ID, got.ID)
	}

	// Changing the email frees the old one.
	got.Email = "ana2@example.com"
	if err := s.UpdateUser(ctx, got); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if _, err := s.GetUserByEmail(ctx, "ana@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old email should be released, got %v", err)
	}
	other := &model.User{Email: "ana@example.com", Role: model.UserRoleStudent}
	if err := s.CreateUser(ctx, other); err != nil {
		t.Errorf("expected released email to be reusable: %v", err)
	}
}

func TestSetUserStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &model.User{Email: "bo@example.com", Role: model.UserRoleStudent}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.SetUserStatus(ctx, u.ID, model.UserInactive); err != nil {
		t.Fatalf("SetUserStatus: %v", err)
	}
	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Active() {
		t.Error("expected user to be inactive")
	}

	admin := &model.User{Email: "root@example.com", Role: model.UserRoleAdmin}
	if err := s.CreateUser(ctx, admin); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	n, err := s.UserCount(ctx, model.UserRoleStudent)
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 student, got %d", n)
	}
}

func TestAttemptOpenIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.AttemptInProgress, StartTime: time.Now()}
	if err := s.CreateAttempt(ctx, a); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if a.Version != 1 {
		t.Errorf("expected version 1, got %d", a.Version)
	}

	second := &model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.AttemptInProgress}
	err := s.CreateAttempt(ctx, second)
	if !errors.Is(err, ErrAttemptOpen) {
		t.Fatalf("expected ErrAttemptOpen, got %v", err)
	}
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected conflict kind, got %q", apperr.KindOf(err))
	}

	open, err := s.OpenAttempt(ctx, "e1", "s1")
	if err != nil {
		t.Fatalf("OpenAttempt: %v", err)
	}
	if open.ID != a.ID {
		t.Errorf("expected open attempt %s, got %s", a.ID, open.ID)
	}

	// A different student is unaffected.
	if err := s.CreateAttempt(ctx, &model.Attempt{ExamID: "e1", StudentID: "s2", Status: model.AttemptInProgress}); err != nil {
		t.Fatalf("CreateAttempt other student: %v", err)
	}

	a.Status = model.AttemptCompleted
	if err := s.SaveAttempt(ctx, a); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}
	if _, err := s.OpenAttempt(ctx, "e1", "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no open attempt after completion, got %v", err)
	}
	if err := s.CreateAttempt(ctx, &model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.AttemptInProgress}); err != nil {
		t.Errorf("expected a new attempt after completion: %v", err)
	}
}

func TestAttemptStaleIndexRecovered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.AttemptInProgress}
	if err := s.CreateAttempt(ctx, a); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	// Simulate a finalize that wrote the attempt but never released the index.
	a.Status = model.AttemptSubmitted
	if _, err := putJSON(ctx, s.kv, prefixAttempt+a.ID, a, a.Version); err != nil {
		t.Fatalf("putJSON: %v", err)
	}
	if err := s.CreateAttempt(ctx, &model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.AttemptInProgress}); err != nil {
		t.Fatalf("expected stale index to be replaced: %v", err)
	}
}

func TestSaveAttemptStaleVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.AttemptInProgress}
	if err := s.CreateAttempt(ctx, a); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	first, _ := s.GetAttempt(ctx, a.ID)
	second, _ := s.GetAttempt(ctx, a.ID)

	first.TimeSpent = 10
	if err := s.SaveAttempt(ctx, first); err != nil {
		t.Fatalf("SaveAttempt first: %v", err)
	}
	second.TimeSpent = 20
	if err := s.SaveAttempt(ctx, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale writer, got %v", err)
	}
	got, _ := s.GetAttempt(ctx, a.ID)
	if got.TimeSpent != 10 {
		t.Errorf("expected first writer to win, got time_spent %d", got.TimeSpent)
	}
}

func TestListAttemptsFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, st := range []string{"s1", "s2", "s1"} {
		exam := "e1"
		if i == 2 {
			exam = "e2"
		}
		a := &model.Attempt{ExamID: exam, StudentID: st, Status: model.AttemptInProgress, StartTime: base.Add(time.Duration(i) * time.Minute)}
		if err := s.CreateAttempt(ctx, a); err != nil {
			t.Fatalf("CreateAttempt: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter AttemptFilter
		want   int
	}{
		{"all", AttemptFilter{}, 3},
		{"by exam", AttemptFilter{ExamID: "e1"}, 2},
		{"by student", AttemptFilter{StudentID: "s1"}, 2},
		{"by both", AttemptFilter{ExamID: "e2", StudentID: "s1"}, 1},
		{"by status", AttemptFilter{Status: model.AttemptCompleted}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListAttempts(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListAttempts: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d attempts, got %d", tt.want, len(got))
			}
		})
	}

	all, _ := s.ListAttempts(ctx, AttemptFilter{})
	if !all[0].StartTime.After(all[1].StartTime) {
		t.Error("expected most recent attempt first")
	}
}

func TestAuthSessionExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	sess, err := s.CreateAuthSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if len(sess.Token) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(sess.Token))
	}
	got, err := s.GetAuthSession(ctx, sess.Token)
	if err != nil || got == nil {
		t.Fatalf("GetAuthSession: %v %v", got, err)
	}
	if got.UserID != "u1" {
		t.Errorf("expected user u1, got %q", got.UserID)
	}

	if err := s.RevokeToken(ctx, "jti-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	revoked, err := s.TokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected jti-1 revoked, got %v %v", revoked, err)
	}

	now = now.Add(AuthSessionTTL + time.Minute)
	n, err := s.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 expired records removed, got %d", n)
	}
	got, err = s.GetAuthSession(ctx, sess.Token)
	if err != nil {
		t.Fatalf("GetAuthSession after expiry: %v", err)
	}
	if got != nil {
		t.Error("expected expired session to be gone")
	}
}

func TestActiveSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	old := &model.Session{ExamID: "e1", StudentID: "s1"}
	if err := s.CreateSession(ctx, old); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	done := &model.Session{ExamID: "e1", StudentID: "s2"}
	if err := s.CreateSession(ctx, done); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := s.UpdateSession(ctx, done.ID, func(sess *model.Session) error {
		sess.Status = model.SessionCompleted
		return nil
	}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	now = now.Add(48 * time.Hour)
	active, err := s.ActiveSessions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(active) != 1 || active[0].ID != old.ID {
		t.Errorf("expected only the in-progress session, got %+v", active)
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetMetadata(ctx, MetaSeedHash)
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty value, got %q", v)
	}
	if err := s.SetMetadata(ctx, MetaSeedHash, "abc123"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := s.SetMetadata(ctx, MetaSeedHash, "def456"); err != nil {
		t.Fatalf("SetMetadata overwrite: %v", err)
	}
	v, _ = s.GetMetadata(ctx, MetaSeedHash)
	if v != "def456" {
		t.Errorf("expected def456, got %q", v)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, email := range []string{"a@x.io", "b@x.io"} {
		if err := s.CreateUser(ctx, &model.User{Email: email, Role: model.UserRoleStudent}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	qid := insertTestQuestion(t, s, "Q1", model.DifficultyEasy, "t")
	exam := &model.Exam{Title: "Midterm", QuestionIDs: []string{qid}, Status: model.ExamActive}
	if err := s.CreateExam(ctx, exam); err != nil {
		t.Fatalf("CreateExam: %v", err)
	}

	results := []struct {
		student string
		pct     float64
		passed  bool
	}{{"a", 80, true}, {"b", 40, false}}
	for _, r := range results {
		a := &model.Attempt{ExamID: exam.ID, StudentID: r.student, Status: model.AttemptInProgress}
		if err := s.CreateAttempt(ctx, a); err != nil {
			t.Fatalf("CreateAttempt: %v", err)
		}
		a.Status = model.AttemptCompleted
		a.Result = &model.GradedSubmission{Percentage: r.pct, Passed: r.passed}
		a.Violations.TabSwitches = 1
		if err := s.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt: %v", err)
		}
	}
	if err := s.CreateAttempt(ctx, &model.Attempt{ExamID: exam.ID, StudentID: "c", Status: model.AttemptInProgress}); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalStudents != 2 || st.TotalExams != 1 || st.TotalQuestions != 1 || st.TotalSubmissions != 3 {
		t.Errorf("unexpected totals: %+v", st)
	}
	if st.ActiveAttempts != 1 {
		t.Errorf("expected 1 active attempt, got %d", st.ActiveAttempts)
	}
	es := st.Exams[0]
	if es.Graded != 2 || es.AveragePercentage != 60 || es.PassRate != 50 || es.Violations != 2 {
		t.Errorf("unexpected exam stats: %+v", es)
	}
}
