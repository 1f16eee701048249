package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		lang string
		want string
	}{
		{"en", "Exam Portal"},
		{"ru", "Экзаменационный портал"},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			ctx := initLang(t, tt.lang)
			if got := T(ctx, "AppTitle"); got != tt.want {
				t.Errorf("T(AppTitle) = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPluralTranslation(t *testing.T) {
	tests := []struct {
		lang  string
		count int
		want  string
	}{
		{"en", 1, "1 question"},
		{"en", 5, "5 questions"},
		{"ru", 1, "1 вопрос"},
		{"ru", 3, "3 вопроса"},
		{"ru", 5, "5 вопросов"},
	}
	for _, tt := range tests {
		ctx := initLang(t, tt.lang)
		if got := Tp(ctx, "QuestionCount", tt.count); got != tt.want {
			t.Errorf("Tp(%s, %d) = %q, want %q", tt.lang, tt.count, got, tt.want)
		}
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")
	got := Td(ctx, "TimeLimit", map[string]any{"Minutes": 45})
	if got != "Time limit: 45 min" {
		t.Errorf("Td(TimeLimit) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")
	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMessageFallsBackToText(t *testing.T) {
	ctx := initLang(t, "ru")
	if got := Message(ctx, "record not found"); got != "запись не найдена" {
		t.Errorf("Message = %q", got)
	}
	if got := Message(ctx, "no answer for question q7"); got != "no answer for question q7" {
		t.Errorf("untranslated Message = %q", got)
	}
	ctx = initLang(t, "en")
	if got := Message(ctx, "record not found"); got != "record not found" {
		t.Errorf("english Message = %q", got)
	}
}

func TestMiddlewareMatchesAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(T(r.Context(), "AppTitle")))
	}))

	tests := []struct {
		accept string
		lang   string
		body   string
	}{
		{"", "en", "Exam Portal"},
		{"ru-RU,ru;q=0.9,en;q=0.8", "ru", "Экзаменационный портал"},
		{"fr-FR", "en", "Exam Portal"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.accept != "" {
			req.Header.Set("Accept-Language", tt.accept)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Content-Language"); got != tt.lang {
			t.Errorf("Accept-Language %q: Content-Language = %q, want %q", tt.accept, got, tt.lang)
		}
		if rec.Body.String() != tt.body {
			t.Errorf("Accept-Language %q: body = %q, want %q", tt.accept, rec.Body.String(), tt.body)
		}
	}
}
