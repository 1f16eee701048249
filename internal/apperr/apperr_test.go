package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	sentinel := NotFound("record not found")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct", Conflict("dup"), KindConflict},
		{"wrapped", fmt.Errorf("get exam: %w", sentinel), KindNotFound},
		{"wrap helper", Wrap(KindInvalidState, errors.New("boom"), "terminal"), KindInvalidState},
		{"plain error", errors.New("boom"), KindInternal},
		{"nil", nil, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSentinelMatching(t *testing.T) {
	sentinel := NotFound("record not found")
	err := fmt.Errorf("load question q1: %w", sentinel)
	if !errors.Is(err, sentinel) {
		t.Fatal("expected wrapped sentinel to match")
	}
	if errors.Is(err, NotFound("other")) {
		t.Error("different message should not match")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindUnauthenticated: http.StatusUnauthorized,
		KindForbidden:       http.StatusForbidden,
		KindNotFound:        http.StatusNotFound,
		KindValidation:      http.StatusBadRequest,
		KindConflict:        http.StatusConflict,
		KindInvalidState:    http.StatusConflict,
		KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%q) = %d, want %d", kind, got, want)
		}
	}
}

func TestErrorString(t *testing.T) {
	e := Wrap(KindInternal, errors.New("disk full"), "save attempt")
	if e.Error() != "save attempt: disk full" {
		t.Errorf("unexpected message %q", e.Error())
	}
	if (&Error{Kind: KindForbidden}).Error() != "forbidden" {
		t.Error("kind should be used when no message is set")
	}
}
