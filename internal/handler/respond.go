package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/examportal/internal/apperr"
	appI18n "github.com/pavelanni/examportal/internal/i18n"
)

const maxBodyBytes = 1 << 20

var errBadBody = apperr.Validation("invalid request body")

type errorBody struct {
	Error  string            `json:"error"`
	Kind   apperr.Kind       `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// respond writes the success envelope {name: v}.
func respond(w http.ResponseWriter, status int, name string, v any) {
	writeJSON(w, status, map[string]any{name: v})
}

// respondList writes {name: items, "pagination": p}.
func respondList(w http.ResponseWriter, name string, items any, p pagination) {
	writeJSON(w, http.StatusOK, map[string]any{name: items, "pagination": p})
}

// fail renders err with its kind's status and a localized message. Internal
// errors are logged and never leak their text.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	kind := apperr.KindOf(err)
	body := errorBody{Kind: kind}
	if kind == apperr.KindInternal {
		slog.Error("request failed",
			"method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(ctx), "error", err)
		body.Error = appI18n.T(ctx, "InternalError")
	} else {
		e, _ := apperr.As(err)
		body.Error = appI18n.Message(ctx, e.Msg)
		body.Fields = e.Fields
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeJSON(w, apperr.HTTPStatus(kind), body)
}

// decode reads a JSON body into dst.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, errBadBody.Msg)
	}
	return nil
}

// decodeValid decodes and runs struct validation, reporting failing fields
// by their JSON names.
func (h *Handler) decodeValid(r *http.Request, dst any) error {
	if err := decode(r, dst); err != nil {
		return err
	}
	return h.check(dst)
}

func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		_, name, _ := strings.Cut(fe.Namespace(), ".")
		fields[name] = fe.Tag()
	}
	return apperr.ValidationFields("validation failed", fields)
}

// pagination describes one page of a list response.
type pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

func pageParams(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	return page, min(perPage, maxPerPage)
}

// paginate slices items for the requested page.
func paginate[T any](r *http.Request, items []T) ([]T, pagination) {
	page, perPage := pageParams(r)
	total := len(items)
	p := pagination{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: (total + perPage - 1) / perPage,
	}
	// Compare before multiplying so a huge page cannot overflow.
	start := total
	if page-1 <= total/perPage {
		start = min((page-1)*perPage, total)
	}
	end := min(start+perPage, total)
	out := items[start:end]
	if out == nil {
		out = []T{}
	}
	return out, p
}
