package i18n

import "net/http"

// Middleware picks a localizer from Accept-Language for every request,
// using fallback when the header names no supported language.
func Middleware(fallback string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accept := r.Header.Get("Accept-Language")
			lang := fallback
			if accept != "" {
				lang = Match(accept).String()
			}
			w.Header().Set("Content-Language", lang)
			ctx := WithLocalizer(r.Context(), NewLocalizer(lang, fallback))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
