package middleware

import (
	"log/slog"
	"mime"
	"net/http"
	"strings"
)

var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// ValidateContentType requires JSON bodies on POST, PUT and PATCH. Paths
// ending in one of uploadSuffixes may send multipart/form-data instead.
// Empty bodies pass through.
func ValidateContentType(log *slog.Logger, uploadSuffixes ...string) func(http.Handler) http.Handler {
	acceptsUpload := func(path string) bool {
		for _, s := range uploadSuffixes {
			if strings.HasSuffix(path, s) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !bodyMethods[r.Method] || r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}

			raw := r.Header.Get("Content-Type")
			mediaType, _, _ := mime.ParseMediaType(raw)
			switch {
			case mediaType == "application/json":
				next.ServeHTTP(w, r)
				return
			case mediaType == "multipart/form-data" && acceptsUpload(r.URL.Path):
				next.ServeHTTP(w, r)
				return
			}

			log.Warn("rejected content type",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("content_type", raw),
			)
			WriteError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		})
	}
}

// MaxBodySize caps request bodies; reads past the limit fail inside the handler
func MaxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && limit > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

const markupChars = `<>"'`

// unsafeQuery returns the first query parameter carrying markup characters
func unsafeQuery(r *http.Request) (string, bool) {
	for name, values := range r.URL.Query() {
		for _, v := range values {
			if strings.ContainsAny(v, markupChars) {
				return name, true
			}
		}
	}
	return "", false
}

// SanitizeInputs rejects query values carrying markup characters and paths
// with traversal or empty segments.
func SanitizeInputs(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if name, bad := unsafeQuery(r); bad {
				log.Warn("rejected query parameter",
					slog.String("path", r.URL.Path),
					slog.String("param", name),
				)
				WriteError(w, http.StatusBadRequest, "Invalid input: dangerous characters detected")
				return
			}
			if p := r.URL.Path; strings.Contains(p, "..") || strings.Contains(p, "//") {
				log.Warn("rejected path", slog.String("path", p))
				WriteError(w, http.StatusBadRequest, "Invalid path")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
