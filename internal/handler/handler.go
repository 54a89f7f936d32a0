// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/roster/roster/internal/serializer"
)

// Version is reported by the API root.
const Version = "1.0.0"

// ErrorResponse is the body of every non-validation error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handler serves the API root and router fallbacks.
type Handler struct {
	baseURL string
	roots   []string
}

// New creates a Handler. roots are the resource prefixes listed by Root,
// e.g. "students" for /api/students/.
func New(baseURL string, roots ...string) *Handler {
	return &Handler{baseURL: baseURL, roots: roots}
}

// Root lists the absolute URL of every resource collection.
// GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	base := requestBase(r, h.baseURL)

	resources := make(map[string]string, len(h.roots))
	for _, name := range h.roots {
		u := *base
		u.Path = "/api/" + name + "/"
		resources[name] = u.String()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "roster",
		"version":   Version,
		"resources": resources,
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found.")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
		"Method \""+r.Method+"\" not allowed.")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeRaw writes an already encoded JSON body.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// pathID reads the {id} route parameter. Only positive integers are ids.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// requestBase returns scheme and host of the public URL the client used.
// baseURL fills in when the request carries no host.
func requestBase(r *http.Request, baseURL string) *url.URL {
	fallback, _ := url.Parse(baseURL)
	if fallback == nil {
		fallback = &url.URL{Scheme: "http", Host: "localhost"}
	}

	host := r.Host
	if host == "" {
		return &url.URL{Scheme: fallback.Scheme, Host: fallback.Host}
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return &url.URL{Scheme: scheme, Host: host}
}

// absoluteURL is the request URL made absolute with requestBase.
func absoluteURL(r *http.Request, baseURL string) *url.URL {
	u := requestBase(r, baseURL)
	u.Path = r.URL.Path
	u.RawPath = r.URL.RawPath
	u.RawQuery = r.URL.RawQuery
	return u
}

// writeDecodeError maps serializer.Decode failures to responses.
func writeDecodeError(w http.ResponseWriter, err error) {
	var verr *serializer.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, verr.Fields)
	case errors.Is(err, serializer.ErrBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
	case errors.Is(err, serializer.ErrEmptyBody):
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is empty")
	default:
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication credentials were not provided.")
}
