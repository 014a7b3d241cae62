package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    meta      `json:"meta"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type problemDetails struct {
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Status    int               `json:"status"`
	Detail    string            `json:"detail"`
	Instance  string            `json:"instance"`
	Code      string            `json:"code"`
	Field     string            `json:"field,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	RequestID string            `json:"request_id"`
}

// ErrorDetails is the details payload attached to use-case errors.
type ErrorDetails struct {
	Field    string            `json:"field,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	if prefersProblemJSON(r) {
		writeProblem(w, r, problemDetails{Status: status, Detail: message, Code: code})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   &apiError{Code: code, Message: message, Details: details},
		Meta:    buildMeta(r),
	})
}

// AppError writes err using the status of its apperror code. Foreign errors
// are reported as internal without leaking their text.
func AppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		appErr = apperror.Internal(err)
	}
	status := appErr.Code.HTTPStatus()
	message := appErr.Message
	if appErr.Code == apperror.CodeInternal {
		message = "internal error"
	}
	if prefersProblemJSON(r) {
		writeProblem(w, r, problemDetails{
			Status:   status,
			Detail:   message,
			Code:     string(appErr.Code),
			Field:    appErr.Field,
			Metadata: appErr.Metadata,
		})
		return
	}
	var details any
	if appErr.Field != "" || len(appErr.Metadata) > 0 {
		details = ErrorDetails{Field: appErr.Field, Metadata: appErr.Metadata}
	}
	Error(w, r, status, string(appErr.Code), message, details)
}

func writeProblem(w http.ResponseWriter, r *http.Request, p problemDetails) {
	p.Type = problemType(p.Code)
	p.Title = problemTitle(p.Code, p.Status)
	p.Instance = r.URL.Path
	p.RequestID = buildMeta(r).RequestID
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}

func prefersProblemJSON(r *http.Request) bool {
	accept := strings.ToLower(r.Header.Get("Accept"))
	if accept == "" {
		return false
	}
	for _, part := range strings.Split(accept, ",") {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		mediaType := item
		q := "1"
		if i := strings.Index(item, ";"); i >= 0 {
			mediaType = strings.TrimSpace(item[:i])
			for _, param := range strings.Split(item[i+1:], ";") {
				p := strings.TrimSpace(param)
				if strings.HasPrefix(p, "q=") {
					q = strings.TrimSpace(strings.TrimPrefix(p, "q="))
				}
			}
		}
		if mediaType == "application/problem+json" && strings.Trim(q, "0.") != "" {
			return true
		}
	}
	return false
}

func problemType(code string) string {
	normalized := strings.ToLower(strings.TrimSpace(code))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if normalized == "" {
		normalized = "unknown"
	}
	return "urn:problem:identity:" + normalized
}

func problemTitle(code string, status int) string {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "BAD_REQUEST", "VALIDATION":
		return "Bad Request"
	case "UNAUTHORIZED":
		return "Unauthorized"
	case "FORBIDDEN":
		return "Forbidden"
	case "CONFLICT":
		return "Conflict"
	case "NOT_FOUND":
		return "Not Found"
	case "INTERNAL":
		return "Internal Server Error"
	case "RATE_LIMITED":
		return "Too Many Requests"
	case "DEPENDENCY_UNREADY":
		return "Service Unavailable"
	case "INVALID_CREDENTIALS":
		return "Invalid Credentials"
	case "ACCOUNT_LOCKED":
		return "Account Locked"
	case "POLICY_VIOLATION":
		return "Policy Violation"
	case "PENDING_DELETION_CONFIRMATION_REQUIRED":
		return "Pending Deletion Confirmation Required"
	case "UPSTREAM_PROVIDER":
		return "Upstream Provider Error"
	default:
		if text := http.StatusText(status); text != "" {
			return text
		}
		return "Error"
	}
}
