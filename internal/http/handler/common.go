package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
	"github.com/sandeepkv93/identity-linking-service/internal/http/middleware"
)

// decodeJSON reads a single JSON object. Unknown fields are rejected.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytes):
			return apperror.Validation("body", "request body too large")
		case errors.Is(err, io.EOF):
			return apperror.Validation("body", "request body is required")
		default:
			return apperror.Validation("body", "invalid request body")
		}
	}
	if dec.More() {
		return apperror.Validation("body", "request body must contain a single JSON object")
	}
	return nil
}

func authUserID(r *http.Request) (uint, error) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return 0, apperror.Unauthorized("missing auth context")
	}
	return id, nil
}

func actorID(id uint) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(id), 10)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	return strings.ToLower(string(apperror.CodeOf(err)))
}
