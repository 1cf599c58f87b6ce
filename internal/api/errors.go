package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nexus-im/messenger/store"
	"github.com/nexus-im/messenger/store/user"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
)

const (
	CodeInvalidArgument     = "invalid_argument"
	CodeUnauthorized        = "unauthorized"
	CodeForbidden           = "forbidden"
	CodeWriteForbidden      = "write_forbidden"
	CodeNotFound            = "not_found"
	CodeConflict            = "conflict"
	CodeDuplicateMembership = "duplicate_membership"
	CodeInsertFailed        = "insert_failed"
	CodeRateLimited         = "rate_limited"
	CodeStoreUnavailable    = "store_unavailable"
	CodeInternal            = "internal"
)

// ErrorBody is the JSON shape of every failed reply.
type ErrorBody struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// classify maps an error onto its HTTP status and wire code. InsertFailed is
// checked first since it may wrap DuplicateMembership.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrInsertFailed):
		return http.StatusUnprocessableEntity, CodeInsertFailed
	case errors.Is(err, user.ErrDuplicateEmail):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, store.ErrWriteForbidden):
		return http.StatusForbidden, CodeWriteForbidden
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest, CodeInvalidArgument
	case errors.Is(err, store.ErrDuplicateMembership):
		return http.StatusConflict, CodeDuplicateMembership
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeStoreUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func toErrorBody(err error) (int, ErrorBody) {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		// driver details stay in the logs
		msg = http.StatusText(status)
	}
	return status, ErrorBody{Code: code, Message: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, body := toErrorBody(err)
	writeJSON(w, status, body)
}
