package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/gpidqueue"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/review"
)

// Response is the envelope of every reply: data on success, error otherwise.
type Response struct {
	Data  any    `json:"data"`
	Error *Error `json:"error"`
}

// Error is a failed request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const reviewerHeader = "X-Reviewer"

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func ok(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Data: data})
}

func fail(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, Response{Error: &Error{Code: code, Message: msg}})
}

// failErr maps service errors to statuses. Unknown errors are logged and
// reported without detail.
func failErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gpidqueue.ErrNotFound), errors.Is(err, review.ErrNotFound), errors.Is(err, model.ErrNotFound):
		fail(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, gpidqueue.ErrAlreadyResolved), errors.Is(err, review.ErrIllegalTransition):
		fail(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, gpidqueue.ErrInvalidGPID), errors.Is(err, model.ErrUnknownStatus):
		fail(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	default:
		zap.L().Error("server: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		fail(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// decodeBody reads an optional JSON body into v. An empty body is allowed.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// reviewer takes the body value, then the header.
func reviewer(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get(reviewerHeader)
}

// intParam parses a non-negative query parameter; absent means 0.
func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}
