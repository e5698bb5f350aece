package api

import (
	"encoding/json"
	"net/http"
)

// Error is the error body the router writes for requests no handler owns.
// Handler packages write the same envelope with their own codes.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrNotFound         = &Error{Code: "NOT_FOUND", Message: "route not found", Status: http.StatusNotFound}
	ErrMethodNotAllowed = &Error{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed", Status: http.StatusMethodNotAllowed}
)

func writeError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(struct {
		Error *Error `json:"error"`
	}{err})
}
