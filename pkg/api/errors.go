package api

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the spec §6 error contract: every error response is
// {"error": string}, regardless of status.
type errorResponse struct {
	Error string `json:"error"`
}

// WriteError writes {"error": "<title>: <detail>"} with the given status, the
// §6-mandated body shape ("all errors return {error: string} with 400
// for validation failures, 500 otherwise"). title is folded into the
// message so callers keep a human-readable category without the
// response growing a second field.
func WriteError(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: title + ": " + detail})
}

func WriteInternalServerError(w http.ResponseWriter, err error, instance string) {
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), instance)
}

func WriteBadRequest(w http.ResponseWriter, detail, instance string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail, instance)
}

func WriteNotFound(w http.ResponseWriter, detail, instance string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail, instance)
}
