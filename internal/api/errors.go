package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/assay-cli/internal/model"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindFormat, model.KindInvalidRequest:
		return http.StatusBadRequest
	case model.KindSchema, model.KindMergeTooLarge:
		return http.StatusUnprocessableEntity
	case model.KindInsufficientInputs:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the JSON error body. Internal errors are logged
// and their detail withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeErrorBody(w, http.StatusRequestEntityTooLarge, string(model.KindFormat), "request body too large")
		return
	}

	e, ok := model.AsError(err)
	if !ok {
		zap.L().Error("api: internal error",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeErrorBody(w, http.StatusInternalServerError, string(model.KindInternal), "internal error")
		return
	}
	writeErrorBody(w, statusFor(e.Kind), string(e.Kind), e.Message)
}

func writeErrorBody(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
