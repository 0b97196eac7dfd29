package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"libraryhub/internal/util"
	"libraryhub/pkg/circulation"
	"libraryhub/services/circulation/internal/app"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

func writeForbidden(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "CIRCULATION_FORBIDDEN", "forbidden")
}

// errorCode is CIRCULATION_ followed by the upper-cased reason.
func errorCode(err error) string {
	return "CIRCULATION_" + strings.ToUpper(string(circulation.ReasonOf(err)))
}

func statusFor(err error) int {
	switch circulation.KindOf(err) {
	case circulation.KindNotFound:
		return http.StatusNotFound
	case circulation.KindConflict:
		return http.StatusConflict
	case circulation.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// writeAppError renders a circulation error. Only the caller-safe message is exposed.
func writeAppError(w http.ResponseWriter, err error) {
	if errors.Is(err, app.ErrReportsDisabled) {
		writeError(w, http.StatusServiceUnavailable, "CIRCULATION_REPORTS_DISABLED", err.Error())
		return
	}
	writeError(w, statusFor(err), errorCode(err), circulation.MessageOf(err))
}

// decodeJSON reads a bounded JSON body, rejecting unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "CIRCULATION_INVALID_REQUEST", "invalid json body")
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "CIRCULATION_INVALID_REQUEST", "invalid json body")
		return false
	}
	return true
}
