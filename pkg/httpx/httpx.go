package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"wagerlane/pkg/domain"

	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// statusFor maps domain error codes onto HTTP statuses. Unknown codes fall
// through to 500.
func statusFor(code string) int {
	switch code {
	case "UNKNOWN_CHALLENGE":
		return http.StatusNotFound
	case "NOT_A_PARTICIPANT":
		return http.StatusForbidden
	case "PROOF_NOT_FOUND", "INVALID_HASH", "INVALID_CHALLENGE":
		return http.StatusUnprocessableEntity
	case "ALREADY_VOTED", "CHALLENGE_ALREADY_SETTLED", "ALREADY_DISPUTED",
		"DISPUTE_NOT_OPEN", "CHALLENGE_EXISTS":
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// WriteDomainError surfaces precondition failures verbatim: domain codes map to
// 4xx statuses, validation failures to 422, anything else is a DB_ERROR 500.
func WriteDomainError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		WriteError(w, statusFor(de.Code), de.Code, de.Message, nil)
		return
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		WriteError(w, http.StatusUnprocessableEntity, "INVALID_CHALLENGE", ve.Error(), nil)
		return
	}
	WriteError(w, http.StatusInternalServerError, "DB_ERROR", err.Error(), nil)
}
