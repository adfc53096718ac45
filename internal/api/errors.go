package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/medvault/internal/backup"
	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/session"
)

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// checked in order; wrapping errors come before the ones they wrap
var errorMappings = []errorMapping{
	{session.ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"},
	{session.ErrOtpDispatch, http.StatusBadGateway, "otp_dispatch_failed"},
	{session.ErrPinTooShort, http.StatusBadRequest, "pin_too_short"},
	{session.ErrPinMismatch, http.StatusBadRequest, "pin_mismatch"},
	{session.ErrInvalidPin, http.StatusUnauthorized, "invalid_pin"},
	{session.ErrDecryption, http.StatusUnauthorized, "decryption_failed"},
	{session.ErrInvalidOtp, http.StatusUnauthorized, "invalid_otp"},
	{session.ErrOtpExpired, http.StatusGone, "otp_expired"},
	{session.ErrVaultMustBeUnlockedToChangePin, http.StatusConflict, "vault_must_be_unlocked_to_change_pin"},
	{session.ErrVaultLocked, http.StatusLocked, "vault_locked"},
	{session.ErrAlreadySetup, http.StatusConflict, "already_setup"},
	{session.ErrNotSetup, http.StatusConflict, "not_setup"},
	{session.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{session.ErrVaultChanged, http.StatusConflict, "vault_changed"},
	{session.ErrDerivationInProgress, http.StatusConflict, "derivation_in_progress"},
	{session.ErrKeyDerivation, http.StatusInternalServerError, "key_derivation_failed"},
	{session.ErrEncryption, http.StatusInternalServerError, "encryption_failed"},
	{backup.ErrNoSnapshot, http.StatusNotFound, "no_snapshot"},
	{backup.ErrVaultNotEmpty, http.StatusConflict, "vault_not_empty"},
	{backup.ErrSnapshotInvalid, http.StatusUnprocessableEntity, "invalid_snapshot"},
	{common.ErrorNotFound, http.StatusNotFound, "not_found"},
	{common.ErrorUnauthorized, http.StatusUnauthorized, "unauthorized"},
}

func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// respondError writes err as a stable code. Internal failures are logged and
// not echoed back.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	if wait, ok := session.RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error_code", code, "error", err)
		msg = common.ErrorInternal.Error()
		if code != "internal" {
			msg = code
		}
	}
	writeError(w, status, code, msg)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
