package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/session"
)

const maxRecordSize = 1 << 20

type pinRequest struct {
	Pin string `json:"pin"`
}

type otpRequest struct {
	Code string `json:"code"`
}

type restoreRequest struct {
	Key string `json:"key"`
}

type statusResponse struct {
	UserID            string `json:"user_id"`
	State             string `json:"state"`
	IdleSeconds       int64  `json:"idle_seconds"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

func toStatus(st session.Status) statusResponse {
	return statusResponse{
		UserID:            st.UserID,
		State:             st.State.String(),
		IdleSeconds:       int64(st.IdleFor.Seconds()),
		RetryAfterSeconds: int64(st.RetryAfter.Seconds()),
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRecordSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// readPin returns the PIN as bytes the caller wipes after use.
func (s *Server) readPin(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	var req pinRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return nil, false
	}
	return []byte(req.Pin), true
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	c, err := s.registry.Open(r.Context(), identityFrom(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatus(c.Status()))
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	s.registry.Close(identityFrom(r.Context()).UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) vaultStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStatus(controllerFrom(r.Context()).Status()))
}

// pinAction runs fn with the PIN from the body and answers with the new status.
func (s *Server) pinAction(fn func(c *session.Controller, r *http.Request, pin []byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := controllerFrom(r.Context())
		pin, ok := s.readPin(w, r)
		if !ok {
			return
		}
		defer common.WipeByteArray(pin)

		if err := fn(c, r, pin); err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toStatus(c.Status()))
	}
}

func (s *Server) beginSetup(w http.ResponseWriter, r *http.Request) {
	s.pinAction(func(c *session.Controller, r *http.Request, pin []byte) error {
		return c.BeginSetup(r.Context(), pin)
	})(w, r)
}

func (s *Server) confirmSetup(w http.ResponseWriter, r *http.Request) {
	s.pinAction(func(c *session.Controller, r *http.Request, pin []byte) error {
		return c.ConfirmSetup(r.Context(), pin)
	})(w, r)
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request) {
	s.pinAction(func(c *session.Controller, r *http.Request, pin []byte) error {
		return c.Unlock(r.Context(), pin)
	})(w, r)
}

func (s *Server) changePin(w http.ResponseWriter, r *http.Request) {
	s.pinAction(func(c *session.Controller, r *http.Request, pin []byte) error {
		return c.ChangePin(r.Context(), pin)
	})(w, r)
}

// simpleAction runs fn and answers with the new status.
func (s *Server) simpleAction(w http.ResponseWriter, r *http.Request, fn func(c *session.Controller) error) {
	c := controllerFrom(r.Context())
	if err := fn(c); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatus(c.Status()))
}

func (s *Server) cancelSetup(w http.ResponseWriter, r *http.Request) {
	s.simpleAction(w, r, func(c *session.Controller) error { return c.CancelSetup(r.Context()) })
}

func (s *Server) lock(w http.ResponseWriter, r *http.Request) {
	s.simpleAction(w, r, func(c *session.Controller) error {
		c.Lock(r.Context())
		return nil
	})
}

func (s *Server) requestPinChange(w http.ResponseWriter, r *http.Request) {
	s.simpleAction(w, r, func(c *session.Controller) error { return c.RequestPinChange(r.Context()) })
}

func (s *Server) cancelPinChange(w http.ResponseWriter, r *http.Request) {
	s.simpleAction(w, r, func(c *session.Controller) error { return c.CancelPinChange(r.Context()) })
}

func (s *Server) resetVault(w http.ResponseWriter, r *http.Request) {
	s.simpleAction(w, r, func(c *session.Controller) error { return c.Reset(r.Context()) })
}

func (s *Server) verifyOtp(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.simpleAction(w, r, func(c *session.Controller) error { return c.VerifyOtp(r.Context(), req.Code) })
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	records, err := controllerFrom(r.Context()).ListRecords(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	var doc json.RawMessage
	if err := controllerFrom(r.Context()).GetRecord(r.Context(), chi.URLParam(r, "id"), &doc); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (s *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	s.saveRecord(w, r, "", http.StatusCreated)
}

func (s *Server) putRecord(w http.ResponseWriter, r *http.Request) {
	s.saveRecord(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

func (s *Server) saveRecord(w http.ResponseWriter, r *http.Request, id string, status int) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRecordSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(body) > maxRecordSize {
		writeError(w, http.StatusRequestEntityTooLarge, "record_too_large", "record exceeds 1 MiB")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "bad_request", "record must be a JSON document")
		return
	}

	id, err = controllerFrom(r.Context()).PutRecord(r.Context(), id, json.RawMessage(body))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, status, idResponse{ID: id})
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := controllerFrom(r.Context()).DeleteRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var errBackupDisabled = errors.New("backup storage is not configured")

func (s *Server) backup(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		writeError(w, http.StatusNotImplemented, "backup_not_configured", errBackupDisabled.Error())
		return
	}
	key, err := s.backups.Backup(r.Context(), identityFrom(r.Context()).UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (s *Server) listBackups(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		writeError(w, http.StatusNotImplemented, "backup_not_configured", errBackupDisabled.Error())
		return
	}
	keys, err := s.backups.List(r.Context(), identityFrom(r.Context()).UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"keys": keys})
}

// restore loads a snapshot into an empty vault and reopens the session so
// the controller picks up the restored verifier.
func (s *Server) restore(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		writeError(w, http.StatusNotImplemented, "backup_not_configured", errBackupDisabled.Error())
		return
	}
	var req restoreRequest
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	id := identityFrom(r.Context())
	if st := controllerFrom(r.Context()).State(); st != session.NotSetup {
		s.respondError(w, r, fmt.Errorf("%w: vault is %s", session.ErrAlreadySetup, st))
		return
	}

	snap, err := s.backups.Restore(r.Context(), id.UserID, req.Key)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.registry.Close(id.UserID)
	c, err := s.registry.Open(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Info(r.Context(), "vault restored", "user_id", id.UserID, "records", len(snap.Blobs))
	writeJSON(w, http.StatusOK, toStatus(c.Status()))
}
