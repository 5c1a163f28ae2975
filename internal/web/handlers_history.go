package web

import (
	"errors"
	"net/http"

	"github.com/fpang/image-insight/internal/auth"
	"github.com/fpang/image-insight/internal/backend"
)

// POST /api/auth/signin
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	user, err := s.backend.SignIn(r.Context())
	if err != nil {
		s.respondBackendError(w, err)
		return
	}
	s.setUserCookie(w, user.ID)
	s.respondJSON(w, http.StatusOK, user)
}

// GET /api/history
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	records, err := s.backend.ListRecords(r.Context(), uid)
	if err != nil {
		s.respondBackendError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, records)
}

// POST /api/history
// Saves the live session: the image is uploaded, the content recorded.
func (s *Server) handleSaveHistory(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	session, img := s.orch.Current()
	record, err := s.backend.SaveSession(r.Context(), uid, session, img)
	if err != nil {
		s.respondBackendError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, record)
}

// requireUser checks that history is available and a user is signed in.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !s.backend.Enabled() {
		s.httpError(w, http.StatusServiceUnavailable, msgHistoryDisabled)
		return "", false
	}
	uid := userID(r)
	if uid == "" {
		s.httpError(w, http.StatusUnauthorized, msgNotSignedIn)
		return "", false
	}
	return uid, true
}

func (s *Server) respondBackendError(w http.ResponseWriter, err error) {
	var storageErr *backend.StorageError
	switch {
	case auth.IsConfigurationError(err):
		s.httpError(w, http.StatusServiceUnavailable, msgHistoryDisabled)
	case errors.Is(err, backend.ErrNoUser):
		s.httpError(w, http.StatusUnauthorized, msgNotSignedIn)
	case errors.Is(err, backend.ErrNothingToSave):
		s.httpError(w, http.StatusBadRequest, msgNothingToSave)
	case errors.As(err, &storageErr):
		s.httpError(w, http.StatusInternalServerError, storageErr.Message, err)
	default:
		s.httpError(w, http.StatusInternalServerError, msgInternal, err)
	}
}
