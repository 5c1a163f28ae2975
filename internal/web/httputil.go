package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-insight/internal/jsonutil"
)

// User-facing messages owned by the HTTP layer.
const (
	msgInvalidRequest     = "Requête invalide."
	msgNotFound           = "Ressource introuvable."
	msgMethodNotAllowed   = "Méthode non autorisée."
	msgMissingFile        = "Aucun fichier image n'a été envoyé."
	msgUnsupportedImage   = "Ce fichier n'est pas une image prise en charge."
	msgImageTooLarge      = "L'image est trop volumineuse."
	msgPreviewUnavailable = "Aucun aperçu n'est disponible."
	msgNotSignedIn        = "Veuillez vous connecter pour accéder à l'historique."
	msgHistoryDisabled    = "L'historique n'est pas configuré sur ce serveur."
	msgNothingToSave      = "Aucune analyse terminée à sauvegarder."
	msgInternal           = "Une erreur interne est survenue."
)

const (
	userCookie    = "insight_uid"
	maxJSONBytes  = 64 << 10
	cookieMaxAge  = 365 * 24 * 60 * 60
	formMemoryCap = 8 << 20
)

var errBodyTooLarge = errors.New("request body too large")

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	if err := s.render.JSON(w, status, data); err != nil {
		log.Error().Err(err).Int("status", status).Msg("Failed to write JSON response")
	}
}

// httpError sends a JSON error response. The clientMsg is returned to the caller.
// Optional internal errors are logged server-side but never sent to the client.
func (s *Server) httpError(w http.ResponseWriter, status int, clientMsg string, internal ...error) {
	if len(internal) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Err(errors.Join(internal...)).
			Msg("HTTP error with internal details")
	}
	s.respondJSON(w, status, map[string]string{"error": clientMsg})
}

// readJSON strictly decodes a small JSON body into T. An empty body yields
// the zero value.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var zero T
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return zero, errBodyTooLarge
		}
		return zero, err
	}
	if len(data) == 0 {
		return zero, nil
	}
	return jsonutil.DecodeStrict[T](data)
}

// userID returns the signed-in user from the cookie, or "" when absent or
// malformed.
func userID(r *http.Request) string {
	c, err := r.Cookie(userCookie)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) setUserCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     userCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
