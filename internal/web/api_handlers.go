package web

import (
	"net/http"

	"hydrofirma/internal/guard"
	"hydrofirma/internal/identity"
	"hydrofirma/internal/sensors"
)

type sessionResponse struct {
	Loading  bool               `json:"loading"`
	Identity *identity.Identity `json:"identity"`
}

// handleAPISession reports the session state without waiting for it.
func (s *Server) handleAPISession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, sessionResponse{Loading: sess.Loading(), Identity: sess.Current()})
}

type roleResponse struct {
	State string `json:"state"`
}

func (s *Server) handleAPIRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionFromContext(ctx).Current()
	if id == nil {
		s.writeErr(ctx, w, http.StatusUnauthorized, "authentication required", "")
		return
	}
	gate := guard.NewAdminGate(s.profiles, id.ID, s.logger)
	writeJSON(w, http.StatusOK, roleResponse{State: gate.Resolve(ctx).String()})
}

type sensorsResponse struct {
	Reading  sensors.Reading           `json:"reading"`
	Statuses map[string]sensors.Status `json:"statuses"`
}

func (s *Server) handleAPISensors(w http.ResponseWriter, _ *http.Request) {
	reading := s.sensors.Next()
	writeJSON(w, http.StatusOK, sensorsResponse{Reading: reading, Statuses: reading.Statuses()})
}
