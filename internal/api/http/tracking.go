package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-player/internal/auth/middleware"
	"github.com/mind-engage/mindengage-player/internal/player"
	"github.com/mind-engage/mindengage-player/internal/shim"
)

func (a *API) ownsTracking(r *http.Request) bool {
	rec, err := a.Player.Tracker().Get(r.Context(), chi.URLParam(r, "id"))
	return err == nil && rec.UserID == authmw.SubjectFromContext(r.Context())
}

// GET /tracking/{id}
func (a *API) getTracking(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Player.Tracker().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type setValueResult struct {
	Result      string `json:"result"`
	Error       string `json:"error"`
	ErrorString string `json:"error_string"`
}

// POST /tracking/{id}  { "key": "...", "value": "..." }
func (a *API) postTrackingValue(w http.ResponseWriter, r *http.Request) {
	s, ok := a.Player.Tracker().Session(chi.URLParam(r, "id"))
	if !ok {
		writeErr(w, r, player.ErrSessionNotFound)
		return
	}
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	res := s.SetValue(req.Key, req.Value)
	code := s.GetLastError()
	writeJSON(w, http.StatusOK, setValueResult{Result: res, Error: code, ErrorString: shim.ErrorString(code)})
}

// POST /tracking/{id}/commit  { "values": { "cmi.core.lesson_status": "completed", ... } }
// Posted by the in-page API.
func (a *API) postCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Values map[string]string `json:"values"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	rejected, err := a.Player.Tracker().Commit(chi.URLParam(r, "id"), req.Values)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if rejected == nil {
		rejected = map[string]string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": shim.True, "rejected": rejected})
}

// POST /tracking/{id}/reset
func (a *API) postTrackingReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Player.Tracker().Reset(id); err != nil {
		writeErr(w, r, err)
		return
	}
	rec, err := a.Player.Tracker().Get(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
