package http

import (
	"net/http"
	"strconv"

	syncx "github.com/mind-engage/mindengage-player/internal/sync"
)

// GET /events?after=&limit=
func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after, _ := strconv.ParseInt(q.Get("after"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	evs, err := a.Events.Since(r.Context(), after, limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if evs == nil {
		evs = []syncx.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": evs})
}
