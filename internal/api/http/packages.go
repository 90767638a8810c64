package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-player/internal/auth/middleware"
	"github.com/mind-engage/mindengage-player/internal/course"
)

// POST /packages (multipart: file=package.zip)
func (a *API) postPackage(w http.ResponseWriter, r *http.Request) {
	if a.MaxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.MaxUpload)
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "package too large"})
			return
		}
		http.Error(w, "file required", http.StatusBadRequest)
		return
	}
	defer f.Close()

	rec, err := a.Player.Library().Import(r.Context(), f, authmw.SubjectFromContext(r.Context()))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GET /packages?q=&limit=&offset=
func (a *API) listPackages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := course.ListOpts{Q: strings.TrimSpace(q.Get("q"))}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		opts.Offset = v
	}
	items, err := a.Player.Library().List(r.Context(), opts)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if items == nil {
		items = []course.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GET /packages/{id}
func (a *API) getPackage(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Player.Library().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DELETE /packages/{id}
func (a *API) deletePackage(w http.ResponseWriter, r *http.Request) {
	if err := a.Player.DeletePackage(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
