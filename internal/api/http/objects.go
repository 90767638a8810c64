package http

import (
	"bytes"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// GET /objects/{ref}
func (a *API) getObject(w http.ResponseWriter, r *http.Request) {
	obj, ok := a.Objects.Lookup(chi.URLParam(r, "ref"))
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h := w.Header()
	if obj.MimeType != "" {
		h.Set("Content-Type", obj.MimeType)
	}
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-store")
	http.ServeContent(w, r, obj.Name, time.Time{}, bytes.NewReader(obj.Data))
}
