// Package http exposes the player over HTTP: package import, viewing
// sessions, the frame host page, object serving and tracking commits.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-player/internal/auth/middleware"
	"github.com/mind-engage/mindengage-player/internal/course"
	"github.com/mind-engage/mindengage-player/internal/player"
	"github.com/mind-engage/mindengage-player/internal/rbac"
	"github.com/mind-engage/mindengage-player/internal/rewrite"
	"github.com/mind-engage/mindengage-player/internal/scorm"
	"github.com/mind-engage/mindengage-player/internal/scorm/parser"
	"github.com/mind-engage/mindengage-player/internal/shim"
	"github.com/mind-engage/mindengage-player/internal/storage"
	syncx "github.com/mind-engage/mindengage-player/internal/sync"
)

// EventLister reads the audit log. *syncx.EventRepo implements it.
type EventLister interface {
	Since(ctx context.Context, after int64, limit int) ([]syncx.Event, error)
}

type API struct {
	Player  *player.Player
	Objects *storage.ObjectStore
	Auth    *authmw.AuthService
	Events  EventLister // optional

	// MaxUpload caps the import request body in bytes; 0 means no cap.
	MaxUpload int64
}

// Routes mounts every endpoint on r. Objects, frames and commits are
// reached from inside the sandboxed frame, which carries no bearer token;
// their unguessable ids act as capabilities.
func (a *API) Routes(r chi.Router) {
	r.Get("/objects/{ref}", a.getObject)
	r.Get("/views/{viewID}/items/{itemID}/frame", a.getFrame)
	r.Post("/tracking/{id}/commit", a.postCommit)

	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(a.Auth))

		pr.With(rbac.Require(rbac.PermPackageImport)).Post("/packages", a.postPackage)
		pr.With(rbac.Require(rbac.PermPackageView)).Get("/packages", a.listPackages)
		pr.With(rbac.Require(rbac.PermPackageView)).Get("/packages/{id}", a.getPackage)
		pr.With(rbac.Require(rbac.PermPackageDelete)).Delete("/packages/{id}", a.deletePackage)

		pr.With(rbac.Require(rbac.PermViewOpen)).Post("/packages/{id}/views", a.postView)
		pr.With(rbac.Require(rbac.PermViewOpen)).Post("/views/{viewID}/items/{itemID}", a.postLoad)
		pr.With(rbac.Require(rbac.PermViewOpen)).Delete("/views/{viewID}", a.deleteView)

		pr.With(rbac.RequireAny(rbac.PermTrackingReadOwn, rbac.PermTrackingReadAll),
			rbac.RequireOwnerOr(rbac.PermTrackingReadAll, a.ownsTracking)).Get("/tracking/{id}", a.getTracking)
		pr.With(rbac.Require(rbac.PermTrackingWrite), rbac.RequireOwnerOr(rbac.PermTrackingReadAll, a.ownsTracking)).
			Post("/tracking/{id}", a.postTrackingValue)
		pr.With(rbac.Require(rbac.PermTrackingWrite), rbac.RequireOwnerOr(rbac.PermTrackingReadAll, a.ownsTracking)).
			Post("/tracking/{id}/reset", a.postTrackingReset)

		if a.Events != nil {
			pr.With(rbac.Require(rbac.PermEventsRead)).Get("/events", a.listEvents)
		}
	})
}

func learnerFrom(r *http.Request) shim.Learner {
	ctx := r.Context()
	return shim.Learner{ID: authmw.SubjectFromContext(ctx), Name: authmw.NameFromContext(ctx)}
}

// seesAll reports whether the caller may act on other learners' views and
// tracking.
func seesAll(r *http.Request) bool {
	return rbac.Allowed(rbac.RoleFromContext(r.Context()), rbac.PermTrackingReadAll)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Retry bool   `json:"retry"`
}

// classify maps domain errors onto status codes. Package-level failures
// are 400 and per-item failures 422; both can be retried by repeating the
// request.
func classify(err error) (status int, retry bool) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, false
	case errors.Is(err, scorm.ErrPackage), errors.Is(err, parser.ErrManifest):
		return http.StatusBadRequest, true
	case errors.Is(err, player.ErrResolutionMiss), errors.Is(err, rewrite.ErrEmptyDocument):
		return http.StatusUnprocessableEntity, true
	case errors.Is(err, player.ErrNotSelectable):
		return http.StatusUnprocessableEntity, false
	case errors.Is(err, player.ErrSuperseded), errors.Is(err, course.ErrConflict):
		return http.StatusConflict, false
	case errors.Is(err, course.ErrNotFound), errors.Is(err, storage.ErrNotFound),
		errors.Is(err, player.ErrItemNotFound), errors.Is(err, player.ErrViewNotFound),
		errors.Is(err, player.ErrSessionNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, true
	default:
		return http.StatusInternalServerError, true
	}
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, retry := classify(err)
	msg := err.Error()
	switch status {
	case http.StatusRequestEntityTooLarge:
		msg = "package too large"
	case http.StatusServiceUnavailable:
		msg = "request timed out"
	case http.StatusInternalServerError:
		log.Printf("api: %s %s: %v", r.Method, r.URL.Path, err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Retry: retry})
}
