package http

import (
	"html/template"
	"log"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-player/internal/auth/middleware"
	"github.com/mind-engage/mindengage-player/internal/player"
)

type viewResponse struct {
	ViewID    string `json:"view_id"`
	PackageID string `json:"package_id"`
	Title     string `json:"title"`
	Manifest  any    `json:"manifest"`
}

type loadResponse struct {
	player.Content
	FrameURL string `json:"frame_url"`
}

func frameURL(viewID, itemID string) string {
	return "/views/" + url.PathEscape(viewID) + "/items/" + url.PathEscape(itemID) + "/frame"
}

// POST /packages/{id}/views
func (a *API) postView(w http.ResponseWriter, r *http.Request) {
	v, err := a.Player.OpenView(r.Context(), chi.URLParam(r, "id"), learnerFrom(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	m := v.Manifest()
	writeJSON(w, http.StatusCreated, viewResponse{ViewID: v.ID, PackageID: v.PackageID, Title: m.Title, Manifest: m})
}

// view returns the caller's view, or writes the error and returns nil.
func (a *API) view(w http.ResponseWriter, r *http.Request) *player.View {
	v, err := a.Player.View(chi.URLParam(r, "viewID"))
	if err != nil {
		writeErr(w, r, err)
		return nil
	}
	if v.Learner.ID != authmw.SubjectFromContext(r.Context()) && !seesAll(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil
	}
	return v
}

// POST /views/{viewID}/items/{itemID}
// Loads the item; posting again retries every stage.
func (a *API) postLoad(w http.ResponseWriter, r *http.Request) {
	v := a.view(w, r)
	if v == nil {
		return
	}
	c, err := v.Load(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loadResponse{Content: c, FrameURL: frameURL(v.ID, c.ItemID)})
}

// DELETE /views/{viewID}
func (a *API) deleteView(w http.ResponseWriter, r *http.Request) {
	v := a.view(w, r)
	if v == nil {
		return
	}
	if err := a.Player.CloseView(v.ID); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var frameTmpl = template.Must(template.New("frame").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>html,body{margin:0;height:100%;font-family:sans-serif}iframe{display:block;border:0;width:100%;height:100%}.err{padding:2em}</style>
</head>
<body>
{{if .Error}}<div class="err" role="alert">
<p>{{.Title}} could not be shown: {{.Error}}</p>
{{if .Retry}}<p><a href="{{.Self}}">Try again</a></p>{{end}}
</div>
{{else}}<iframe title="{{.Title}}" src="{{.URL}}" sandbox="allow-scripts allow-same-origin allow-forms allow-popups allow-downloads" allow="fullscreen; autoplay"></iframe>
{{end}}</body>
</html>
`))

type frameData struct {
	Title string
	URL   string
	Self  string
	Error string
	Retry bool
}

// GET /views/{viewID}/items/{itemID}/frame
// Returns a page hosting the item in a sandboxed iframe, loading the item
// first unless it is the view's current content.
func (a *API) getFrame(w http.ResponseWriter, r *http.Request) {
	viewID, itemID := chi.URLParam(r, "viewID"), chi.URLParam(r, "itemID")
	v, err := a.Player.View(viewID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	c, ok := v.Current()
	if !ok || c.ItemID != itemID {
		c, err = v.Load(r.Context(), itemID)
	}

	d := frameData{Title: c.Title, URL: c.URL, Self: frameURL(viewID, itemID)}
	status := http.StatusOK
	if err != nil {
		status, d.Retry = classify(err)
		if status == http.StatusInternalServerError {
			log.Printf("api: frame %s/%s: %v", viewID, itemID, err)
		}
		d.Title = itemTitle(v, itemID)
		d.Error = err.Error()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := frameTmpl.Execute(w, d); err != nil {
		log.Printf("api: frame %s/%s: %v", viewID, itemID, err)
	}
}

func itemTitle(v *player.View, itemID string) string {
	if it, ok := v.Manifest().FindItem(itemID); ok && it.Title != "" {
		return it.Title
	}
	return "This item"
}
