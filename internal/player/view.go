package player

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-player/internal/rewrite"
	"github.com/mind-engage/mindengage-player/internal/scorm"
	"github.com/mind-engage/mindengage-player/internal/scorm/parser"
	"github.com/mind-engage/mindengage-player/internal/scorm/paths"
	"github.com/mind-engage/mindengage-player/internal/shim"
	"github.com/mind-engage/mindengage-player/internal/vfs"
)

var (
	ErrResolutionMiss = errors.New("player: no renderable file for item")
	ErrItemNotFound   = errors.New("player: item not found")
	ErrNotSelectable  = errors.New("player: item has no content")
	ErrSuperseded     = errors.New("player: load superseded by a newer request")
	ErrViewNotFound   = errors.New("player: view not found")
)

type Options struct {
	// RewriteLinked also rewrites every other HTML and CSS file of the
	// package, so pages reached by navigation inside the frame resolve too.
	RewriteLinked bool
	// CommitURL builds the address the in-page API posts commits to.
	CommitURL func(trackingID string) string
}

// Player holds the open views.
type Player struct {
	lib     *Library
	handles vfs.Handles
	tracker *Tracker
	opts    Options

	mu    sync.RWMutex
	views map[string]*View
}

func New(lib *Library, handles vfs.Handles, tracker *Tracker, opts Options) *Player {
	if opts.CommitURL == nil {
		opts.CommitURL = func(id string) string { return "/tracking/" + id + "/commit" }
	}
	return &Player{lib: lib, handles: handles, tracker: tracker, opts: opts, views: map[string]*View{}}
}

func (p *Player) Library() *Library { return p.lib }
func (p *Player) Tracker() *Tracker { return p.tracker }

// OpenView starts a viewing session of a package for learner.
func (p *Player) OpenView(ctx context.Context, packageID string, learner shim.Learner) (*View, error) {
	rec, pkg, err := p.lib.Open(ctx, packageID)
	if err != nil {
		return nil, err
	}
	v := &View{
		ID:        uuid.NewString(),
		PackageID: rec.ID,
		Learner:   learner,
		player:    p,
		pkg:       pkg,
	}
	p.mu.Lock()
	p.views[v.ID] = v
	p.mu.Unlock()
	return v, nil
}

func (p *Player) View(id string) (*View, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.views[id]
	if !ok {
		return nil, ErrViewNotFound
	}
	return v, nil
}

// CloseView releases every reference the view holds.
func (p *Player) CloseView(id string) error {
	p.mu.Lock()
	v, ok := p.views[id]
	delete(p.views, id)
	p.mu.Unlock()
	if !ok {
		return ErrViewNotFound
	}
	v.Close()
	return nil
}

// DeletePackage closes the package's views, then removes it.
func (p *Player) DeletePackage(ctx context.Context, packageID string) error {
	if err := p.lib.Delete(ctx, packageID); err != nil {
		return err
	}
	p.mu.Lock()
	var closing []*View
	for id, v := range p.views {
		if v.PackageID == packageID {
			closing = append(closing, v)
			delete(p.views, id)
		}
	}
	p.mu.Unlock()
	for _, v := range closing {
		v.Close()
	}
	return nil
}

// CloseAll closes every view.
func (p *Player) CloseAll() {
	p.mu.Lock()
	views := p.views
	p.views = map[string]*View{}
	p.mu.Unlock()
	for _, v := range views {
		v.Close()
	}
}

// Content is what a successful load hands to the presentation host.
type Content struct {
	ViewID     string `json:"view_id"`
	ItemID     string `json:"item_id"`
	Title      string `json:"title"`
	Path       string `json:"path"`
	MimeType   string `json:"mime_type"`
	URL        string `json:"url"`
	Rewritten  bool   `json:"rewritten"`
	TrackingID string `json:"tracking_id"`
	Files      int    `json:"files"`
}

// View is one viewer's session on a package. Each Load builds its own
// registry; only the newest load's result is installed.
type View struct {
	ID        string
	PackageID string
	Learner   shim.Learner

	player *Player
	pkg    *scorm.Package

	mu       sync.Mutex
	seq      uint64
	reg      *vfs.Registry
	current  *Content
	tracking string
}

func (v *View) Manifest() parser.CourseManifest { return v.pkg.Manifest }

// Current returns the installed content, if any.
func (v *View) Current() (Content, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == nil {
		return Content{}, false
	}
	return *v.current, true
}

// Load resolves and prepares itemID. Every call re-runs every stage, so a
// retry is just another Load.
func (v *View) Load(ctx context.Context, itemID string) (Content, error) {
	m := v.pkg.Manifest
	selected, ok := m.FindItem(itemID)
	if !ok {
		return Content{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if !selected.Selectable() {
		return Content{}, fmt.Errorf("%w: %s", ErrNotSelectable, itemID)
	}
	item, ok := parser.FirstContentItem(selected)
	if !ok {
		return Content{}, fmt.Errorf("%w: %s", ErrNotSelectable, itemID)
	}

	v.mu.Lock()
	v.seq++
	seq := v.seq
	prev, prevTracking := v.reg, v.tracking
	v.reg, v.current, v.tracking = nil, nil, ""
	v.mu.Unlock()
	if prev != nil {
		prev.Clear()
	}
	// released after this load has begun its own session, so a reload of
	// the same item keeps the live tracking id
	if prevTracking != "" {
		defer v.player.tracker.End(prevTracking)
	}

	reg := vfs.New(v.player.handles)
	content, err := v.prepare(ctx, reg, selected, item)
	if err != nil {
		reg.Clear()
		return Content{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if seq != v.seq {
		reg.Clear()
		v.player.tracker.End(content.TrackingID)
		return Content{}, ErrSuperseded
	}
	v.reg, v.current, v.tracking = reg, &content, content.TrackingID
	return content, nil
}

func (v *View) prepare(ctx context.Context, reg *vfs.Registry, selected, item parser.Item) (_ Content, err error) {
	for _, name := range v.pkg.Order {
		if _, err := reg.Register(name, v.pkg.Files[name]); err != nil {
			log.Printf("player: view %s: skip %q: %v", v.ID, name, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return Content{}, err
	}

	res, ok := v.pkg.Manifest.Resource(item.ResourceRef)
	if !ok {
		return Content{}, fmt.Errorf("%w: item %s references unknown resource %q", ErrResolutionMiss, item.ID, item.ResourceRef)
	}
	entry, suffix, ok := resolveLaunch(reg, res)
	if !ok {
		return Content{}, fmt.Errorf("%w: resource %s (%q)", ErrResolutionMiss, res.ID, res.PrimaryPath)
	}

	trackingID, session, err := v.player.tracker.Begin(ctx, v.PackageID, item, v.Learner)
	if err != nil {
		return Content{}, err
	}
	defer func() {
		if err != nil {
			v.player.tracker.End(trackingID)
		}
	}()

	c := Content{
		ViewID:     v.ID,
		ItemID:     selected.ID,
		Title:      selected.Title,
		Path:       entry.Path,
		MimeType:   entry.MimeType,
		URL:        launchURL(entry.Ref, suffix, item.Parameters),
		TrackingID: trackingID,
		Files:      reg.Len(),
	}
	if !paths.IsDocument(entry.Path) {
		return c, nil
	}

	script, err := shim.Script(shim.ScriptData{
		Values:    session.Snapshot(),
		CommitURL: v.player.opts.CommitURL(trackingID),
		Scope:     uuid.NewString(),
	})
	if err != nil {
		return Content{}, err
	}
	if err = rewriteDocument(reg, entry.Path, script); err != nil {
		return Content{}, err
	}
	c.Rewritten = true

	if v.player.opts.RewriteLinked {
		rewriteLinked(reg, entry.Path, script)
	}
	return c, nil
}

// resolveLaunch finds the file a resource launches: its primary path
// through the general chain, then its declared files in order, then the
// document entry-point fallback.
func resolveLaunch(reg *vfs.Registry, res parser.Resource) (vfs.Entry, string, bool) {
	primary, suffix := paths.SplitSuffix(res.PrimaryPath)
	if primary != "" {
		if e, ok := reg.Resolve(primary); ok {
			return e, suffix, true
		}
	}
	for _, f := range res.Files {
		if e, ok := reg.Resolve(f); ok && paths.IsDocument(e.Path) {
			return e, "", true
		}
	}
	if e, ok := reg.ResolveEntryPoint(primary); ok {
		return e, "", true
	}
	return vfs.Entry{}, "", false
}

// launchURL appends the href's own query/fragment and the item parameters.
func launchURL(ref, suffix, params string) string {
	u := ref + suffix
	params = strings.TrimSpace(params)
	if params == "" {
		return u
	}
	switch {
	case strings.HasPrefix(params, "#"):
		return u + params
	case strings.HasPrefix(params, "?"):
		params = params[1:]
	case strings.HasPrefix(params, "&"):
		params = params[1:]
	}
	if params == "" {
		return u
	}
	frag := ""
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u, frag = u[:i], u[i:]
	}
	if strings.Contains(u, "?") {
		return u + "&" + params + frag
	}
	return u + "?" + params + frag
}

func resolver(reg *vfs.Registry) rewrite.ResolveFunc {
	return func(p string) (string, bool) {
		e, ok := reg.Resolve(p)
		return e.Ref, ok
	}
}

func rewriteDocument(reg *vfs.Registry, p, script string) error {
	raw, err := fs.ReadFile(reg, p)
	if err != nil {
		return fmt.Errorf("read %s: %w", p, err)
	}
	text, err := rewrite.DecodeText(raw, "")
	if err != nil {
		return err
	}
	out, err := rewrite.HTML(text, rewrite.Options{BasePath: p, Resolve: resolver(reg), Shim: script})
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	return reg.Rewrite(p, []byte(out))
}

// rewriteLinked rewrites the other documents and stylesheets. Failures
// leave the file as extracted.
func rewriteLinked(reg *vfs.Registry, entryPath, script string) {
	for _, e := range reg.Entries() {
		if e.Path == entryPath {
			continue
		}
		switch {
		case paths.IsDocument(e.Path):
			if err := rewriteDocument(reg, e.Path, script); err != nil && !errors.Is(err, rewrite.ErrEmptyDocument) {
				log.Printf("player: rewrite %s: %v", e.Path, err)
			}
		case paths.IsStylesheet(e.Path):
			raw, err := fs.ReadFile(reg, e.Path)
			if err != nil {
				continue
			}
			text, err := rewrite.DecodeText(raw, "text/css")
			if err != nil {
				continue
			}
			out, err := rewrite.CSS(text, rewrite.Options{BasePath: e.Path, Resolve: resolver(reg)})
			if err != nil {
				continue
			}
			if out != text {
				_ = reg.Rewrite(e.Path, []byte(out))
			}
		}
	}
}

// Close revokes the view's references, releases its tracking session and
// invalidates in-flight loads.
func (v *View) Close() {
	v.mu.Lock()
	v.seq++
	reg, tracking := v.reg, v.tracking
	v.reg, v.current, v.tracking = nil, nil, ""
	v.mu.Unlock()
	if reg != nil {
		reg.Clear()
	}
	if tracking != "" {
		v.player.tracker.End(tracking)
	}
}
