package player

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/mind-engage/mindengage-player/internal/course"
	"github.com/mind-engage/mindengage-player/internal/db"
	"github.com/mind-engage/mindengage-player/internal/scorm"
	"github.com/mind-engage/mindengage-player/internal/shim"
	"github.com/mind-engage/mindengage-player/internal/storage"
)

const manifestXML = `<?xml version="1.0" encoding="UTF-8"?>
<manifest identifier="course-1" version="1.2"
    xmlns:adlcp="http://www.adlnet.org/xsd/adlcp_rootv1p2">
  <organizations default="org1">
    <organization identifier="org1">
      <title>Demo course</title>
      <item identifier="page" identifierref="r-page" parameters="?lang=en"><title>Page</title></item>
      <item identifier="quiz" identifierref="r-quiz"><title>Quiz</title></item>
      <item identifier="broken" identifierref="r-missing"><title>Broken</title></item>
      <item identifier="folder"><title>Folder</title>
        <item identifier="child" identifierref="r-child">
          <title>Child</title>
          <adlcp:datafromlms>seed-data</adlcp:datafromlms>
          <adlcp:masteryscore>70</adlcp:masteryscore>
        </item>
      </item>
      <item identifier="fallback" identifierref="r-fallback"><title>Fallback</title></item>
      <item identifier="empty" identifierref="r-empty"><title>Empty</title></item>
    </organization>
  </organizations>
  <resources>
    <resource identifier="r-page" type="webcontent" adlcp:scormtype="sco" href="content/page.html">
      <file href="content/page.html"/><file href="content/style.css"/>
    </resource>
    <resource identifier="r-quiz" type="webcontent"><file href="quiz.swf"/></resource>
    <resource identifier="r-child" type="webcontent" href="child/index.html"/>
    <resource identifier="r-fallback" type="webcontent" href="does/not/exist.html"/>
    <resource identifier="r-empty" type="webcontent" href="blank.html"/>
  </resources>
</manifest>`

func testArchive(t *testing.T) []byte {
	t.Helper()
	files := []struct{ name, body string }{
		{scorm.ManifestName, manifestXML},
		{"content/page.html", `<html><head><link rel="stylesheet" href="./style.css"></head>` +
			`<body><a href="page2.html?step=2">next</a><img src="../img/logo.png"></body></html>`},
		{"content/page2.html", `<html><body><img src="../img/logo.png"></body></html>`},
		{"content/style.css", `body{background:url(../img/bg.png)}`},
		{"img/logo.png", "PNG"},
		{"img/bg.png", "PNG"},
		{"quiz.swf", "FWS"},
		{"index.html", "<html><body>home</body></html>"},
		{"child/index.html", "<p>child</p>"},
		{"blank.html", "  "},
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = io.WriteString(w, f.body)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fixture struct {
	player  *Player
	objects *storage.ObjectStore
	store   course.Store
	pkg     course.Package
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	return newFixtureWith(t, opts, course.NewInMemoryStore())
}

func sqliteStore(t *testing.T) course.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := db.Open(context.Background(), db.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatal(err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = conn.Close() })
	return course.NewSQLStore(conn, string(db.DriverSQLite))
}

// stores runs fn against the in-memory and the sqlite store.
func stores(t *testing.T, fn func(t *testing.T, store course.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, course.NewInMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, sqliteStore(t)) })
}

func newFixtureWith(t *testing.T, opts Options, store course.Store) *fixture {
	t.Helper()
	blobs, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	objects := storage.NewObjectStore("/objects/")
	lib := NewLibrary(store, blobs, nil, nil)
	p := New(lib, objects, NewTracker(store, nil), opts)

	rec, err := lib.Import(context.Background(), bytes.NewReader(testArchive(t)), "admin")
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{player: p, objects: objects, store: store, pkg: rec}
}

func (f *fixture) view(t *testing.T) *View {
	t.Helper()
	v, err := f.player.OpenView(context.Background(), f.pkg.ID, shim.Learner{ID: "u1", Name: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func (f *fixture) object(t *testing.T, url string) string {
	t.Helper()
	ref, _, _ := strings.Cut(url, "?")
	obj, ok := f.objects.Lookup(ref)
	if !ok {
		t.Fatalf("no object behind %s", url)
	}
	return string(obj.Data)
}

func TestLoadRewritesDocument(t *testing.T) {
	f := newFixture(t, Options{})
	v := f.view(t)
	c, err := v.Load(context.Background(), "page")
	if err != nil {
		t.Fatal(err)
	}
	if c.Path != "content/page.html" || !c.Rewritten || c.Title != "Page" {
		t.Fatalf("content = %+v", c)
	}
	if !strings.HasSuffix(c.URL, "?lang=en") {
		t.Fatalf("parameters not appended: %s", c.URL)
	}

	doc := f.object(t, c.URL)
	css, ok := v.reg.Resolve("content/style.css")
	if !ok {
		t.Fatal("style.css not registered")
	}
	if strings.Contains(doc, `href="./style.css"`) || !strings.Contains(doc, `href="`+css.Ref+`"`) {
		t.Fatalf("stylesheet not rewritten:\n%s", doc)
	}
	page2, _ := v.reg.Resolve("content/page2.html")
	if !strings.Contains(doc, `href="`+page2.Ref+`?step=2"`) {
		t.Fatalf("query not preserved:\n%s", doc)
	}
	logo, _ := v.reg.Resolve("img/logo.png")
	if !strings.Contains(doc, `src="`+logo.Ref+`"`) {
		t.Fatalf("parent-relative image not rewritten:\n%s", doc)
	}
	if !strings.Contains(doc, "API_1484_11") || strings.Index(doc, "<script") < strings.Index(doc, "<head>") {
		t.Fatal("shim not injected after <head>")
	}
	if !strings.Contains(doc, "/tracking/"+c.TrackingID+"/commit") {
		t.Fatal("commit url missing from shim")
	}
	// linked documents are left alone unless asked for
	if got := f.object(t, page2.Ref); strings.Contains(got, "/objects/") {
		t.Fatalf("linked page rewritten: %s", got)
	}
}

func TestLoadRewritesLinkedFiles(t *testing.T) {
	f := newFixture(t, Options{RewriteLinked: true})
	v := f.view(t)
	if _, err := v.Load(context.Background(), "page"); err != nil {
		t.Fatal(err)
	}
	logo, _ := v.reg.Resolve("img/logo.png")
	page2, _ := v.reg.Resolve("content/page2.html")
	if got := f.object(t, page2.Ref); !strings.Contains(got, logo.Ref) {
		t.Fatalf("linked page not rewritten: %s", got)
	}
	css, _ := v.reg.Resolve("content/style.css")
	bg, _ := v.reg.Resolve("img/bg.png")
	if got := f.object(t, css.Ref); got != "body{background:url("+bg.Ref+")}" {
		t.Fatalf("stylesheet = %s", got)
	}
}

func TestNonDocumentPrimary(t *testing.T) {
	f := newFixture(t, Options{})
	v := f.view(t)
	c, err := v.Load(context.Background(), "quiz")
	if err != nil {
		t.Fatal(err)
	}
	if c.Path != "quiz.swf" || c.Rewritten {
		t.Fatalf("content = %+v, want quiz.swf unrewritten", c)
	}
	if f.object(t, c.URL) != "FWS" {
		t.Fatal("swf content changed")
	}
}

func TestMissingResourceIsPerItem(t *testing.T) {
	f := newFixture(t, Options{})
	v := f.view(t)
	if _, err := v.Load(context.Background(), "broken"); !errors.Is(err, ErrResolutionMiss) {
		t.Fatalf("err = %v, want ErrResolutionMiss", err)
	}
	if it, ok := v.Manifest().FindItem("broken"); !ok || it.Title != "Broken" {
		t.Fatal("item with dangling resource dropped from the tree")
	}
	if f.objects.Len() != 0 {
		t.Fatalf("failed load leaked %d objects", f.objects.Len())
	}
	if _, err := v.Load(context.Background(), "page"); err != nil {
		t.Fatalf("package unusable after a per-item failure: %v", err)
	}
}

func TestEntryPointFallbackAndFolders(t *testing.T) {
	f := newFixture(t, Options{})
	v := f.view(t)

	c, err := v.Load(context.Background(), "fallback")
	if err != nil {
		t.Fatal(err)
	}
	if c.Path != "index.html" {
		t.Fatalf("fallback path = %s", c.Path)
	}

	c, err = v.Load(context.Background(), "folder")
	if err != nil {
		t.Fatal(err)
	}
	if c.ItemID != "folder" || c.Path != "child/index.html" {
		t.Fatalf("folder content = %+v", c)
	}

	if _, err := v.Load(context.Background(), "nope"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("unknown item err = %v", err)
	}
	if _, err := v.Load(context.Background(), "empty"); err == nil {
		t.Fatal("empty document loaded")
	}
}

func TestReloadRevokesPreviousReferences(t *testing.T) {
	f := newFixture(t, Options{})
	v := f.view(t)
	first, err := v.Load(context.Background(), "page")
	if err != nil {
		t.Fatal(err)
	}
	files := first.Files
	if f.objects.Len() != files {
		t.Fatalf("objects = %d, want %d", f.objects.Len(), files)
	}
	second, err := v.Load(context.Background(), "page")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.objects.Lookup(strings.SplitN(first.URL, "?", 2)[0]); ok {
		t.Fatal("first load's reference still live")
	}
	if f.objects.Len() != files || second.URL == first.URL {
		t.Fatalf("objects = %d after retry", f.objects.Len())
	}

	if err := f.player.CloseView(v.ID); err != nil {
		t.Fatal(err)
	}
	if f.objects.Len() != 0 {
		t.Fatalf("%d objects after close", f.objects.Len())
	}
	if _, err := f.player.View(v.ID); !errors.Is(err, ErrViewNotFound) {
		t.Fatalf("closed view err = %v", err)
	}
}

func TestConcurrentLoadsInstallOneResult(t *testing.T) {
	f := newFixture(t, Options{})
	v := f.view(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item := "page"
			if i%2 == 1 {
				item = "quiz"
			}
			_, errs[i] = v.Load(context.Background(), item)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && !errors.Is(err, ErrSuperseded) {
			t.Fatalf("unexpected err %v", err)
		}
	}
	cur, ok := v.Current()
	if !ok {
		t.Fatal("no content installed")
	}
	if f.objects.Len() != cur.Files {
		t.Fatalf("objects = %d, want only the installed load's %d", f.objects.Len(), cur.Files)
	}
	if n := f.player.Tracker().Live(); n != 1 {
		t.Fatalf("live sessions = %d, want only the installed load's", n)
	}
	if err := f.player.CloseView(v.ID); err != nil {
		t.Fatal(err)
	}
	if n := f.player.Tracker().Live(); n != 0 {
		t.Fatalf("live sessions after close = %d", n)
	}
}

func TestTrackingCommitAndResume(t *testing.T) {
	stores(t, testTrackingCommitAndResume)
}

func testTrackingCommitAndResume(t *testing.T, store course.Store) {
	f := newFixtureWith(t, Options{}, store)
	v := f.view(t)
	c, err := v.Load(context.Background(), "child")
	if err != nil {
		t.Fatal(err)
	}
	tr := f.player.Tracker()
	s, ok := tr.Session(c.TrackingID)
	if !ok {
		t.Fatal("no session")
	}
	if s.GetValue("cmi.launch_data") != "seed-data" || s.GetValue("cmi.student_data.mastery_score") != "70" {
		t.Fatal("item data not seeded")
	}
	if s.GetValue("cmi.core.student_name") != "Ada" {
		t.Fatal("learner not seeded")
	}

	rejected, err := tr.Commit(c.TrackingID, map[string]string{
		"cmi.core.lesson_status":   "incomplete",
		"cmi.core.lesson_location": "p3",
		"cmi.core.lesson_mode":     "browse",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rejected["cmi.core.lesson_mode"] != shim.CodeReadOnly || len(rejected) != 1 {
		t.Fatalf("rejected = %v", rejected)
	}
	saved, err := f.store.GetTracking(context.Background(), c.TrackingID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Status != "incomplete" || saved.Values["cmi.core.lesson_location"] != "p3" || saved.UserID != "u1" {
		t.Fatalf("saved = %+v", saved)
	}

	again, err := v.Load(context.Background(), "child")
	if err != nil {
		t.Fatal(err)
	}
	if again.TrackingID != c.TrackingID {
		t.Fatal("resume started a new tracking record")
	}
	s, _ = tr.Session(again.TrackingID)
	if s.GetValue("cmi.core.entry") != "resume" || s.GetValue("cmi.core.lesson_location") != "p3" {
		t.Fatal("session did not resume")
	}

	if err := tr.Reset(again.TrackingID); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Commit("nope", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown session err = %v", err)
	}
}

func TestReloadKeepsTrackingIdentity(t *testing.T) {
	stores(t, func(t *testing.T, store course.Store) {
		ctx := context.Background()
		f := newFixtureWith(t, Options{}, store)
		tr := f.player.Tracker()
		v := f.view(t)

		first, err := v.Load(ctx, "child")
		if err != nil {
			t.Fatal(err)
		}
		retry, err := v.Load(ctx, "child")
		if err != nil {
			t.Fatal(err)
		}
		other := f.view(t)
		second, err := other.Load(ctx, "child")
		if err != nil {
			t.Fatal(err)
		}
		if retry.TrackingID != first.TrackingID || second.TrackingID != first.TrackingID {
			t.Fatalf("tracking ids %s %s %s, want one per learner and item", first.TrackingID, retry.TrackingID, second.TrackingID)
		}

		// the replaced page's unload commit, then the live page's
		if _, err := tr.Commit(first.TrackingID, map[string]string{"cmi.core.lesson_status": "incomplete"}); err != nil {
			t.Fatalf("first commit: %v", err)
		}
		if _, err := tr.Commit(retry.TrackingID, map[string]string{"cmi.core.lesson_location": "p2"}); err != nil {
			t.Fatalf("live commit: %v", err)
		}
		saved, err := store.FindTracking(ctx, f.pkg.ID, "child", "u1")
		if err != nil {
			t.Fatal(err)
		}
		if saved.ID != first.TrackingID || saved.Status != "incomplete" || saved.Values["cmi.core.lesson_location"] != "p2" {
			t.Fatalf("saved = %+v", saved)
		}

		if err := f.player.CloseView(v.ID); err != nil {
			t.Fatal(err)
		}
		if _, ok := tr.Session(first.TrackingID); !ok {
			t.Fatal("session dropped while another view still holds it")
		}
		if err := f.player.CloseView(other.ID); err != nil {
			t.Fatal(err)
		}
		if n := tr.Live(); n != 0 {
			t.Fatalf("live sessions after closing every view = %d", n)
		}
	})
}

func TestLoadsReleaseSessions(t *testing.T) {
	f := newFixture(t, Options{})
	tr := f.player.Tracker()
	v := f.view(t)
	for i := 0; i < 50; i++ {
		item := "page"
		if i%2 == 1 {
			item = "child"
		}
		if _, err := v.Load(context.Background(), item); err != nil {
			t.Fatal(err)
		}
	}
	if n := tr.Live(); n != 1 {
		t.Fatalf("live sessions after 50 loads = %d", n)
	}
	if _, err := v.Load(context.Background(), "broken"); !errors.Is(err, ErrResolutionMiss) {
		t.Fatalf("broken err = %v", err)
	}
	if n := tr.Live(); n != 0 {
		t.Fatalf("failed load kept %d sessions", n)
	}
	if _, err := v.Load(context.Background(), "page"); err != nil {
		t.Fatal(err)
	}
	if err := f.player.CloseView(v.ID); err != nil {
		t.Fatal(err)
	}
	if n := tr.Live(); n != 0 {
		t.Fatalf("live sessions after close = %d", n)
	}
}

func TestLinkedPageCommitKeepsProgress(t *testing.T) {
	f := newFixture(t, Options{RewriteLinked: true})
	tr := f.player.Tracker()
	v := f.view(t)
	c, err := v.Load(context.Background(), "page")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Commit(c.TrackingID, map[string]string{"cmi.core.lesson_status": "completed"}); err != nil {
		t.Fatal(err)
	}

	page2, _ := v.reg.Resolve("content/page2.html")
	doc := f.object(t, page2.Ref)
	if !strings.Contains(doc, "values: pending") || !strings.Contains(doc, "w.sessionStorage") {
		t.Fatal("linked page does not commit only its own writes")
	}
	entry := f.object(t, c.URL)
	key := func(s string) string {
		i := strings.Index(s, "var storeKey = ")
		j := strings.Index(s[i:], ";")
		return s[i : i+j]
	}
	if key(doc) != key(entry) || strings.Contains(key(doc), `""`) {
		t.Fatalf("linked page scope %s, entry scope %s", key(doc), key(entry))
	}

	// page2 only writes its location
	if _, err := tr.Commit(c.TrackingID, map[string]string{"cmi.core.lesson_location": "page2"}); err != nil {
		t.Fatal(err)
	}
	saved, err := f.store.GetTracking(context.Background(), c.TrackingID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Status != "completed" || saved.Values["cmi.core.lesson_location"] != "page2" {
		t.Fatalf("saved = %+v", saved)
	}
}

func TestDeletePackageClosesViews(t *testing.T) {
	f := newFixture(t, Options{})
	v := f.view(t)
	if _, err := v.Load(context.Background(), "page"); err != nil {
		t.Fatal(err)
	}
	if err := f.player.DeletePackage(context.Background(), f.pkg.ID); err != nil {
		t.Fatal(err)
	}
	if f.objects.Len() != 0 {
		t.Fatal("deleted package still has live objects")
	}
	if _, err := f.player.OpenView(context.Background(), f.pkg.ID, shim.Learner{}); !errors.Is(err, course.ErrNotFound) {
		t.Fatalf("open after delete err = %v", err)
	}
}

func TestImportRejectsBadArchives(t *testing.T) {
	f := newFixture(t, Options{})
	lib := f.player.Library()
	if _, err := lib.Import(context.Background(), strings.NewReader("junk"), "admin"); !errors.Is(err, scorm.ErrPackage) {
		t.Fatalf("err = %v", err)
	}
	list, _ := lib.List(context.Background(), course.ListOpts{})
	if len(list) != 1 {
		t.Fatalf("failed import stored a package: %v", list)
	}
}

func TestOpenReExtractsFromBlob(t *testing.T) {
	f := newFixture(t, Options{})
	lib := f.player.Library()
	lib.forget(f.pkg.ID)
	rec, pkg, err := lib.Open(context.Background(), f.pkg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Title != "Demo course" || len(pkg.Files) != rec.FileCount {
		t.Fatalf("rec = %+v files = %d", rec, len(pkg.Files))
	}
}

func TestLaunchURL(t *testing.T) {
	cases := []struct{ ref, suffix, params, want string }{
		{"/objects/a", "", "", "/objects/a"},
		{"/objects/a", "", "?x=1", "/objects/a?x=1"},
		{"/objects/a", "", "x=1", "/objects/a?x=1"},
		{"/objects/a", "?y=2", "&x=1", "/objects/a?y=2&x=1"},
		{"/objects/a", "#top", "?x=1", "/objects/a?x=1#top"},
		{"/objects/a", "", "#frag", "/objects/a#frag"},
	}
	for _, c := range cases {
		if got := launchURL(c.ref, c.suffix, c.params); got != c.want {
			t.Errorf("launchURL(%q,%q,%q) = %q, want %q", c.ref, c.suffix, c.params, got, c.want)
		}
	}
}
