package shim

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// ScriptData parameterizes the in-page API.
type ScriptData struct {
	// Values seeds the page's copy of the session.
	Values map[string]string
	// CommitURL receives the values written since the last commit, as
	// JSON, on LMSCommit and LMSFinish. Empty keeps commits local to the page.
	CommitURL string
	// Scope names one content load. Pages of the same load hand their
	// values on through sessionStorage when the frame navigates between them.
	Scope string
}

type scriptTables struct {
	Values       string
	CommitURL    string
	StoreKey     string
	Keys2004     string
	ErrorStrings string
	ReadOnly     string
	WriteOnly    string
	Statuses     string
	Exits        string
}

var scriptTpl = template.Must(template.New("shim").Parse(scriptSrc))

// Script renders the <script> element that installs window.API and
// window.API_1484_11. The validation tables are the ones Session uses.
func Script(d ScriptData) (string, error) {
	values := d.Values
	if values == nil {
		values = Defaults(Seed{})
	}
	t := scriptTables{
		Values:       mustJSON(values),
		CommitURL:    mustJSON(d.CommitURL),
		StoreKey:     mustJSON(storeKey(d.Scope)),
		Keys2004:     mustJSON(keys2004),
		ErrorStrings: mustJSON(errorStrings),
		ReadOnly:     mustJSON(setKeys(readOnly)),
		WriteOnly:    mustJSON(setKeys(writeOnly)),
		Statuses:     mustJSON(boolKeys(lessonStatuses)),
		Exits:        mustJSON(boolKeys(exitValues)),
	}
	var sb strings.Builder
	if err := scriptTpl.Execute(&sb, t); err != nil {
		return "", fmt.Errorf("shim: render script: %w", err)
	}
	return sb.String(), nil
}

func storeKey(scope string) string {
	if scope == "" {
		return ""
	}
	return "player-shim:" + scope
}

// json.Marshal escapes <, > and &, so the output is safe inside <script>.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func boolKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

const scriptSrc = `<script data-player-shim>
(function (w) {
  function find(win) {
    try {
      while (win && !win.API && win.parent && win.parent !== win) { win = win.parent; }
      return win && win.API ? win : null;
    } catch (e) { return null; }
  }
  var host = w.parent && w.parent !== w ? find(w.parent) : null;
  if (host) {
    w.API = host.API;
    w.API_1484_11 = host.API_1484_11;
    return;
  }

  var data = {{.Values}};
  var commitURL = {{.CommitURL}};
  var map2004 = {{.Keys2004}};
  var errors = {{.ErrorStrings}};
  var readOnly = {{.ReadOnly}};
  var writeOnly = {{.WriteOnly}};
  var statuses = {{.Statuses}};
  var exits = {{.Exits}};
  var storeKey = {{.StoreKey}};
  var lastError = "0";
  var initialized = false;
  var dirty = {};

  var store = null;
  try { store = storeKey ? w.sessionStorage : null; } catch (e) { store = null; }
  if (store) {
    try {
      var saved = JSON.parse(store.getItem(storeKey) || "null");
      if (saved) {
        for (var sk in saved.data) { data[sk] = saved.data[sk]; }
        for (var dk in saved.dirty) { dirty[dk] = true; }
      }
    } catch (e) {}
  }
  function remember() {
    if (!store) { return; }
    try { store.setItem(storeKey, JSON.stringify({ data: data, dirty: dirty })); } catch (e) {}
  }

  function canon(k) { return map2004[k] || k; }
  function has(list, v) { return list.indexOf(v) !== -1; }
  function fail(code) { lastError = code; return "false"; }
  function ok() { lastError = "0"; return "true"; }

  function validate(k, v) {
    if (!k) { return "201"; }
    if (/\._(children|count)$/.test(k)) { return "402"; }
    if (has(readOnly, k)) { return "403"; }
    if (k === "cmi.core.lesson_status" && !has(statuses, v)) { return "405"; }
    if (k === "cmi.core.exit" && !has(exits, v)) { return "405"; }
    if (/^cmi\.core\.score\.(raw|min|max)$/.test(k) && v !== "") {
      var f = Number(v);
      if (isNaN(f) || f < 0 || f > 100) { return "405"; }
    }
    if (k === "cmi.suspend_data" && v.length > 4096) { return "405"; }
    return "0";
  }

  function commit() {
    if (!commitURL) { return true; }
    var pending = {}, n = 0;
    for (var k in dirty) { pending[k] = data[k]; n++; }
    if (!n) { return true; }
    try {
      var body = JSON.stringify({ values: pending });
      if (w.fetch) {
        w.fetch(commitURL, { method: "POST", headers: { "Content-Type": "application/json" }, body: body, keepalive: true });
      } else {
        var x = new XMLHttpRequest();
        x.open("POST", commitURL, true);
        x.setRequestHeader("Content-Type", "application/json");
        x.send(body);
      }
      dirty = {};
      remember();
      return true;
    } catch (e) { return false; }
  }

  var api = {
    LMSInitialize: function (p) {
      if (p !== "" && p != null) { return fail("201"); }
      initialized = true;
      return ok();
    },
    LMSFinish: function (p) {
      if (p !== "" && p != null) { return fail("201"); }
      if (!initialized) { return fail("301"); }
      if (!commit()) { return fail("101"); }
      initialized = false;
      return ok();
    },
    LMSGetValue: function (k) {
      if (!k || typeof k !== "string") { lastError = "201"; return ""; }
      k = canon(k);
      if (has(writeOnly, k)) { lastError = "404"; return ""; }
      lastError = "0";
      return data[k] == null ? "" : String(data[k]);
    },
    LMSSetValue: function (k, v) {
      if (typeof k !== "string" || v == null) { return fail("201"); }
      k = canon(k);
      v = String(v);
      var code = validate(k, v);
      if (code !== "0") { return fail(code); }
      data[k] = v;
      dirty[k] = true;
      remember();
      return ok();
    },
    LMSCommit: function (p) {
      if (p !== "" && p != null) { return fail("201"); }
      return commit() ? ok() : fail("101");
    },
    LMSGetLastError: function () { return lastError; },
    LMSGetErrorString: function (c) { return errors[c] || "Unknown error"; },
    LMSGetDiagnostic: function (c) { return "Diagnostic information for error " + (c || lastError); }
  };

  w.API = api;
  w.API_1484_11 = {
    Initialize: api.LMSInitialize,
    Terminate: api.LMSFinish,
    GetValue: api.LMSGetValue,
    SetValue: api.LMSSetValue,
    Commit: api.LMSCommit,
    GetLastError: api.LMSGetLastError,
    GetErrorString: api.LMSGetErrorString,
    GetDiagnostic: api.LMSGetDiagnostic
  };
})(window);
</script>`
