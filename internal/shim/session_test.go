package shim

import (
	"errors"
	"strings"
	"testing"
)

func TestRejectedStatusKeepsPriorValue(t *testing.T) {
	s := NewSession(Seed{}, nil)
	if got := s.Initialize(""); got != True {
		t.Fatalf("Initialize = %s", got)
	}
	if got := s.SetValue("cmi.core.lesson_status", "bogus"); got != False {
		t.Fatalf("SetValue(bogus) = %s, want false", got)
	}
	if got := s.GetLastError(); got != CodeIncorrectType {
		t.Fatalf("last error = %s", got)
	}
	if got := s.GetValue("cmi.core.lesson_status"); got != "not attempted" {
		t.Fatalf("status after rejected write = %q", got)
	}
	if got := s.GetLastError(); got != CodeNoError {
		t.Fatalf("GetValue did not clear last error: %s", got)
	}
}

func TestSeededDefaults(t *testing.T) {
	s := NewSession(Seed{Learner: Learner{ID: "u1", Name: "Ada"}, LaunchData: "mode=a", MasteryScore: "80"}, nil)
	want := map[string]string{
		"cmi.core.lesson_status":         "not attempted",
		"cmi.core.score.raw":             "0",
		"cmi.core.lesson_location":       "",
		"cmi.suspend_data":               "",
		"cmi.core.entry":                 "ab-initio",
		"cmi.core.student_id":            "u1",
		"cmi.core.student_name":          "Ada",
		"cmi.launch_data":                "mode=a",
		"cmi.student_data.mastery_score": "80",
	}
	for k, v := range want {
		if got := s.GetValue(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestSetValueValidation(t *testing.T) {
	cases := []struct {
		key, value string
		want       string
		code       string
	}{
		{"cmi.core.lesson_status", "passed", True, CodeNoError},
		{"cmi.core.lesson_status", "not attempted", True, CodeNoError},
		{"cmi.core.lesson_status", "Passed", False, CodeIncorrectType},
		{"cmi.core.exit", "suspend", True, CodeNoError},
		{"cmi.core.exit", "", True, CodeNoError},
		{"cmi.core.exit", "quit", False, CodeIncorrectType},
		{"cmi.core.score.raw", "87.5", True, CodeNoError},
		{"cmi.core.score.raw", "lots", False, CodeIncorrectType},
		{"cmi.core.score.raw", "101", False, CodeIncorrectType},
		{"cmi.core.student_id", "x", False, CodeReadOnly},
		{"cmi.core._children", "x", False, CodeKeyword},
		{"", "x", False, CodeInvalidArgument},
		{"cmi.core.lesson_location", "page-3", True, CodeNoError},
		{"cmi.suspend_data", strings.Repeat("x", 4097), False, CodeIncorrectType},
	}
	for _, c := range cases {
		s := NewSession(Seed{}, nil)
		before := s.Snapshot()[c.key]
		got := s.SetValue(c.key, c.value)
		if got != c.want || s.GetLastError() != c.code {
			t.Errorf("SetValue(%q, %q) = %s/%s, want %s/%s", c.key, c.value, got, s.GetLastError(), c.want, c.code)
			continue
		}
		if got == False && s.Snapshot()[c.key] != before {
			t.Errorf("rejected write to %q changed the value", c.key)
		}
	}
}

func TestKeys2004MapOntoCore(t *testing.T) {
	s := NewSession(Seed{Learner: Learner{ID: "u9"}}, nil)
	if got := s.SetValue("cmi.completion_status", "completed"); got != True {
		t.Fatalf("2004 set = %s", got)
	}
	if got := s.GetValue("cmi.core.lesson_status"); got != "completed" {
		t.Fatalf("1.2 view = %q", got)
	}
	if got := s.SetValue("cmi.location", "p2"); got != True {
		t.Fatal(got)
	}
	if got := s.GetValue("cmi.core.lesson_location"); got != "p2" {
		t.Fatalf("location = %q", got)
	}
	if got := s.GetValue("cmi.learner_id"); got != "u9" {
		t.Fatalf("learner id = %q", got)
	}
	if got := s.SetValue("cmi.completion_status", "unknown"); got != False {
		t.Fatal("2004 value outside the 1.2 enumeration was accepted")
	}
}

func TestWriteOnlyKeys(t *testing.T) {
	s := NewSession(Seed{}, nil)
	s.SetValue("cmi.core.exit", "suspend")
	if got := s.GetValue("cmi.core.exit"); got != "" || s.GetLastError() != CodeWriteOnly {
		t.Fatalf("exit read = %q/%s", got, s.GetLastError())
	}
}

func TestLifecycleAndCommit(t *testing.T) {
	var commits []map[string]string
	s := NewSession(Seed{}, func(v map[string]string) error {
		commits = append(commits, v)
		return nil
	})

	if got := s.Finish(""); got != False || s.GetLastError() != CodeNotInitialized {
		t.Fatalf("Finish before Initialize = %s/%s", got, s.GetLastError())
	}
	if got := s.Initialize("x"); got != False || s.GetLastError() != CodeInvalidArgument {
		t.Fatalf("Initialize(x) = %s/%s", got, s.GetLastError())
	}
	s.Initialize("")
	s.SetValue("cmi.core.lesson_status", "incomplete")
	if got := s.Commit(""); got != True {
		t.Fatalf("Commit = %s", got)
	}
	s.SetValue("cmi.core.lesson_status", "completed")
	if got := s.Finish(""); got != True {
		t.Fatalf("Finish = %s", got)
	}
	if len(commits) != 2 {
		t.Fatalf("commits = %d", len(commits))
	}
	if commits[0]["cmi.core.lesson_status"] != "incomplete" || commits[1]["cmi.core.lesson_status"] != "completed" {
		t.Fatalf("commit snapshots = %v", commits)
	}
	if init, fin := s.State(); init || !fin {
		t.Fatalf("state = %v %v", init, fin)
	}

	failing := NewSession(Seed{}, func(map[string]string) error { return errors.New("disk full") })
	if got := failing.Commit(""); got != False || failing.GetLastError() != CodeGeneral {
		t.Fatalf("failing commit = %s/%s", got, failing.GetLastError())
	}
}

func TestReset(t *testing.T) {
	s := NewSession(Seed{}, nil)
	s.Initialize("")
	s.SetValue("cmi.core.lesson_status", "passed")
	s.SetValue("cmi.core.lesson_status", "bogus")
	s.Reset()
	if got := s.GetValue("cmi.core.lesson_status"); got != "not attempted" {
		t.Fatalf("status after reset = %q", got)
	}
	if init, _ := s.State(); init {
		t.Fatal("still initialized after reset")
	}
}

func TestResumeSeed(t *testing.T) {
	s := NewSession(Seed{
		Learner: Learner{ID: "u1"},
		Resume: map[string]string{
			"cmi.core.lesson_location": "page-4",
			"cmi.suspend_data":         "abc",
			"cmi.core.student_id":      "forged",
		},
	}, nil)
	if got := s.GetValue("cmi.core.entry"); got != "resume" {
		t.Fatalf("entry = %q", got)
	}
	if got := s.GetValue("cmi.core.lesson_location"); got != "page-4" {
		t.Fatalf("location = %q", got)
	}
	if got := s.GetValue("cmi.core.student_id"); got != "u1" {
		t.Fatalf("resume overwrote a read-only key: %q", got)
	}
}

func TestApply(t *testing.T) {
	s := NewSession(Seed{Learner: Learner{ID: "u1"}}, nil)
	posted := s.Snapshot()
	posted["cmi.core.lesson_status"] = "passed"
	posted["cmi.core.exit"] = "nope"
	posted["cmi.core.score.raw"] = "90"

	rejected := s.Apply(posted)
	if len(rejected) != 1 || rejected["cmi.core.exit"] != CodeIncorrectType {
		t.Fatalf("rejected = %v", rejected)
	}
	snap := s.Snapshot()
	if snap["cmi.core.lesson_status"] != "passed" || snap["cmi.core.score.raw"] != "90" {
		t.Fatalf("snapshot = %v", snap)
	}
}

func TestErrorStrings(t *testing.T) {
	s := NewSession(Seed{}, nil)
	for code, want := range map[string]string{
		"0":   "No error",
		"201": "Invalid argument error",
		"405": "Incorrect data type",
		"999": "Unknown error",
	} {
		if got := s.GetErrorString(code); got != want {
			t.Errorf("GetErrorString(%s) = %q", code, got)
		}
	}
	if got := s.GetDiagnostic("301"); got != "Diagnostic information for error 301" {
		t.Errorf("diagnostic = %q", got)
	}
}

func TestScript(t *testing.T) {
	out, err := Script(ScriptData{
		Values:    map[string]string{"cmi.core.student_name": "</script><b>"},
		CommitURL: "/tracking/t1/commit",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "<script") || !strings.HasSuffix(out, "</script>") {
		t.Fatal("not a script element")
	}
	if strings.Count(out, "</script>") != 1 {
		t.Fatal("seed value broke out of the script element")
	}
	for _, want := range []string{"w.API = api", "API_1484_11", `"/tracking/t1/commit"`, `"cmi.completion_status":"cmi.core.lesson_status"`, "LMSGetDiagnostic"} {
		if !strings.Contains(out, want) {
			t.Errorf("script missing %s", want)
		}
	}
	if !strings.Contains(out, "var storeKey = \"\";") {
		t.Error("unscoped script should not use sessionStorage")
	}
}

func TestScriptCommitsOnlyWrittenKeys(t *testing.T) {
	out, err := Script(ScriptData{CommitURL: "/tracking/t1/commit", Scope: "load-1"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`var storeKey = "player-shim:load-1";`,
		"values: pending",
		"dirty[k] = true;",
		"w.sessionStorage",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("script missing %s", want)
		}
	}
	if strings.Contains(out, "values: data") {
		t.Error("commit posts the whole value map")
	}
}
