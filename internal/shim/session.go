// Package shim implements the tracking-runtime API that package content
// expects to find on its window, as an explicit per-load session.
package shim

import (
	"strconv"
	"strings"
	"sync"
)

// Status strings returned by the API calls.
const (
	True  = "true"
	False = "false"
)

// Error codes of the 1.2 runtime.
const (
	CodeNoError         = "0"
	CodeGeneral         = "101"
	CodeInvalidArgument = "201"
	CodeNoChildren      = "202"
	CodeNotArray        = "203"
	CodeNotInitialized  = "301"
	CodeNotImplemented  = "401"
	CodeKeyword         = "402"
	CodeReadOnly        = "403"
	CodeWriteOnly       = "404"
	CodeIncorrectType   = "405"
)

var errorStrings = map[string]string{
	CodeNoError:         "No error",
	CodeGeneral:         "General exception",
	CodeInvalidArgument: "Invalid argument error",
	CodeNoChildren:      "Element cannot have children",
	CodeNotArray:        "Element not an array - cannot have count",
	CodeNotInitialized:  "Not initialized",
	CodeNotImplemented:  "Not implemented error",
	CodeKeyword:         "Invalid set value, element is a keyword",
	CodeReadOnly:        "Element is read only",
	CodeWriteOnly:       "Element is write only",
	CodeIncorrectType:   "Incorrect data type",
}

// ErrorString returns the message for code, "Unknown error" for anything else.
func ErrorString(code string) string {
	if s, ok := errorStrings[code]; ok {
		return s
	}
	return "Unknown error"
}

// Learner identifies who the session is tracking.
type Learner struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Seed is what a session starts from and returns to on Reset.
type Seed struct {
	Learner      Learner
	LaunchData   string
	MasteryScore string
	// Resume holds previously committed values. A non-empty Resume marks
	// the attempt as resumed.
	Resume map[string]string
}

// CommitFunc receives a snapshot of the session values on every commit.
type CommitFunc func(values map[string]string) error

// Session is one content load's tracking state. Methods mirror the
// runtime API and are safe for concurrent use.
type Session struct {
	mu          sync.Mutex
	seed        Seed
	values      map[string]string
	lastError   string
	initialized bool
	finished    bool
	onCommit    CommitFunc
}

func NewSession(seed Seed, onCommit CommitFunc) *Session {
	s := &Session{seed: seed, onCommit: onCommit}
	s.reset()
	return s
}

// Reset discards everything written since the session was created.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Session) reset() {
	s.values = Defaults(s.seed)
	s.lastError = CodeNoError
	s.initialized = false
	s.finished = false
}

// Defaults returns the seeded key/value map for seed.
func Defaults(seed Seed) map[string]string {
	v := map[string]string{
		"cmi.core.lesson_status":             "not attempted",
		"cmi.core.student_id":                seed.Learner.ID,
		"cmi.core.student_name":              seed.Learner.Name,
		"cmi.core.score.raw":                 "0",
		"cmi.core.score.min":                 "0",
		"cmi.core.score.max":                 "100",
		"cmi.core.total_time":                "00:00:00",
		"cmi.core.session_time":              "",
		"cmi.core.lesson_location":           "",
		"cmi.core.lesson_mode":               "normal",
		"cmi.core.credit":                    "credit",
		"cmi.core.exit":                      "",
		"cmi.core.entry":                     "ab-initio",
		"cmi.suspend_data":                   "",
		"cmi.launch_data":                    seed.LaunchData,
		"cmi.comments":                       "",
		"cmi.student_data.mastery_score":     seed.MasteryScore,
		"cmi.student_data.max_time_allowed":  "",
		"cmi.student_data.time_limit_action": "continue,no message",
	}
	if len(seed.Resume) > 0 {
		for k, val := range seed.Resume {
			if _, ro := readOnly[k]; ro {
				continue
			}
			v[k] = val
		}
		v["cmi.core.entry"] = "resume"
	}
	return v
}

func (s *Session) fail(code string) string {
	s.lastError = code
	return False
}

func (s *Session) ok() string {
	s.lastError = CodeNoError
	return True
}

// Initialize starts the session. The argument must be empty.
func (s *Session) Initialize(param string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if param != "" {
		return s.fail(CodeInvalidArgument)
	}
	s.initialized = true
	s.finished = false
	return s.ok()
}

// Finish commits and ends the session.
func (s *Session) Finish(param string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if param != "" {
		return s.fail(CodeInvalidArgument)
	}
	if !s.initialized {
		return s.fail(CodeNotInitialized)
	}
	if code := s.commit(); code != CodeNoError {
		return s.fail(code)
	}
	s.initialized = false
	s.finished = true
	return s.ok()
}

// GetValue returns the value stored under key; 2004 keys are translated.
// Unknown keys read as "".
func (s *Session) GetValue(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key = strings.TrimSpace(key)
	if key == "" {
		s.lastError = CodeInvalidArgument
		return ""
	}
	key = Canonical(key)
	if _, wo := writeOnly[key]; wo {
		s.lastError = CodeWriteOnly
		return ""
	}
	s.lastError = CodeNoError
	return s.values[key]
}

// SetValue validates and stores value. A rejected write returns "false",
// records the error code and leaves the stored value unchanged.
func (s *Session) SetValue(key, value string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key = Canonical(strings.TrimSpace(key))
	if code := validate(key, value); code != CodeNoError {
		return s.fail(code)
	}
	s.values[key] = value
	return s.ok()
}

// Commit hands the current values to the commit hook.
func (s *Session) Commit(param string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if param != "" {
		return s.fail(CodeInvalidArgument)
	}
	if code := s.commit(); code != CodeNoError {
		return s.fail(code)
	}
	return s.ok()
}

func (s *Session) commit() string {
	if s.onCommit == nil {
		return CodeNoError
	}
	if err := s.onCommit(copyValues(s.values)); err != nil {
		return CodeGeneral
	}
	return CodeNoError
}

func (s *Session) GetLastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *Session) GetErrorString(code string) string { return ErrorString(code) }

func (s *Session) GetDiagnostic(code string) string {
	if code == "" {
		code = s.GetLastError()
	}
	return "Diagnostic information for error " + code
}

// Apply writes a batch of values posted back by the in-page API. Unchanged
// values are skipped; every other key goes through SetValue validation.
// Keys that were rejected are returned with their error code.
func (s *Session) Apply(values map[string]string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rejected := map[string]string{}
	for k, v := range values {
		k = Canonical(strings.TrimSpace(k))
		if cur, ok := s.values[k]; ok && cur == v {
			continue
		}
		if code := validate(k, v); code != CodeNoError {
			rejected[k] = code
			continue
		}
		s.values[k] = v
	}
	return rejected
}

// Snapshot copies the current values.
func (s *Session) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyValues(s.values)
}

// State reports the lifecycle flags.
func (s *Session) State() (initialized, finished bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized, s.finished
}

func copyValues(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var (
	lessonStatuses = map[string]bool{
		"passed": true, "completed": true, "failed": true,
		"incomplete": true, "browsed": true, "not attempted": true,
	}
	exitValues = map[string]bool{"time-out": true, "suspend": true, "logout": true, "": true}

	readOnly = map[string]struct{}{
		"cmi.core.student_id":                {},
		"cmi.core.student_name":              {},
		"cmi.core.credit":                    {},
		"cmi.core.entry":                     {},
		"cmi.core.total_time":                {},
		"cmi.core.lesson_mode":               {},
		"cmi.launch_data":                    {},
		"cmi.student_data.mastery_score":     {},
		"cmi.student_data.max_time_allowed":  {},
		"cmi.student_data.time_limit_action": {},
	}
	writeOnly = map[string]struct{}{
		"cmi.core.exit":         {},
		"cmi.core.session_time": {},
	}
)

func validate(key, value string) string {
	if key == "" {
		return CodeInvalidArgument
	}
	if strings.HasSuffix(key, "._children") || strings.HasSuffix(key, "._count") {
		return CodeKeyword
	}
	if _, ro := readOnly[key]; ro {
		return CodeReadOnly
	}
	switch key {
	case "cmi.core.lesson_status":
		if !lessonStatuses[value] {
			return CodeIncorrectType
		}
	case "cmi.core.exit":
		if !exitValues[value] {
			return CodeIncorrectType
		}
	case "cmi.core.score.raw", "cmi.core.score.min", "cmi.core.score.max":
		if value == "" {
			return CodeNoError
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 || f > 100 {
			return CodeIncorrectType
		}
	case "cmi.suspend_data":
		if len(value) > 4096 {
			return CodeIncorrectType
		}
	}
	return CodeNoError
}

// keys of the 2004 generation that have a 1.2 equivalent
var keys2004 = map[string]string{
	"cmi.completion_status": "cmi.core.lesson_status",
	"cmi.learner_id":        "cmi.core.student_id",
	"cmi.learner_name":      "cmi.core.student_name",
	"cmi.location":          "cmi.core.lesson_location",
	"cmi.score.raw":         "cmi.core.score.raw",
	"cmi.score.min":         "cmi.core.score.min",
	"cmi.score.max":         "cmi.core.score.max",
	"cmi.exit":              "cmi.core.exit",
	"cmi.entry":             "cmi.core.entry",
	"cmi.session_time":      "cmi.core.session_time",
	"cmi.total_time":        "cmi.core.total_time",
	"cmi.credit":            "cmi.core.credit",
	"cmi.mode":              "cmi.core.lesson_mode",
}

// Canonical maps a 2004 key onto its 1.2 name; other keys pass through.
func Canonical(key string) string {
	if k, ok := keys2004[key]; ok {
		return k
	}
	return key
}

// Keys2004 returns a copy of the 2004 → 1.2 key table.
func Keys2004() map[string]string { return copyValues(keys2004) }
