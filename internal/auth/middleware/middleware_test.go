package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-player/internal/rbac"
)

func login(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	out := map[string]string{}
	if rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
	}
	return rec, out
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a := NewAuthService("test-secret")
	h := LoginHandler(a, Credentials{AdminUser: "admin", AdminPassHash: string(hash), OpenLearners: true})

	rec, out := login(t, h, `{"username":"admin","password":"s3cret"}`)
	if rec.Code != http.StatusOK || out["role"] != rbac.RoleAdmin {
		t.Fatalf("admin login: %d %v", rec.Code, out)
	}
	c, err := a.Parse(out["access_token"])
	if err != nil || c.Sub != "admin" || c.Role != rbac.RoleAdmin {
		t.Fatalf("claims = %+v, %v", c, err)
	}

	if rec, _ := login(t, h, `{"username":"admin","password":"admin"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("admin with wrong password: %d", rec.Code)
	}

	rec, out = login(t, h, `{"username":"ana","password":"ana","name":"Ana Lima"}`)
	if rec.Code != http.StatusOK || out["role"] != rbac.RoleLearner {
		t.Fatalf("learner login: %d %v", rec.Code, out)
	}
	if c, _ := a.Parse(out["access_token"]); c.Name != "Ana Lima" {
		t.Fatalf("name claim = %q", c.Name)
	}

	if rec, _ := login(t, h, `{"username":"ana","password":"x"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad learner password: %d", rec.Code)
	}
	if rec, _ := login(t, h, `{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: %d", rec.Code)
	}

	closed := LoginHandler(a, Credentials{AdminUser: "admin", AdminPassHash: string(hash)})
	if rec, _ := login(t, closed, `{"username":"ana","password":"ana"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("learner login when closed: %d", rec.Code)
	}
}

func TestJWTMiddleware(t *testing.T) {
	a := NewAuthService("test-secret")
	var sub, name, role string
	h := JWTMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub = SubjectFromContext(r.Context())
		name = NameFromContext(r.Context())
		role = rbac.RoleFromContext(r.Context())
	}))

	do := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	tok, _ := a.IssueJWT("u1", "", rbac.RoleLearner)
	if code := do("Bearer " + tok); code != http.StatusOK {
		t.Fatalf("valid token: %d", code)
	}
	if sub != "u1" || name != "u1" || role != rbac.RoleLearner {
		t.Fatalf("context = %q %q %q", sub, name, role)
	}

	if code := do(""); code != http.StatusUnauthorized {
		t.Fatalf("missing: %d", code)
	}
	other, _ := NewAuthService("other").IssueJWT("u1", "", rbac.RoleAdmin)
	if code := do("Bearer " + other); code != http.StatusUnauthorized {
		t.Fatalf("foreign signature: %d", code)
	}

	expired := NewAuthService("test-secret")
	expired.now = func() time.Time { return time.Now().Add(-24 * time.Hour) }
	old, _ := expired.IssueJWT("u1", "", rbac.RoleLearner)
	if code := do("Bearer " + old); code != http.StatusUnauthorized {
		t.Fatalf("expired: %d", code)
	}
}
