package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/banux/nxt-gallery/internal/gallery"
)

func postLogin(env *testEnv, username, password, redirect string) *httptest.ResponseRecorder {
	form := url.Values{"username": {username}, "password": {password}, "redirect": {redirect}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	return rr
}

func sessionCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookieName && c.Value != "" {
			return c
		}
	}
	return nil
}

func TestLogin_Success(t *testing.T) {
	env := newTestServer(t, Options{})

	rr := postLogin(env, testAdminUser, testAdminPass, "/admin")
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/admin" {
		t.Errorf("redirect: got %q, want /admin", loc)
	}
	cookie := sessionCookie(rr)
	if cookie == nil {
		t.Fatal("session cookie not set")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}

	// The session grants admin access.
	req := httptest.NewRequest(http.MethodPost, "/admin/scan_folder/"+itoa(env.def.ID), nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("scan with session: expected 200, got %d", rr.Code)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestServer(t, Options{})

	rr := postLogin(env, testAdminUser, "nope", "/")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
	if sessionCookie(rr) != nil {
		t.Error("session cookie set on failed login")
	}
	if !strings.Contains(rr.Body.String(), "Incorrect username or password") {
		t.Error("login page should show an error message")
	}
}

func TestLogin_OpenRedirectRejected(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := postLogin(env, testAdminUser, testAdminPass, "//evil.example.com/")
	if loc := rr.Header().Get("Location"); loc != "/" {
		t.Errorf("redirect: got %q, want /", loc)
	}
}

func TestLoginPage(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := env.do(http.MethodGet, "/login?redirect=/admin", nil, "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `name="username"`) || !strings.Contains(body, `value="/admin"`) {
		t.Error("login form missing fields")
	}
}

func TestLogout_InvalidatesSession(t *testing.T) {
	env := newTestServer(t, Options{})
	cookie := sessionCookie(postLogin(env, testAdminUser, testAdminPass, "/"))
	if cookie == nil {
		t.Fatal("no session cookie")
	}

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusSeeOther {
		t.Errorf("logout: expected 303, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/scan_folder/"+itoa(env.def.ID), nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("after logout: expected 401, got %d", rr.Code)
	}
}

func TestBasicAuth_WrongPassword(t *testing.T) {
	env := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/admin/scan_folder/"+itoa(env.def.ID), nil)
	req.SetBasicAuth(testAdminUser, "wrong")
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header")
	}
}

func TestSessionStore_Expiry(t *testing.T) {
	s := newSessionStore()
	token, err := s.create("admin", gallery.Capability{Admin: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess, ok := s.lookup(token); !ok || !sess.cap.Admin {
		t.Fatalf("fresh session not found: %+v", sess)
	}

	s.mu.Lock()
	sess := s.tokens[token]
	sess.expiry = sess.expiry.Add(-2 * sessionDuration)
	s.tokens[token] = sess
	s.mu.Unlock()

	if _, ok := s.lookup(token); ok {
		t.Error("expired session still valid")
	}
	if _, ok := s.lookup("unknown"); ok {
		t.Error("unknown token accepted")
	}
}

func TestWantsHTML(t *testing.T) {
	tests := map[string]bool{
		"text/html,application/xhtml+xml;q=0.9": true,
		"application/json":                      false,
		"text/html;q=0.8":                       true,
		"":                                      false,
		"*/*":                                   false,
	}
	for accept, want := range tests {
		if got := wantsHTML(accept); got != want {
			t.Errorf("wantsHTML(%q) = %v, want %v", accept, got, want)
		}
	}
}

func TestSafeRedirect(t *testing.T) {
	tests := map[string]string{
		"":                 "/",
		"/admin":           "/admin",
		"//evil.com":       "/",
		`/\evil.com`:       "/",
		"https://evil.com": "/",
	}
	for in, want := range tests {
		if got := safeRedirect(in); got != want {
			t.Errorf("safeRedirect(%q) = %q, want %q", in, got, want)
		}
	}
}
