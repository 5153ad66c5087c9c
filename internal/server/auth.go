package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/banux/nxt-gallery/internal/gallery"
)

const (
	sessionCookieName = "nxt_gallery_session"
	sessionDuration   = 7 * 24 * time.Hour
)

type session struct {
	username string
	cap      gallery.Capability
	expiry   time.Time
}

// sessionStore holds active login sessions in memory. Sessions do not
// survive a restart.
type sessionStore struct {
	mu     sync.RWMutex
	tokens map[string]session
}

func newSessionStore() *sessionStore {
	return &sessionStore{tokens: make(map[string]session)}
}

// create stores a new session and returns its random token.
func (s *sessionStore) create(username string, c gallery.Capability) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	s.tokens[token] = session{username: username, cap: c, expiry: time.Now().Add(sessionDuration)}
	s.mu.Unlock()
	return token, nil
}

// lookup returns the session for token if it exists and has not expired.
func (s *sessionStore) lookup(token string) (session, bool) {
	s.mu.RLock()
	sess, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return session{}, false
	}
	if time.Now().After(sess.expiry) {
		s.delete(token)
		return session{}, false
	}
	return sess, true
}

func (s *sessionStore) delete(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// capability derives the caller's capability from the session cookie, or
// from HTTP Basic Auth for API clients. Anonymous callers get the zero
// Capability.
func (s *Server) capability(r *http.Request) gallery.Capability {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if sess, ok := s.sessions.lookup(c.Value); ok {
			return sess.cap
		}
	}
	if user, pass, ok := r.BasicAuth(); ok {
		if c, err := s.gallery.Login(r.Context(), user, pass); err == nil {
			return c
		}
	}
	return gallery.Capability{}
}

// requireAdmin rejects callers without the admin capability. Browser
// navigations are redirected to /login; API calls get a 401 JSON error.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.capability(r).Admin {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodGet && wantsHTML(r.Header.Get("Accept")) {
			http.Redirect(w, r, "/login?redirect="+r.URL.EscapedPath(), http.StatusSeeOther)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="nxt-gallery"`)
		writeMessage(w, http.StatusUnauthorized, false, "authentication required")
	})
}

// wantsHTML reports whether an Accept header value includes an HTML type.
func wantsHTML(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, _ := strings.Cut(part, ";")
		switch strings.TrimSpace(mediaType) {
		case "text/html", "text/*":
			return true
		}
	}
	return false
}
