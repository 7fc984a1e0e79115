package server

import (
	"net/http"
	"strings"

	"news/internal/oauth"
	"news/internal/permissions"
	"news/internal/session"
)

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	auth, err := s.oauth.AuthorizationURL(r.URL.Query().Get("returnTo"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.setCookie(w, PKCECookieName, auth.Verifier, pkceMaxAge)
	http.Redirect(w, r, auth.URL, http.StatusFound)
}

func (s *Server) failSignIn(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, "/?error="+reason, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("error") != "" {
		s.failSignIn(w, r, "auth_failed")
		return
	}
	code := q.Get("code")
	if code == "" {
		s.failSignIn(w, r, "missing_code")
		return
	}
	verifier, err := r.Cookie(PKCECookieName)
	if err != nil || verifier.Value == "" {
		s.failSignIn(w, r, "missing_pkce_verifier")
		return
	}
	s.clearCookie(w, PKCECookieName)
	returnTo := s.oauth.ParseState(q.Get("state"))

	tok, err := s.oauth.Exchange(r.Context(), code, verifier.Value)
	if err != nil {
		s.log.Warn().Err(err).Msg("token exchange failed")
		s.failSignIn(w, r, "token_exchange_failed")
		return
	}
	info, err := s.oauth.UserInfo(r.Context(), tok.AccessToken)
	if err != nil {
		s.log.Warn().Err(err).Msg("userinfo fetch failed")
		s.failSignIn(w, r, "userinfo_failed")
		return
	}
	if strings.TrimSpace(info.Name) == "" {
		s.failSignIn(w, r, "missing_name")
		return
	}

	id, _, err := s.sessions.Create(r.Context(), *info)
	if err != nil {
		s.log.Error().Err(err).Msg("create session")
		s.failSignIn(w, r, "session_failed")
		return
	}
	s.setCookie(w, s.CookieName, id, s.sessions.Duration())
	s.log.Info().Str("user_id", info.Sub).Str("session", session.Fingerprint(id)).Msg("signed in")
	http.Redirect(w, r, returnTo, http.StatusFound)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(s.CookieName); err == nil && cookie.Value != "" {
		if err := s.sessions.Delete(r.Context(), cookie.Value); err != nil {
			s.log.Warn().Err(err).Str("session", session.Fingerprint(cookie.Value)).Msg("delete session")
		}
	}
	s.clearCookie(w, s.CookieName)
	http.Redirect(w, r, oauth.SafeReturnTo(r.URL.Query().Get("returnTo")), http.StatusFound)
}

type sessionResponse struct {
	User        session.User            `json:"user"`
	Permissions permissions.Permissions `json:"permissions"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	cur := s.currentUser(r)
	if cur == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	perms, err := s.permissions.Permissions(r.Context(), cur.Session.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{User: cur.Session.User, Permissions: perms})
}
