package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news/internal/db"
	"news/internal/forum"
	"news/internal/kv"
	"news/internal/models"
	"news/internal/oauth"
	"news/internal/permissions"
	"news/internal/session"
	"news/internal/tags"
)

type testServer struct {
	*Server
	db       *db.DB
	sessions *session.Manager
}

var (
	adaInfo   = session.UserInfo{Sub: "u-ada", Email: "ada@example.com", Name: "Ada"}
	adminInfo = session.UserInfo{Sub: "u-admin", Email: "root@example.com", Name: "Root"}
)

func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good" {
			http.Error(w, "bad code", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "at-" + r.PostForm.Get("code_verifier")})
	})
	mux.HandleFunc("/auth/oauth2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer at-") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"sub": "u-ada", "email": "ada@example.com", "name": "Ada"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()
	taxonomy := tags.MustTaxonomy(tags.DefaultCoreTags)
	require.NoError(t, models.SeedCoreTags(ctx, database, taxonomy, time.Now()))
	require.NoError(t, models.SetRole(ctx, database, adminInfo.Sub, permissions.RoleAdmin))

	provider := fakeProvider(t)
	client, err := oauth.New(oauth.Config{
		ProviderURL:  provider.URL,
		ClientID:     "news",
		PublicOrigin: "http://news.test",
		StateSecret:  []byte("test-state-secret-0123456789"),
	})
	require.NoError(t, err)

	resolver := permissions.NewResolver(models.Roles{DB: database}, taxonomy)
	sessions := session.NewManager(kv.NewSQL(database), session.DefaultDuration)
	srv := New(Options{
		DB:                 database,
		Forum:              forum.New(database, taxonomy, resolver),
		Sessions:           sessions,
		Permissions:        resolver,
		OAuth:              client,
		Logger:             zerolog.Nop(),
		RateLimitPerMinute: rateLimit,
	})
	return &testServer{Server: srv, db: database, sessions: sessions}
}

func (ts *testServer) signIn(t *testing.T, info session.UserInfo) *http.Cookie {
	t.Helper()
	id, _, err := ts.sessions.Create(context.Background(), info)
	require.NoError(t, err)
	return &http.Cookie{Name: ts.CookieName, Value: id}
}

func (ts *testServer) do(t *testing.T, method, target string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	ts.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func cookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSessionEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)

	w := ts.do(t, http.MethodGet, "/api/auth/session", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/auth/session", nil, &http.Cookie{Name: ts.CookieName, Value: "stale"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	cleared := cookieNamed(w, ts.CookieName)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)

	w = ts.do(t, http.MethodGet, "/api/auth/session", nil, ts.signIn(t, adaInfo))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[sessionResponse](t, w)
	assert.Equal(t, "Ada", body.User.Name)
	assert.False(t, body.Permissions.CanSubmitRka)
	assert.Equal(t, []string{"news", "show", "ask"}, body.Permissions.AllowedCategories)

	w = ts.do(t, http.MethodGet, "/api/auth/session", nil, ts.signIn(t, adminInfo))
	body = decode[sessionResponse](t, w)
	assert.True(t, body.Permissions.IsAdmin)
	assert.Equal(t, []string{"rka", "news", "show", "ask"}, body.Permissions.AllowedCategories)
}

func TestSignInFlow(t *testing.T) {
	ts := newTestServer(t, 0)

	w := ts.do(t, http.MethodGet, "/api/auth/sign-in?returnTo=/item/7", nil)
	require.Equal(t, http.StatusFound, w.Code)
	verifier := cookieNamed(w, PKCECookieName)
	require.NotNil(t, verifier)
	assert.Equal(t, 600, verifier.MaxAge)
	assert.True(t, verifier.HttpOnly)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/auth/oauth2/authorize", loc.Path)
	state := loc.Query().Get("state")

	w = ts.do(t, http.MethodGet, "/api/auth/callback?code=good&state="+url.QueryEscape(state), nil, verifier)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/item/7", w.Header().Get("Location"))
	sess := cookieNamed(w, ts.CookieName)
	require.NotNil(t, sess)
	assert.Equal(t, int(session.DefaultDuration/time.Second), sess.MaxAge)

	w = ts.do(t, http.MethodGet, "/api/auth/session", nil, sess)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-ada", decode[sessionResponse](t, w).User.ID)

	w = ts.do(t, http.MethodPost, "/api/auth/sign-out?returnTo=//evil.example", nil, sess)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	w = ts.do(t, http.MethodGet, "/api/auth/session", nil, sess)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCallbackFailures(t *testing.T) {
	ts := newTestServer(t, 0)
	verifier := &http.Cookie{Name: PKCECookieName, Value: "v"}

	cases := []struct {
		target  string
		cookies []*http.Cookie
		want    string
	}{
		{"/api/auth/callback?error=access_denied", nil, "/?error=auth_failed"},
		{"/api/auth/callback", []*http.Cookie{verifier}, "/?error=missing_code"},
		{"/api/auth/callback?code=good", nil, "/?error=missing_pkce_verifier"},
		{"/api/auth/callback?code=bad", []*http.Cookie{verifier}, "/?error=token_exchange_failed"},
	}
	for _, c := range cases {
		w := ts.do(t, http.MethodGet, c.target, nil, c.cookies...)
		assert.Equal(t, http.StatusFound, w.Code, c.target)
		assert.Equal(t, c.want, w.Header().Get("Location"), c.target)
	}

	// A forged state still signs in but lands on the front page.
	w := ts.do(t, http.MethodGet, "/api/auth/callback?code=good&state=forged", nil, verifier)
	assert.Equal(t, "/", w.Header().Get("Location"))
	assert.NotNil(t, cookieNamed(w, ts.CookieName))
}

func TestRequireAuth(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(t, http.MethodPost, "/api/posts", map[string]any{"title": "x", "tags": []string{"news"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"sign in required"}`, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/posts?mine=1", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPostsAndComments(t *testing.T) {
	ts := newTestServer(t, 0)
	ada := ts.signIn(t, adaInfo)

	w := ts.do(t, http.MethodPost, "/api/posts", map[string]any{
		"title": "Hello",
		"body":  "**hi** [x](javascript:alert(1))",
		"tags":  []string{"news"},
	}, ada)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[map[string]any](t, w)
	id := created["id"].(string)
	assert.Contains(t, created["bodyHtml"], "<strong>hi</strong>")
	assert.Contains(t, created["bodyHtml"], "<span>x</span>")
	assert.NotContains(t, created, "authorId")

	w = ts.do(t, http.MethodGet, "/api/posts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[1]`, mustJSON(t, decode[map[string]any](t, w)["pages"]))

	w = ts.do(t, http.MethodGet, "/api/posts?feed=news&mine=1", nil, ada)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["totalCount"])

	w = ts.do(t, http.MethodGet, "/api/posts?feed=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/posts/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/api/posts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"post not found"}`, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/posts/"+id+"/comments", map[string]any{"body": "first"}, ada)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	root := decode[map[string]any](t, w)["id"].(string)
	w = ts.do(t, http.MethodPost, "/api/posts/"+id+"/comments", map[string]any{"body": "_re_", "parentId": root}, ada)
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodGet, "/api/posts/"+id+"/comments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tree struct {
		Items []commentView `json:"items"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tree))
	assert.Equal(t, 2, tree.Count)
	require.Len(t, tree.Items, 1)
	require.Len(t, tree.Items[0].Replies, 1)
	assert.Contains(t, tree.Items[0].Replies[0].BodyHTML, "<em>re</em>")

	w = ts.do(t, http.MethodGet, "/api/posts/"+id, nil)
	assert.EqualValues(t, 2, decode[map[string]any](t, w)["commentCount"])
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func TestPrivilegedCategory(t *testing.T) {
	ts := newTestServer(t, 0)
	post := map[string]any{"title": "Team news", "tags": []string{"rka"}}

	w := ts.do(t, http.MethodPost, "/api/posts", post, ts.signIn(t, adaInfo))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/api/posts", post, ts.signIn(t, adminInfo))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestInvalidJSON(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(t, http.MethodPost, "/api/posts", "{not json", ts.signIn(t, adaInfo))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid JSON body"}`, w.Body.String())
}

func TestTagAdmin(t *testing.T) {
	ts := newTestServer(t, 0)
	admin := ts.signIn(t, adminInfo)

	w := ts.do(t, http.MethodPost, "/api/tags", map[string]any{"name": "Go"}, ts.signIn(t, adaInfo))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do(t, http.MethodPost, "/api/tags", map[string]any{"name": "Go"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/tags", map[string]any{"name": "Go"}, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "go", decode[tags.Tag](t, w).Slug)

	w = ts.do(t, http.MethodPost, "/api/tags", map[string]any{"name": "GO"}, admin)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPatch, "/api/tags/go", map[string]any{"name": "Golang", "slug": "golang"}, admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "golang", decode[tags.Tag](t, w).Slug)

	w = ts.do(t, http.MethodGet, "/api/tags?kind=optional", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]tags.Tag](t, w)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].UsageCount)
	assert.Equal(t, 0, *list[0].UsageCount)

	w = ts.do(t, http.MethodPatch, "/api/tags/news", map[string]any{"name": "Headlines"}, admin)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do(t, http.MethodDelete, "/api/tags/news", nil, admin)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/tags/golang", nil, admin)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(t, http.MethodGet, "/api/tags/golang", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, 2)
	for i := 0; i < 2; i++ {
		w := ts.do(t, http.MethodGet, "/api/tags", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := ts.do(t, http.MethodGet, "/api/tags", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code, "health is not limited")
}

func TestRateLimiterForgetsIdleVisitors(t *testing.T) {
	now := time.Unix(0, 0)
	rl := newRateLimiter(1)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))

	now = now.Add(10 * time.Minute)
	assert.True(t, rl.allow("c"))
	assert.Len(t, rl.visitors, 1)
}

func TestAsRequestError(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, asRequestError(&forum.ValidationError{Msg: "x"}).Status)
	assert.Equal(t, http.StatusInternalServerError, asRequestError(assert.AnError).Status)
	assert.Equal(t, "internal server error", asRequestError(assert.AnError).Message)
}
