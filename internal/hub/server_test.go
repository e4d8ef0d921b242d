package hub

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, users map[string]string) *httptest.Server {
	t.Helper()

	s, err := New(Options{
		SigningKey:    "0123456789abcdef0123",
		TokenLifetime: time.Hour,
		Users:         users,
	}, testLogger(t))
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})

	return srv
}

func postToken(t *testing.T, srv *httptest.Server, form url.Values) (int, map[string]any) {
	t.Helper()

	resp, err := srv.Client().PostForm(srv.URL+"/v1/token", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	return resp.StatusCode, body
}

func login(t *testing.T, srv *httptest.Server, workspace string) string {
	t.Helper()

	status, body := postToken(t, srv, url.Values{
		"grant_type": {"password"},
		"username":   {"alice"},
		"password":   {"pw"},
		"scope":      {workspace},
	})
	require.Equal(t, http.StatusOK, status)

	tok, _ := body["access_token"].(string)
	require.NotEmpty(t, tok)

	return tok
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, token string, body []byte) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)

	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestNew_ValidatesOptions(t *testing.T) {
	_, err := New(Options{SigningKey: "short", TokenLifetime: time.Hour}, testLogger(t))
	assert.Error(t, err)

	_, err = New(Options{SigningKey: "0123456789abcdef0123"}, testLogger(t))
	assert.Error(t, err)
}

func TestHealth_EchoesRequestID(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := doRequest(t, srv, http.MethodGet, "/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestToken_Grants(t *testing.T) {
	srv := newTestServer(t, map[string]string{"alice": "pw"})

	status, body := postToken(t, srv, url.Values{
		"grant_type": {"password"},
		"username":   {"alice"},
		"password":   {"pw"},
		"scope":      {"team-a"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, "team-a", body["scope"])
	assert.EqualValues(t, 3600, body["expires_in"])

	refresh, _ := body["refresh_token"].(string)
	require.NotEmpty(t, refresh)

	status, body = postToken(t, srv, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "team-a", body["scope"])

	// An access token is not a refresh token.
	access, _ := body["access_token"].(string)
	status, body = postToken(t, srv, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {access},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestToken_Rejections(t *testing.T) {
	srv := newTestServer(t, map[string]string{"alice": "pw"})

	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{
			name: "bad password",
			form: url.Values{"grant_type": {"password"}, "username": {"alice"}, "password": {"x"}, "scope": {"w"}},
			want: "invalid_grant",
		},
		{
			name: "missing scope",
			form: url.Values{"grant_type": {"password"}, "username": {"alice"}, "password": {"pw"}},
			want: "invalid_scope",
		},
		{
			name: "unsupported grant",
			form: url.Values{"grant_type": {"client_credentials"}},
			want: "unsupported_grant_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := postToken(t, srv, tt.form)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.want, body["error"])
		})
	}
}

func TestDataRoutes_RequireAccessToken(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := doRequest(t, srv, http.MethodGet, "/v1/cards", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodGet, "/v1/cards", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok := login(t, srv, "team-a")

	resp = doRequest(t, srv, http.MethodGet, "/v1/cards?workspace_id=team-b", tok, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodGet, "/v1/widgets", tok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCollections_RoundTrip(t *testing.T) {
	srv := newTestServer(t, nil)
	tok := login(t, srv, "team-a")

	resp := doRequest(t, srv, http.MethodPost, "/v1/courses", tok, []byte(`[{"title":"Intro","subject":"Math"}]`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stored []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stored))
	require.Len(t, stored, 1)

	id, _ := stored[0]["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "team-a", stored[0]["workspace_id"])

	resp = doRequest(t, srv, http.MethodGet, "/v1/courses?workspace_id=team-a&updated_since=not-a-time", tok, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodGet, "/v1/courses?workspace_id=team-a", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	assert.Len(t, listed, 1)

	resp = doRequest(t, srv, http.MethodDelete, "/v1/courses/"+id, tok, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodDelete, "/v1/courses/"+id, tok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpsert_RejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, nil)
	tok := login(t, srv, "team-a")

	resp := doRequest(t, srv, http.MethodPost, "/v1/cards", tok, []byte(`{"not":"an array"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodPost, "/v1/cards", tok, []byte(`[{"workspace_id":"team-b"}]`))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodPost, "/v1/cards", tok, []byte(strings.Repeat("[", 3)))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
