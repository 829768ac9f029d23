package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mjgate/internal/model"
	"mjgate/internal/pool"
	"mjgate/internal/protocol"
	"mjgate/internal/service"
	"mjgate/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	tasks := store.NewMemoryTaskStore()
	accounts := store.NewMemoryAccountStore()
	p := pool.New(zap.NewNop())
	svc := service.New(p, tasks, accounts, protocol.NewOrchestrator(zap.NewNop()), nil, nil, zap.NewNop())

	v, err := NewValidator()
	require.NoError(t, err)

	srv := httptest.NewServer(Routes(Dependencies{
		Service:   svc,
		Tasks:     tasks,
		Validator: v,
		Log:       zap.NewNop(),
		APISecret: "secret-1",
		JWTSecret: "jwt-key",
	}))
	t.Cleanup(srv.Close)
	return srv
}

func decodeBody(resp *http.Response, dst interface{}) error {
	return json.NewDecoder(resp.Body).Decode(dst)
}

func post(t *testing.T, srv *httptest.Server, path, secret, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("mj-api-secret", secret)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSubmitRejectsMissingSecret(t *testing.T) {
	srv := newTestServer(t)
	resp := post(t, srv, "/mj/submit/imagine", "", `{"prompt":"a cat"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubmitRejectsInvalidPayload(t *testing.T) {
	srv := newTestServer(t)
	resp := post(t, srv, "/mj/submit/imagine", "secret-1", `{"base64Array":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitImagineNoInstance(t *testing.T) {
	srv := newTestServer(t)
	resp := post(t, srv, "/mj/submit/imagine", "secret-1", `{"prompt":"a cat --ar 16:9"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res model.SubmitResult
	require.NoError(t, decodeBody(resp, &res))
	assert.Equal(t, model.CodeNotFound, res.Code)
}

func TestSubmitBlendRejectsSingleImage(t *testing.T) {
	srv := newTestServer(t)
	resp := post(t, srv, "/mj/submit/blend", "secret-1", `{"base64Array":["data:image/png;base64,aaaa"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFetchTaskNotFound(t *testing.T) {
	srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/mj/task/nope/fetch", nil)
	require.NoError(t, err)
	req.Header.Set("mj-api-secret", "secret-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminRequiresJWT(t *testing.T) {
	srv := newTestServer(t)
	resp := post(t, srv, "/admin/account/chan-1/sync", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminAcceptsSignedToken(t *testing.T) {
	srv := newTestServer(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("jwt-key"))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/admin/account/chan-1/sync", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// The account does not exist, so the request is authorized but fails
	// at the service layer.
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
