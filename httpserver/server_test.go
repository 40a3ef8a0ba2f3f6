package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_HealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.Router()

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	rr := get("/livez")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rr.Body.String())

	rr = get("/readyz")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = get("/drain")
	assert.JSONEq(t, `{"status":"draining"}`, rr.Body.String())
	rr = get("/drain")
	assert.JSONEq(t, `{"status":"already draining"}`, rr.Body.String())

	rr = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"status":"not ready"}`, rr.Body.String())

	rr = get("/undrain")
	assert.JSONEq(t, `{"status":"ready"}`, rr.Body.String())
	rr = get("/undrain")
	assert.JSONEq(t, `{"status":"already ready"}`, rr.Body.String())

	rr = get("/readyz")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_DrainRefusesMessages(t *testing.T) {
	srv, store := newTestServer(t, nil)
	router := srv.Router()
	id := testIdentity(t, 7)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/drain", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = post(t, router, signedBody(t, id, "while draining", 1700000100))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, ErrorResponse{OK: false, Error: "draining"}, decodeError(t, rr))
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	// Reads stay available while draining
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/messages/"+id.AddressHex(), nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/undrain", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = post(t, router, signedBody(t, id, "after undrain", 1700000101))
	assert.Equal(t, http.StatusOK, rr.Code)

	count, err = store.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestServer_Pprof(t *testing.T) {
	log := testLogger()

	srv, err := New(&HTTPServerConfig{Log: log}, NewHandler(nil, nil, log))
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	srv, err = New(&HTTPServerConfig{Log: log, EnablePprof: true}, NewHandler(nil, nil, log))
	require.NoError(t, err)
	rr = httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, SignedMessagePath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
