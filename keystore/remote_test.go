package keystore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dephy-io/dephy-sensor-node/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVault serves a single KV v2 secret and enforces check-and-set.
type fakeVault struct {
	mu       sync.Mutex
	key      string
	hideRead bool
	token    string
}

func (v *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	defer v.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path != "/v1/secret/data/dephy/node-1" {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errors":[]}`)
		return
	}
	v.token = r.Header.Get("X-Vault-Token")

	switch r.Method {
	case http.MethodGet:
		if v.key == "" || v.hideRead {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errors":[]}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data":     map[string]interface{}{"key": v.key},
				"metadata": map[string]interface{}{"version": 1},
			},
		})
	case http.MethodPut, http.MethodPost:
		var body struct {
			Options map[string]int    `json:"options"`
			Data    map[string]string `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if cas, ok := body.Options["cas"]; ok && cas == 0 && v.key != "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"errors":["check-and-set parameter did not match the current version"]}`)
			return
		}
		v.key = body.Data["key"]
		_, _ = io.WriteString(w, `{"data":{"version":1}}`)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestVaultKeyStore(t *testing.T) {
	vault := &fakeVault{}
	srv := httptest.NewServer(vault)
	defer srv.Close()

	ks, err := NewVaultKeyStore(srv.URL, "secret", "/dephy/node-1/", "s.token", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "vault-secret-dephy/node-1", ks.Name())

	exerciseWriteOnce(t, ks)

	assert.Equal(t, "s.token", vault.token)
	key := testKey(1)
	assert.Equal(t, hex.EncodeToString(key[:]), vault.key)
}

func TestVaultKeyStore_CheckAndSetRefusal(t *testing.T) {
	key := testKey(3)
	vault := &fakeVault{key: hex.EncodeToString(key[:]), hideRead: true}
	srv := httptest.NewServer(vault)
	defer srv.Close()

	ks, err := NewVaultKeyStore(srv.URL, "secret", "dephy/node-1", "s.token", testLogger())
	require.NoError(t, err)

	err = ks.Write(context.Background(), testKey(4))
	assert.ErrorIs(t, err, interfaces.ErrAlreadyProvisioned)
	assert.Equal(t, hex.EncodeToString(key[:]), vault.key)
}

// fakeS3 serves path-style object requests for a single bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	// afterPut runs under the lock once a PUT is stored
	afterPut func(key string)
}

func (s *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodHead:
		if _, ok := s.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := s.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
			return
		}
		_, _ = w.Write(data)
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		s.objects[key] = data
		s.puts++
		if s.afterPut != nil {
			s.afterPut(key)
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3KeyStore(t *testing.T) {
	s3srv := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(s3srv)
	defer srv.Close()

	ks, err := NewS3KeyStore("devices", "/fleet/node-1/", "us-east-1", srv.URL, "AK", "SK", testLogger())
	require.NoError(t, err)

	exerciseWriteOnce(t, ks)

	assert.Equal(t, 1, s3srv.puts)
	key := testKey(1)
	assert.Equal(t, hex.EncodeToString(key[:]), string(s3srv.objects["devices/fleet/node-1/device.key"]))
}

func TestS3KeyStore_OverwrittenByConcurrentWriter(t *testing.T) {
	rival := testKey(9)
	s3srv := &fakeS3{objects: map[string][]byte{}}
	s3srv.afterPut = func(key string) {
		// Another device lands its PUT between ours and the read back
		s3srv.objects[key] = []byte(hex.EncodeToString(rival[:]))
	}
	srv := httptest.NewServer(s3srv)
	defer srv.Close()

	ks, err := NewS3KeyStore("devices", "fleet/node-2", "us-east-1", srv.URL, "AK", "SK", testLogger())
	require.NoError(t, err)

	err = ks.Write(context.Background(), testKey(1))
	assert.ErrorIs(t, err, interfaces.ErrAlreadyProvisioned)

	got, ok, err := ks.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, rival, got)
}

func TestS3KeyStore_SecondStoreRefused(t *testing.T) {
	s3srv := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(s3srv)
	defer srv.Close()

	first, err := NewS3KeyStore("devices", "fleet/node-3", "us-east-1", srv.URL, "AK", "SK", testLogger())
	require.NoError(t, err)
	second, err := NewS3KeyStore("devices", "fleet/node-3", "us-east-1", srv.URL, "AK", "SK", testLogger())
	require.NoError(t, err)

	require.NoError(t, first.Write(context.Background(), testKey(1)))
	assert.ErrorIs(t, second.Write(context.Background(), testKey(2)), interfaces.ErrAlreadyProvisioned)
	assert.Equal(t, 1, s3srv.puts)

	got, _, err := second.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testKey(1), got)
}
