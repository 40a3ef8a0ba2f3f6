package httpserver

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dephy-io/dephy-sensor-node/archive"
	"github.com/dephy-io/dephy-sensor-node/cryptoutils"
	"github.com/dephy-io/dephy-sensor-node/interfaces"
	"github.com/dephy-io/dephy-sensor-node/message"
	"github.com/dephy-io/dephy-sensor-node/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockArchive mocks the Archive interface
type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) Save(ctx context.Context, msg *message.SignedMessage, raw *message.RawMessage) (bool, error) {
	args := m.Called(ctx, msg, raw)
	return args.Bool(0), args.Error(1)
}

func (m *MockArchive) RecentBySender(ctx context.Context, sender interfaces.Address, limit int) ([]archive.Record, error) {
	args := m.Called(ctx, sender, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]archive.Record), args.Error(1)
}

func (m *MockArchive) ByHash(ctx context.Context, hash string) (*archive.Record, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*archive.Record), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testIdentity(t *testing.T, b byte) *cryptoutils.DeviceIdentity {
	t.Helper()
	var secret [interfaces.KeyLength]byte
	secret[0] = 0x42
	secret[interfaces.KeyLength-1] = b
	id, err := cryptoutils.NewDeviceIdentity(secret)
	require.NoError(t, err)
	return id
}

func signedBody(t *testing.T, id *cryptoutils.DeviceIdentity, payload string, ts uint64) []byte {
	t.Helper()
	msg, err := protocol.CreateAt(id, []byte(payload), nil, ts)
	require.NoError(t, err)
	return msg.Marshal()
}

// newTestServer builds a server around a sqlite archive.
func newTestServer(t *testing.T, limiter *SenderLimiter) (*Server, *archive.Store) {
	t.Helper()
	log := testLogger()

	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv, err := New(&HTTPServerConfig{Log: log}, NewHandler(store, limiter, log))
	require.NoError(t, err)
	return srv, store
}

func post(t *testing.T, h http.Handler, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, SignedMessagePath, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/x-dephy")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func scrape(t *testing.T, srv *Server) string {
	t.Helper()
	rr := httptest.NewRecorder()
	srv.metricsSrv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestHandleSignedMessage_Accepts(t *testing.T) {
	srv, store := newTestServer(t, nil)
	id := testIdentity(t, 1)

	rr := post(t, srv.Router(), signedBody(t, id, "DePHY_TEST,21.5", 1700000000))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, interfaces.AckOK, rr.Body.String())

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Contains(t, scrape(t, srv), `dephy_verified_messages_total{result="ok"} 1`)
}

func TestHandleSignedMessage_DuplicateIsAcknowledged(t *testing.T) {
	srv, store := newTestServer(t, nil)
	body := signedBody(t, testIdentity(t, 1), "DePHY_TEST,21.5", 1700000000)

	for i := 0; i < 3; i++ {
		rr := post(t, srv.Router(), body)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, interfaces.AckOK, rr.Body.String())
	}

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHandleSignedMessage_Rejections(t *testing.T) {
	id := testIdentity(t, 1)
	other := testIdentity(t, 2)

	valid, err := protocol.CreateAt(id, []byte("DePHY_TEST,21.5"), nil, 1700000000)
	require.NoError(t, err)

	tampered := valid.Clone()
	tampered.Raw[len(tampered.Raw)-1] ^= 0x01

	wrongNonce := valid.Clone()
	wrongNonce.Nonce++

	// Signed by another key but claims id's address
	impostor, err := protocol.CreateAt(other, []byte("DePHY_TEST,21.5"), nil, 1700000000)
	require.NoError(t, err)
	raw, err := message.UnmarshalRawMessage(impostor.Raw)
	require.NoError(t, err)
	raw.FromAddress = id.Address().Bytes()
	impostor.Raw = raw.Marshal()
	commitment := protocol.Commitment(impostor.Raw, impostor.Nonce)
	impostor.Hash = commitment[:]
	digest := protocol.SigningDigest(impostor.Hash)
	impostor.Signature, err = other.Sign(digest)
	require.NoError(t, err)

	shortSig := valid.Clone()
	shortSig.Signature = shortSig.Signature[:64]

	tests := []struct {
		name  string
		body  []byte
		class string
	}{
		{name: "empty body", body: nil, class: "empty"},
		{name: "garbage", body: []byte{0xff, 0xff, 0xff}, class: "decode"},
		{name: "tampered raw", body: tampered.Marshal(), class: "hash_mismatch"},
		{name: "wrong nonce", body: wrongNonce.Marshal(), class: "hash_mismatch"},
		{name: "wrong signer", body: impostor.Marshal(), class: "signer_mismatch"},
		{name: "short signature", body: shortSig.Marshal(), class: "bad_signature_length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store := newTestServer(t, nil)

			rr := post(t, srv.Router(), tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			resp := decodeError(t, rr)
			assert.False(t, resp.OK)
			assert.Equal(t, tt.class, resp.Error)

			n, err := store.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Contains(t, scrape(t, srv), `dephy_verified_messages_total{result="`+tt.class+`"} 1`)
		})
	}
}

func TestHandleSignedMessage_TooLarge(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := post(t, srv.Router(), bytes.Repeat([]byte{0x0a}, maxBodySize+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "too_large", decodeError(t, rr).Error)
}

func TestHandleSignedMessage_RateLimited(t *testing.T) {
	srv, _ := newTestServer(t, NewSenderLimiter(0.001, 2, time.Minute))
	id := testIdentity(t, 1)

	for i := uint64(0); i < 2; i++ {
		rr := post(t, srv.Router(), signedBody(t, id, "DePHY_TEST,21.5", 1700000000+i))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := post(t, srv.Router(), signedBody(t, id, "DePHY_TEST,21.5", 1700000010))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "rate_limited", decodeError(t, rr).Error)

	// Other senders have their own bucket
	rr = post(t, srv.Router(), signedBody(t, testIdentity(t, 2), "DePHY_TEST,21.5", 1700000010))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleSignedMessage_ArchiveFailure(t *testing.T) {
	log := testLogger()
	store := new(MockArchive)
	store.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("disk full"))

	srv, err := New(&HTTPServerConfig{Log: log}, NewHandler(store, nil, log))
	require.NoError(t, err)

	rr := post(t, srv.Router(), signedBody(t, testIdentity(t, 1), "DePHY_TEST,21.5", 1700000000))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "archive_failed", decodeError(t, rr).Error)
	store.AssertExpectations(t)
}

func TestHandleSignedMessage_VerifyOnly(t *testing.T) {
	log := testLogger()
	srv, err := New(&HTTPServerConfig{Log: log}, NewHandler(nil, nil, log))
	require.NoError(t, err)

	rr := post(t, srv.Router(), signedBody(t, testIdentity(t, 1), "DePHY_TEST,21.5", 1700000000))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, interfaces.AckOK, rr.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/message/00", nil)
	rr = httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleListMessages(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	id := testIdentity(t, 1)

	for i := uint64(0); i < 3; i++ {
		rr := post(t, srv.Router(), signedBody(t, id, "DePHY_TEST,21.5", 1700000000+i))
		require.Equal(t, http.StatusOK, rr.Code)
	}
	post(t, srv.Router(), signedBody(t, testIdentity(t, 2), "DePHY_OTHER,1", 1700000000))

	for _, addr := range []string{id.Address().String(), id.Address().Hex(), id.Address().DID()} {
		req := httptest.NewRequest(http.MethodGet, "/api/messages/"+addr+"?limit=2", nil)
		rr := httptest.NewRecorder()
		srv.Router().ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, addr)

		var resp MessagesResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, id.Address().String(), resp.Address)
		require.Len(t, resp.Messages, 2)
		assert.Equal(t, uint64(1700000002), resp.Messages[0].Timestamp)
		assert.Equal(t, uint64(1700000001), resp.Messages[1].Timestamp)
		assert.Equal(t, []byte("DePHY_TEST,21.5"), resp.Messages[0].Payload)
	}
}

func TestHandleListMessages_BadInput(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		path  string
		class string
	}{
		{path: "/api/messages/not-an-address", class: "invalid_address"},
		{path: "/api/messages/0x1234", class: "invalid_address"},
		{path: "/api/messages/0x" + hex.EncodeToString(make([]byte, 20)) + "?limit=abc", class: "invalid_limit"},
		{path: "/api/messages/0x" + hex.EncodeToString(make([]byte, 20)) + "?limit=-1", class: "invalid_limit"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		rr := httptest.NewRecorder()
		srv.Router().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code, tt.path)
		assert.Equal(t, tt.class, decodeError(t, rr).Error, tt.path)
	}
}

func TestHandleListMessages_Empty(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/"+testIdentity(t, 9).Address().String(), nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp MessagesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Messages)
	assert.Empty(t, resp.Messages)
}

func TestHandleGetMessage(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	msg, err := protocol.CreateAt(testIdentity(t, 1), []byte("DePHY_TEST,21.5"), nil, 1700000000)
	require.NoError(t, err)

	rr := post(t, srv.Router(), msg.Marshal())
	require.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/message/"+hex.EncodeToString(msg.Hash), nil)
	rr = httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var rec archive.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, hex.EncodeToString(msg.Hash), rec.Hash)
	assert.Equal(t, msg.Signature, rec.Signature)

	// Prefixed and uppercase spellings find the same record
	for _, spelling := range []string{
		"0x" + hex.EncodeToString(msg.Hash),
		strings.ToUpper(hex.EncodeToString(msg.Hash)),
		"0X" + strings.ToUpper(hex.EncodeToString(msg.Hash)),
	} {
		req = httptest.NewRequest(http.MethodGet, "/api/message/"+spelling, nil)
		rr = httptest.NewRecorder()
		srv.Router().ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, spelling)

		var again archive.Record
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &again))
		assert.Equal(t, rec.Hash, again.Hash, spelling)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/message/"+hex.EncodeToString(make([]byte, 32)), nil)
	rr = httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decodeError(t, rr).Error)
}
