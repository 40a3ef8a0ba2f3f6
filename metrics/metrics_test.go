package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dephy-io/dephy-sensor-node/interfaces"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingKeyStore struct {
	interfaces.KeyStore
	err error
}

func (c *countingKeyStore) Write(context.Context, [interfaces.KeyLength]byte) error {
	return c.err
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("dephy")

	m.ObservePublish(nil)
	m.ObservePublish(errors.New("x"))
	m.ObservePublish(errors.New("x"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.published.WithLabelValues("failure")))

	m.ObserveVerify("ok")
	m.ObserveVerify("hash_mismatch")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verified.WithLabelValues("hash_mismatch")))

	phases := []string{"init", "waiting_for_entropy", "key_taken"}
	m.SetProvisioningPhase("waiting_for_entropy", phases)
	m.SetProvisioningPhase("key_taken", phases)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.provisioningPhase.WithLabelValues("waiting_for_entropy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.provisioningPhase.WithLabelValues("key_taken")))

	m.SetUptime(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(m.uptime))

	m.SetClockOffset(1500 * time.Millisecond)
	assert.Equal(t, 1.5, testutil.ToFloat64(m.clockOffset))

	m.ObserveRestart()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.restarts))
}

func TestInstrumentKeyStore(t *testing.T) {
	m := NewMetrics("dephy")

	ok := InstrumentKeyStore(&countingKeyStore{}, m)
	require.NoError(t, ok.Write(context.Background(), [interfaces.KeyLength]byte{}))

	failing := InstrumentKeyStore(&countingKeyStore{err: interfaces.ErrAlreadyProvisioned}, m)
	assert.ErrorIs(t, failing.Write(context.Background(), [interfaces.KeyLength]byte{}), interfaces.ErrAlreadyProvisioned)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.keyStoreWrites.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keyStoreWrites.WithLabelValues("failure")))
}

func TestMetricsServer_Handler(t *testing.T) {
	s, err := New("dephy", "127.0.0.1:0")
	require.NoError(t, err)
	s.ObservePublish(nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `dephy_published_messages_total{result="success"} 1`)

	_, err = New("", "127.0.0.1:0")
	assert.Error(t, err)
}
