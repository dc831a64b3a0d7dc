package tlsutil

import (
	"crypto/tls"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/bytestream/config"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	require.NotEmpty(t, cfg.CipherSuites)
	// Verify all cipher suites are AEAD
	for _, cs := range cfg.CipherSuites {
		switch cs {
		case tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305:
		default:
			t.Errorf("unexpected non-AEAD cipher suite: %d", cs)
		}
	}
}

func TestClientConfig_Disabled(t *testing.T) {
	cfg, err := ClientConfig(config.TLSConfig{CAFile: "/does/not/matter"})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestClientConfig_CAFile(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}
	require.NoError(t, os.WriteFile(caFile, pem.EncodeToMemory(block), 0o600))

	cfg, err := ClientConfig(config.TLSConfig{Enabled: true, CAFile: caFile, ServerName: "example.com"})
	require.NoError(t, err)
	require.NotNil(t, cfg.RootCAs)
	assert.Equal(t, "example.com", cfg.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	// httptest 证书签发给 example.com，用该 CA 与服务器名即可完成握手
	resp, err := UpgradeClient(cfg).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, resp.ProtoMajor)
}

func TestClientConfig_BadCAFile(t *testing.T) {
	_, err := ClientConfig(config.TLSConfig{Enabled: true, CAFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("not a cert"), 0o600))
	_, err = ClientConfig(config.TLSConfig{Enabled: true, CAFile: empty})
	assert.Error(t, err)
}

func TestUpgradeTransport(t *testing.T) {
	tr := UpgradeTransport(nil)
	require.NotNil(t, tr.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.False(t, tr.ForceAttemptHTTP2)
	assert.NotNil(t, tr.TLSNextProto, "non-nil empty map disables HTTP/2")

	client := UpgradeClient(nil)
	assert.Zero(t, client.Timeout)
}
