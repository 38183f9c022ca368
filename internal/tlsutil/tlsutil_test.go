package tlsutil

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfig(t *testing.T) {
	cfg := ClientConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	require.NotEmpty(t, cfg.CipherSuites)

	aead := map[uint16]bool{}
	for _, cs := range tls.CipherSuites() {
		aead[cs.ID] = true
	}
	for _, cs := range cfg.CipherSuites {
		name := tls.CipherSuiteName(cs)
		assert.True(t, aead[cs], "insecure suite %s", name)
		assert.Regexp(t, `GCM|CHACHA20_POLY1305`, name)
	}
}

func TestHTTPClient(t *testing.T) {
	c1 := HTTPClient(15 * time.Second)
	c2 := HTTPClient(time.Minute)
	assert.Equal(t, 15*time.Second, c1.Timeout)
	assert.Same(t, c1.Transport, c2.Transport)

	tr, ok := c1.Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
}

func TestHTTPClient_PlainHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := HTTPClient(5 * time.Second).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
