package guildmate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t testing.TB) *Guildmate {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := DefaultTestConfig(t)
	g, err := New(cfg)
	require.NoError(t, err)
	return g
}

func TestHealthCheckEndpoint(t *testing.T) {
	g := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
	g.api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var health healthCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.False(t, health.Paused)
	assert.False(t, health.DiscordGatewayConnected)
}

func TestLandingPage(t *testing.T) {
	g := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	g.api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), apiPathOAuthLogin)
}

func TestSetupStatusEndpoint(t *testing.T) {
	g := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiPathSetupStatus, nil)
	g.api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var status setupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Required)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	g := newTestAPI(t)

	for _, path := range []string{
		apiPrefix + apiPathLoggedIn,
		apiPrefix + apiPathStats,
		apiPrefix + apiPathGuilds,
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		g.api.engine.ServeHTTP(w, req)
		assert.Equalf(t, http.StatusUnauthorized, w.Code, "path %s", path)
	}
}

func TestProtectedRoutesRejectedDuringPendingSetup(t *testing.T) {
	g := newTestAPI(t)
	g.pendingSetup.Store(true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiPrefix+apiPathLoggedIn, nil)
	g.api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOAuthLoginNotConfigured(t *testing.T) {
	g := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiPathOAuthLogin, nil)
	g.api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOAuthLoginRedirects(t *testing.T) {
	g := newTestAPI(t)
	g.config.API.OAuth.ClientID = "client-id"
	g.config.API.OAuth.ClientSecret = "client-secret"

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiPathOAuthLogin, nil)
	g.api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusTemporaryRedirect, w.Code)
	location := w.Header().Get("Location")
	assert.Contains(t, location, "discord.com")
	assert.Contains(t, location, "client_id=client-id")
	assert.Contains(t, location, "scope=identify+guilds")
	assert.Contains(t, location, "state=")
}

func TestRequireGuildAccess(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newCtx := func() *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Params = gin.Params{{Key: "id", Value: "g1"}}
		return c
	}

	// admin sessions reach any guild
	c := newCtx()
	c.Set(sessionVarAdmin, true)
	assert.Equal(t, "g1", requireGuildAccess(c))

	// discord sessions reach only their manageable guilds
	c = newCtx()
	c.Set(sessionVarGuilds, "g1,g2")
	assert.Equal(t, "g1", requireGuildAccess(c))

	c = newCtx()
	c.Set(sessionVarGuilds, "g2,g3")
	assert.Empty(t, requireGuildAccess(c))
	assert.Equal(t, http.StatusForbidden, c.Writer.Status())
}

func TestSessionGuildIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Nil(t, sessionGuildIDs(c))

	c.Set(sessionVarGuilds, "g1,g2")
	assert.Equal(t, []string{"g1", "g2"}, sessionGuildIDs(c))
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(requestIDMiddleware())
	r.GET(
		"/", func(c *gin.Context) {
			c.Status(http.StatusOK)
		},
	)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Header().Get(xRequestIDHeader), 32)

	// each request gets a distinct ID
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEqual(
		t,
		w.Header().Get(xRequestIDHeader),
		w2.Header().Get(xRequestIDHeader),
	)
}

func TestGenerateSelfSignedCert(t *testing.T) {
	t.Parallel()
	tmpdir := t.TempDir()
	certfile := filepath.Join(tmpdir, "cert.pem")
	keyfile := filepath.Join(tmpdir, "key.pem")

	cert, err := generateSelfSignedCert(certfile, keyfile)
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)

	tlsCfg, err := tlsConfig(certfile, keyfile, 0)
	require.NoError(t, err)
	require.Len(t, tlsCfg.Certificates, 1)
}

func TestTLSConfigRequiresPaths(t *testing.T) {
	t.Parallel()
	_, err := tlsConfig("", "", 0)
	require.Error(t, err)
}

func TestNewAPIWithSSL(t *testing.T) {
	tmpdir := t.TempDir()
	certfile := filepath.Join(tmpdir, "cert.pem")
	keyfile := filepath.Join(tmpdir, "key.pem")
	_, err := generateSelfSignedCert(certfile, keyfile)
	require.NoError(t, err)

	cfg := DefaultTestConfig(t)
	cfg.API.SSL.Cert = certfile
	cfg.API.SSL.Key = keyfile

	g, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, g.api.httpServer.TLSConfig)
}
