package guildmate

import (
	"context"
	cryprand "crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"

	"github.com/gin-contrib/cors"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	pprofPrefix             = "/debug"
	apiPrefix               = "/api"
	apiPathLogin            = "/login"
	apiPathLogout           = "/logout"
	apiPathOAuthLogin       = "/login/discord"
	apiPathOAuthCallback    = "/login/discord/callback"
	apiPathSetup            = "/setup"
	apiPathSetupStatus      = "/setup/status"
	apiHealthCheck          = "/healthz"
	apiPathLoggedIn         = "/logged_in"
	apiPathConfig           = "/config"
	apiPathStats            = "/stats"
	apiPathGuilds           = "/guilds"
	apiPathGuildSettings    = "/guilds/:id"
	apiPathGuildLeaderboard = "/guilds/:id/leaderboard"
	apiPathGuildReset       = "/guilds/:id/reset_leaderboard"
	apiPathPause            = "/pause"
	apiPathResume           = "/resume"
	apiPathQuit             = "/quit"
	apiPathRegisterCommands = "/discord/register_commands"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"

	// sessionVarGuilds holds a comma-separated list of guild IDs the
	// logged-in discord user can manage. Admin sessions leave it empty
	// and may manage every guild.
	sessionVarGuilds = "guild_ids"
	sessionVarAdmin  = "admin"
	sessionVarState  = "oauth_state"

	// discordPermissionManageGuild is the MANAGE_GUILD bit in the
	// permissions field returned by the /users/@me/guilds endpoint
	discordPermissionManageGuild = 0x20

	discordOAuthTokenURL     = "https://discord.com/api/oauth2/token"
	discordOAuthAuthorizeURL = "https://discord.com/api/oauth2/authorize"
)

var (
	structValidator = validator.New()
)

// API is the web dashboard server: login (Discord OAuth or admin
// credentials), per-guild settings management, leaderboards, and
// runtime bot configuration.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	requestMetrics      map[string]int
	requestMetricsMu    sync.Mutex
	logger              *slog.Logger

	handlers *APIHandlers
}

// newAPI initializes the dashboard API: gin engine, session store,
// TLS, middleware, and routes.
func newAPI(g *Guildmate, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		requestMetrics:      map[string]int{},
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	apiHandlers := NewAPIHandlers(g)
	api.handlers = apiHandlers
	api.store = apiHandlers.store
	_ = r.Use(sessions.Sessions(sessionVarName, apiHandlers.store))

	// TLS is optional: with no cert/key configured the dashboard
	// serves plain HTTP (e.g. behind a terminating reverse proxy)
	if config.SSL.Cert != "" || config.SSL.Key != "" {
		tlsCfg, e := tlsConfig(
			config.SSL.Cert,
			config.SSL.Key,
			config.SSL.TLSMinVersion,
		)
		if e != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", e)
		}
		api.httpServer = &http.Server{TLSConfig: tlsCfg}
	} else {
		api.httpServer = &http.Server{}
	}

	api.httpServer.Addr = config.Listen
	api.httpServer.Handler = r
	api.httpServer.WriteTimeout = config.WriteTimeout
	api.httpServer.IdleTimeout = config.IdleTimeout
	api.httpServer.ReadTimeout = config.ReadTimeout
	api.httpServer.ReadHeaderTimeout = config.ReadHeaderTimeout

	api.logger = setupLogger.With(loggerNameKey, "api")

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && api.config.Development {
		corsConfig.AllowOrigins = []string{"*"}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.GET("/", apiHandlers.landingPage)
	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)
	r.GET(apiPathOAuthLogin, apiHandlers.oauthLogin)
	r.GET(apiPathOAuthCallback, apiHandlers.oauthCallback)
	r.POST(apiPathSetup, apiHandlers.adminSetup)
	r.GET(apiPathSetupStatus, apiHandlers.setupStatus)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(g))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathStats, apiHandlers.getStats)
	protected.GET(apiPathGuilds, apiHandlers.getGuilds)
	protected.GET(apiPathGuildSettings, apiHandlers.getGuildSettings)
	protected.PATCH(apiPathGuildSettings, apiHandlers.updateGuildSettings)
	protected.GET(apiPathGuildLeaderboard, apiHandlers.getGuildLeaderboard)
	protected.POST(apiPathGuildReset, apiHandlers.resetGuildLeaderboard)

	admin := protected.Group("")
	admin.Use(adminMiddleware(g))
	admin.GET(apiPathConfig, apiHandlers.getConfig)
	admin.PATCH(apiPathConfig, apiHandlers.updateRuntimeConfig)
	admin.POST(apiPathPause, apiHandlers.botPause)
	admin.POST(apiPathResume, apiHandlers.botResume)
	admin.POST(apiPathQuit, apiHandlers.botQuit)
	admin.POST(apiPathRegisterCommands, apiHandlers.discordRegisterCommands)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, e := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
	if e != nil {
		panic(e)
	}
	if a.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, a.httpServer.TLSConfig)
	}
	a.listener = ln
	return a.httpServer.Serve(a.listener)
}

func (a *API) getSessionUsername(c *gin.Context) (string, error) {
	session, err := a.store.Get(c.Request, sessionVarName)
	if err != nil {
		return "", err
	}
	username, ok := session.Values[sessionVarField]
	if !ok {
		return "", errors.New("username not found in session")
	}
	s, e := username.(string)
	if !e {
		return "", errors.New("username not a string")
	}
	return s, nil
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers contains the handlers for the dashboard API endpoints.
type APIHandlers struct {
	g      *Guildmate
	logger *slog.Logger
	store  CookieStore
}

// NewAPIHandlers sets up the session store and returns the handler set.
func NewAPIHandlers(g *Guildmate) *APIHandlers {
	logger := g.logger.With(loggerNameKey, "api")

	var secretKey []byte
	switch sk := g.config.API.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	sameSite := http.SameSiteStrictMode
	if g.config.API.Development {
		sameSite = http.SameSiteNoneMode
	}
	store.Options(
		sessions.Options{
			HttpOnly: true,
			Secure:   g.config.API.SSL.Cert != "",
			MaxAge:   int(g.config.API.SessionMaxAge.Seconds()),
			SameSite: sameSite,
		},
	)
	return &APIHandlers{g: g, logger: logger, store: store}
}

// landingPage serves a minimal page pointing at the dashboard login
// endpoints. The dashboard itself is a JSON API.
func (h *APIHandlers) landingPage(c *gin.Context) {
	c.Data(
		http.StatusOK,
		"text/html; charset=utf-8",
		[]byte(`<!DOCTYPE html>
<html>
<head><title>Guildmate</title></head>
<body>
<h1>Guildmate</h1>
<p><a href="`+apiPathOAuthLogin+`">Log in with Discord</a></p>
</body>
</html>
`),
	)
}

func (h *APIHandlers) setupStatus(c *gin.Context) {
	c.JSON(http.StatusOK, setupResponse{Required: h.g.pendingSetup.Load()})
}

// adminSetup handles the initial admin credential setup. It may only
// be called while setup is pending (no credentials stored yet).
func (h *APIHandlers) adminSetup(c *gin.Context) {
	h.g.cfgMu.Lock()
	defer h.g.cfgMu.Unlock()

	if !h.g.pendingSetup.Load() {
		c.JSON(http.StatusForbidden, httpError{Error: "Forbidden"})
		return
	}

	logger := ginContextLogger(c)
	logger.Info("first time admin setup")
	var adminSetup adminSetupPayload

	if e := c.ShouldBindJSON(&adminSetup); e != nil {
		logger.Error("bad payload", tint.Err(e))
		c.JSON(http.StatusBadRequest, gin.H{"error": e.Error()})
		return
	}

	currentState := h.g.runtimeConfig

	password, err := HashPassword(adminSetup.Password)
	if err != nil {
		logger.Error("error hashing password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error setting admin credentials"},
		)
		return
	}

	if _, err = h.g.writeDB.Updates(
		c.Request.Context(), currentState, map[string]any{
			columnRuntimeConfigAdminUsername: adminSetup.Username,
			columnRuntimeConfigAdminPassword: password,
		},
	); err != nil {
		logger.Error("error updating admin credentials", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error updating admin credentials"},
		)
		return
	}
	h.g.runtimeConfig = currentState
	h.g.pendingSetup.Store(false)
	c.JSON(http.StatusCreated, gin.H{"message": "admin credentials set"})
}

// loginHandler handles admin username/password login. Dashboard users
// normally log in through Discord OAuth instead.
func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	if !h.g.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runtimeConfig := h.g.RuntimeConfig()
	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if login.Username != runtimeConfig.AdminUsername {
		logger.Warn("admin username incorrect")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	valid, err := verifyPassword(runtimeConfig.AdminPassword, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Internal Server Error"},
		)
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	if saveErr := h.saveLoginSession(
		c, login.Username, true, nil,
	); saveErr != nil {
		logger.Error("error saving session", tint.Err(saveErr))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username, Admin: true})
}

// saveLoginSession writes an authenticated session cookie. Admin
// sessions may manage every guild; discord sessions are limited to
// the given guild IDs.
func (h *APIHandlers) saveLoginSession(
	c *gin.Context,
	username string,
	admin bool,
	guildIDs []string,
) error {
	session, err := h.store.New(c.Request, sessionVarName)
	if err != nil {
		// an undecodable stale cookie also lands here; reset it
		sess, _ := h.store.Get(c.Request, sessionVarName)
		if sess != nil {
			sess.Values[sessionVarField] = ""
			_ = sess.Save(c.Request, c.Writer)
		}
		return err
	}
	if session == nil {
		return errors.New("nil session")
	}
	sameSite := http.SameSiteStrictMode
	if h.g.config.API.Development {
		sameSite = http.SameSiteNoneMode
	}
	session.Options = &gsessions.Options{
		MaxAge:   int(h.g.config.API.SessionMaxAge.Seconds()),
		SameSite: sameSite,
		HttpOnly: true,
		Secure:   h.g.config.API.SSL.Cert != "",
	}
	session.Values[sessionVarField] = username
	session.Values[sessionVarAdmin] = admin
	session.Values[sessionVarGuilds] = strings.Join(guildIDs, ",")
	return session.Save(c.Request, c.Writer)
}

// oauthRedirectURL returns the configured OAuth redirect URL, deriving
// it from the external URL when not set explicitly.
func (h *APIHandlers) oauthRedirectURL() string {
	oauth := h.g.config.API.OAuth
	if oauth.RedirectURL != "" {
		return oauth.RedirectURL
	}
	return strings.TrimSuffix(
		h.g.config.API.ExternalURL, "/",
	) + apiPathOAuthCallback
}

// oauthLogin redirects the browser to the Discord authorization page,
// stashing a random state value in the session.
func (h *APIHandlers) oauthLogin(c *gin.Context) {
	logger := ginContextLogger(c)
	if !h.g.config.API.OAuth.Enabled() {
		c.JSON(http.StatusNotFound, httpError{Error: "oauth login not configured"})
		return
	}

	state, err := generateRandomHexString(32)
	if err != nil {
		ginReplyError(c, "internal server error")
		return
	}

	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil || session == nil {
		logger.Error("error getting session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	session.Values[sessionVarState] = state
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}

	query := url.Values{}
	query.Set("client_id", h.g.config.API.OAuth.ClientID)
	query.Set("redirect_uri", h.oauthRedirectURL())
	query.Set("response_type", "code")
	query.Set("scope", "identify guilds")
	query.Set("state", state)

	c.Redirect(
		http.StatusTemporaryRedirect,
		discordOAuthAuthorizeURL+"?"+query.Encode(),
	)
}

// oauthCallback completes the Discord OAuth flow: verifies the state,
// exchanges the code for a token, and records which guilds the user
// can manage.
func (h *APIHandlers) oauthCallback(c *gin.Context) {
	logger := ginContextLogger(c)
	if !h.g.config.API.OAuth.Enabled() {
		c.JSON(http.StatusNotFound, httpError{Error: "oauth login not configured"})
		return
	}

	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil || session == nil {
		logger.Error("error getting session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	expectedState, _ := session.Values[sessionVarState].(string)
	if expectedState == "" || c.Query("state") != expectedState {
		logger.Warn("oauth state mismatch")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, httpError{Error: "missing code"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	token, err := h.exchangeOAuthCode(ctx, code)
	if err != nil {
		logger.Error("oauth code exchange failed", tint.Err(err))
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	identity, err := h.discordIdentity(ctx, token)
	if err != nil {
		logger.Error("error fetching discord identity", tint.Err(err))
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	guildIDs, err := h.manageableGuilds(ctx, token)
	if err != nil {
		logger.Error("error fetching discord guilds", tint.Err(err))
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	if saveErr := h.saveLoginSession(
		c, identity.Username, false, guildIDs,
	); saveErr != nil {
		logger.Error("error saving session", tint.Err(saveErr))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info(
		"oauth login",
		"username", identity.Username,
		"user_id", identity.ID,
		"manageable_guilds", len(guildIDs),
	)
	c.JSON(
		http.StatusOK,
		loggedInResponse{Username: identity.Username, GuildIDs: guildIDs},
	)
}

type oauthTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (h *APIHandlers) exchangeOAuthCode(
	ctx context.Context,
	code string,
) (*oauthTokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", h.g.config.API.OAuth.ClientID)
	form.Set("client_secret", h.g.config.API.OAuth.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", h.oauthRedirectURL())

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		discordOAuthTokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.g.config.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var token oauthTokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, errors.New("empty access token")
	}
	return &token, nil
}

func (h *APIHandlers) oauthGet(
	ctx context.Context,
	token *oauthTokenResponse,
	endpoint string,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := h.g.config.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d", endpoint, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (h *APIHandlers) discordIdentity(
	ctx context.Context,
	token *oauthTokenResponse,
) (*discordgo.User, error) {
	body, err := h.oauthGet(ctx, token, discordgo.EndpointUser("@me"))
	if err != nil {
		return nil, err
	}
	var u discordgo.User
	if err = json.Unmarshal(body, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, errors.New("empty user ID")
	}
	return &u, nil
}

// manageableGuilds returns the IDs of guilds where the user holds the
// Manage Server permission.
func (h *APIHandlers) manageableGuilds(
	ctx context.Context,
	token *oauthTokenResponse,
) ([]string, error) {
	body, err := h.oauthGet(ctx, token, discordgo.EndpointUserGuilds("@me"))
	if err != nil {
		return nil, err
	}
	var guilds []discordgo.UserGuild
	if err = json.Unmarshal(body, &guilds); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(guilds))
	for _, guild := range guilds {
		if guild.Owner || guild.Permissions&discordPermissionManageGuild != 0 {
			ids = append(ids, guild.ID)
		}
	}
	return ids, nil
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  h.g.paused.Load(),
			DiscordGatewayConnected: h.g.discord.connected.Load(),
		},
	)
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error getting session", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	session.Values[sessionVarField] = ""
	session.Values[sessionVarAdmin] = false
	session.Values[sessionVarGuilds] = ""
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, err := h.g.api.getSessionUsername(c)
	if err != nil {
		ginContextLogger(c).Warn(
			"error getting session username",
			tint.Err(err),
		)
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	c.JSON(
		http.StatusOK, loggedInResponse{
			Username: username,
			Admin:    sessionIsAdmin(c),
			GuildIDs: sessionGuildIDs(c),
		},
	)
}

func (h *APIHandlers) getStats(c *gin.Context) {
	stats, err := h.g.botStats(c.Request.Context())
	if err != nil {
		ginContextLogger(c).Error("error gathering stats", tint.Err(err))
		ginReplyError(c, "error gathering stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// guildWithSettings pairs a guild the bot is in with its stored
// settings, for the dashboard server list.
type guildWithSettings struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	MemberCount int            `json:"member_count"`
	Settings    *GuildSettings `json:"settings"`
}

// getGuilds lists the guilds the bot shares with the logged-in user
// (all guilds, for admin sessions), with each guild's settings.
func (h *APIHandlers) getGuilds(c *gin.Context) {
	logger := ginContextLogger(c)

	accessible := map[string]bool{}
	for _, id := range sessionGuildIDs(c) {
		accessible[id] = true
	}
	admin := sessionIsAdmin(c)

	var out []guildWithSettings
	for _, guild := range h.g.discord.session.StateGuilds() {
		if !admin && !accessible[guild.ID] {
			continue
		}
		settings, err := h.g.writeDB.GuildSettings(c.Request.Context(), guild.ID)
		if err != nil {
			logger.Error(
				"error getting guild settings",
				tint.Err(err),
				"guild_id", guild.ID,
			)
			ginReplyError(c, "error getting guild settings")
			return
		}
		out = append(
			out, guildWithSettings{
				ID:          guild.ID,
				Name:        guild.Name,
				MemberCount: guild.MemberCount,
				Settings:    settings,
			},
		)
	}
	c.JSON(http.StatusOK, out)
}

// requireGuildAccess verifies the session may manage the guild named
// in the route. Returns the guild ID, or "" after writing a 403.
func requireGuildAccess(c *gin.Context) string {
	guildID := c.Param("id")
	if guildID == "" {
		c.JSON(http.StatusBadRequest, httpError{Error: "missing guild ID"})
		return ""
	}
	if sessionIsAdmin(c) {
		return guildID
	}
	for _, id := range sessionGuildIDs(c) {
		if id == guildID {
			return guildID
		}
	}
	c.JSON(http.StatusForbidden, httpError{Error: "forbidden"})
	return ""
}

func (h *APIHandlers) getGuildSettings(c *gin.Context) {
	guildID := requireGuildAccess(c)
	if guildID == "" {
		return
	}
	settings, err := h.g.writeDB.GuildSettings(c.Request.Context(), guildID)
	if err != nil {
		ginContextLogger(c).Error("error getting guild settings", tint.Err(err))
		ginReplyError(c, "error getting guild settings")
		return
	}
	c.JSON(http.StatusOK, settings)
}

// updateGuildSettings applies a partial settings update for one guild.
// Only the fields present in the payload are changed.
func (h *APIHandlers) updateGuildSettings(c *gin.Context) {
	logger := ginContextLogger(c)
	guildID := requireGuildAccess(c)
	if guildID == "" {
		return
	}

	var update GuildSettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		logger.Warn("bad request", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	updates := update.columnUpdates()
	if len(updates) == 0 {
		settings, err := h.g.writeDB.GuildSettings(c.Request.Context(), guildID)
		if err != nil {
			ginReplyError(c, "error getting guild settings")
			return
		}
		c.JSON(http.StatusAccepted, settings)
		return
	}

	logger.Info("updating guild settings", "guild_id", guildID, "updates", updates)
	settings, err := h.g.writeDB.UpsertGuildSettings(
		c.Request.Context(), guildID, updates,
	)
	if err != nil {
		logger.Error("error updating guild settings", tint.Err(err))
		ginReplyError(c, "error updating guild settings")
		return
	}
	c.JSON(http.StatusAccepted, settings)
}

type leaderboardQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

func (h *APIHandlers) getGuildLeaderboard(c *gin.Context) {
	guildID := requireGuildAccess(c)
	if guildID == "" {
		return
	}

	var query leaderboardQuery
	if c.ShouldBindQuery(&query) != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid query"})
		return
	}
	if query.Limit == 0 {
		query.Limit = maxLeaderboardLimit
	}

	accounts, err := h.g.writeDB.TopAccounts(
		c.Request.Context(), guildID, query.Limit,
	)
	if err != nil {
		ginContextLogger(c).Error("error getting leaderboard", tint.Err(err))
		ginReplyError(c, "error getting leaderboard")
		return
	}
	c.JSON(http.StatusOK, accounts)
}

func (h *APIHandlers) resetGuildLeaderboard(c *gin.Context) {
	logger := ginContextLogger(c)
	guildID := requireGuildAccess(c)
	if guildID == "" {
		return
	}

	removed, err := h.g.writeDB.ResetAccounts(c.Request.Context(), guildID)
	if err != nil {
		logger.Error("error resetting leaderboard", tint.Err(err))
		ginReplyError(c, "error resetting leaderboard")
		return
	}
	logger.Info("leaderboard reset", "guild_id", guildID, "removed", removed)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.g.RuntimeConfig())
}

// updateRuntimeConfig applies a partial update to the bot's runtime
// configuration and persists it. The update is validated against the
// resulting config inside a transaction, so a bad payload rolls back.
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	g := h.g
	g.cfgMu.Lock()
	defer g.cfgMu.Unlock()

	ctx := context.Background()

	var updateRequest RuntimeConfigUpdate
	logger := ginContextLogger(c)
	if err := c.ShouldBindJSON(&updateRequest); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := updateRequest.validate(); err != nil {
		logger.Error("invalid update", tint.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existingConfig := g.runtimeConfig
	rollbackConfig := *existingConfig

	updateData, err := json.Marshal(updateRequest)
	if err != nil {
		logger.ErrorContext(c, "error marshaling update request", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error marshaling update request"},
		)
		return
	}

	var updates map[string]any
	if err = json.Unmarshal(updateData, &updates); err != nil {
		logger.ErrorContext(c, "error unmarshalling update request", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error unmarshalling update request"},
		)
		return
	}
	logger.InfoContext(c, "applying updates", "updates", updates)

	var updateError error
	var statusCode int
	var ginResponse gin.H

	_ = g.writeDB.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			updateError = tx.Model(existingConfig).Updates(updates).Error
			if updateError != nil {
				statusCode = http.StatusInternalServerError
				ginResponse = gin.H{"error": "error updating config"}
				return updateError
			}

			updateError = structValidator.Struct(existingConfig)
			if updateError != nil {
				statusCode = http.StatusBadRequest
				ginResponse = gin.H{"error": "error validating config"}
				return updateError
			}
			return nil
		},
	)

	if updateError != nil {
		g.runtimeConfig = &rollbackConfig
		logger.ErrorContext(c, "error updating config", tint.Err(updateError))
		c.JSON(statusCode, ginResponse)
		return
	}

	g.setRuntimeLevels(*existingConfig)

	wasPaused := g.paused.Swap(existingConfig.Paused)
	switch {
	case wasPaused && !existingConfig.Paused:
		logger.Info("unpaused bot")
	case existingConfig.Paused && !wasPaused:
		logger.Warn("paused bot")
	}

	updateDiscordBotStatus(g, logger, rollbackConfig, existingConfig)

	c.JSON(http.StatusAccepted, existingConfig)

	if !g.dbNotifier.ReloadRuntimeConfig(ctx) {
		logger.Error("error sending config update notification")
	}
}

func (h *APIHandlers) botPause(c *gin.Context) {
	log := ginContextLogger(c)
	if h.g.Pause(context.Background()) {
		log.Info("bot paused")
		ginReplyMessage(c, "bot paused")
		return
	}
	c.AbortWithStatusJSON(
		http.StatusConflict,
		httpError{Error: "bot already paused"},
	)
}

func (h *APIHandlers) botResume(c *gin.Context) {
	if h.g.Resume(context.Background()) {
		ginReplyMessage(c, "bot resumed")
		return
	}
	c.AbortWithStatusJSON(http.StatusConflict, httpError{Error: "bot not paused"})
}

// botQuit sends a stop signal to every bot instance sharing the
// database, which initiates shutdown.
func (h *APIHandlers) botQuit(c *gin.Context) {
	log := ginContextLogger(c)
	log.Warn("sending stop signal")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doneCh := make(chan struct{}, 1)
	go func() {
		h.g.dbNotifier.Stop(ctx)
		doneCh <- struct{}{}
		close(doneCh)
	}()
	select {
	case <-doneCh:
		ginReplyMessage(c, "quitting")
	case <-ctx.Done():
		log.Warn("timeout sending stop signal")
		c.JSON(
			http.StatusGatewayTimeout,
			httpError{Error: "timeout sending stop signal"},
		)
	}
}

func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("registering commands")

	createdCommands, err := h.g.discord.registerCommands()
	if err != nil {
		log.Error("error registering commands", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error registering commands"},
		)
		return
	}
	c.JSON(http.StatusCreated, createdCommands)
}

type loggedInResponse struct {
	Username string   `json:"username"`
	Admin    bool     `json:"admin,omitempty"`
	GuildIDs []string `json:"guild_ids,omitempty"`
}

type healthCheckResponse struct {
	Paused                  bool `json:"paused"`
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type adminSetupPayload struct {
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required,min=8,eqfield=ConfirmPassword"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// setupResponse is the response struct for the 'setup status'
// endpoint. If admin credentials haven't been set yet, Required will
// be true, indicating setup is needed.
type setupResponse struct {
	Required bool `json:"required"`
}

// sessionIsAdmin reports whether the current request carries an admin
// session. Set by authMiddleware.
func sessionIsAdmin(c *gin.Context) bool {
	admin, _ := c.Get(sessionVarAdmin)
	b, _ := admin.(bool)
	return b
}

// sessionGuildIDs returns the guild IDs the current session may
// manage. Set by authMiddleware.
func sessionGuildIDs(c *gin.Context) []string {
	ids, _ := c.Get(sessionVarGuilds)
	s, _ := ids.(string)
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// authMiddleware verifies the request carries an authenticated
// session, and copies the session's identity into the gin context.
// While initial setup is pending, every authenticated route returns
// 401.
func authMiddleware(g *Guildmate) gin.HandlerFunc {
	return func(c *gin.Context) {
		store := g.api.store
		logger := g.logger
		if logger == nil {
			logger = slog.Default()
		}
		if g.pendingSetup.Load() {
			logger.Warn("admin username and password not set")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		session, err := store.Get(c.Request, sessionVarName)
		if err != nil {
			logger.Error("error getting session", tint.Err(err))
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		if session == nil {
			logger.Error("session is nil")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		username, ok := session.Values[sessionVarField]
		if !ok || username == "" {
			logger.Warn("username not found in session")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		admin, _ := session.Values[sessionVarAdmin].(bool)
		guildIDs, _ := session.Values[sessionVarGuilds].(string)
		c.Set(sessionVarAdmin, admin)
		c.Set(sessionVarGuilds, guildIDs)

		c.Next()
	}
}

// adminMiddleware restricts a route group to admin sessions.
func adminMiddleware(g *Guildmate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !sessionIsAdmin(c) {
			g.logger.Warn("non-admin session denied admin route")
			c.AbortWithStatusJSON(
				http.StatusForbidden,
				httpError{Error: "forbidden"},
			)
			return
		}
		c.Next()
	}
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, for tracking and logging purposes.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		if requestID, exists := c.Get(xRequestIDHeader); exists {
			c.Header(xRequestIDHeader, requestID.(string))
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details
// included, and sets the logger in the context so the next call to
// ginContextLogger will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request's method, path, duration and
// response status.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware counts requests per method and path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		_, ok := a.requestMetrics[key]
		if !ok {
			a.requestMetrics[key] = 1
			return
		}
		a.requestMetrics[key]++
	}
}

// ginReplyMessage sends a JSON response with a message, with HTTP
// status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with an error message, with
// HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

// updateDiscordBotStatus applies any presence change implied by a
// runtime config update.
func updateDiscordBotStatus(
	g *Guildmate,
	logger *slog.Logger,
	previous RuntimeConfig,
	current *RuntimeConfig,
) {
	switch {
	case current.Paused && !previous.Paused:
		if err := g.discord.updateStatusComplex(
			discordgo.UpdateStatusData{
				AFK:    true,
				Status: string(discordgo.StatusDoNotDisturb),
			},
		); err != nil {
			logger.Error("error updating discord status", tint.Err(err))
		}
	case previous.Paused && !current.Paused,
		current.DiscordCustomStatus != previous.DiscordCustomStatus:
		if err := g.discord.updateCustomStatus(
			current.DiscordCustomStatus,
		); err != nil {
			logger.Error("error updating discord status", tint.Err(err))
		}
	}
}

// generateSelfSignedCert creates a self-signed certificate and writes
// the PEM-encoded cert and key to the given paths.
func generateSelfSignedCert(
	certFile string,
	keyFile string,
) (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(cryprand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	certTemplate := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Guildmate"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour), // Valid for 1 year
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(
		cryprand.Reader,
		&certTemplate,
		&certTemplate,
		&priv.PublicKey,
		priv,
	)
	if err != nil {
		return tls.Certificate{}, err
	}

	certOut, err := os.Create(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = certOut.Close()
	}()

	if err = pem.Encode(
		certOut,
		&pem.Block{Type: "CERTIFICATE", Bytes: derBytes},
	); err != nil {
		return tls.Certificate{}, err
	}

	keyOut, err := os.Create(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = keyOut.Close()
	}()

	privBytes := x509.MarshalPKCS1PrivateKey(priv)
	if err = pem.Encode(
		keyOut,
		&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes},
	); err != nil {
		return tls.Certificate{}, err
	}

	return tls.LoadX509KeyPair(certFile, keyFile)
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
	structValidator.RegisterCustomTypeFunc(validateSchedulerConfig, SchedulerConfig{})
}
