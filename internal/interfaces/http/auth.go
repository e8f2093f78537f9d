package http

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/pbkdf2"

	"github.com/salmalm/salmalm/internal/application"
)

const (
	userKeyPrefix = "auth:user:"
	cookieName    = "salmalm_token"
	pbkdf2Iters   = 100_000
)

// authState holds the JWT secret and the per-IP login backoff table.
type authState struct {
	app    *application.App
	secret []byte

	mu       sync.Mutex
	failures map[string]*loginBackoff
}

type loginBackoff struct {
	count int
	until time.Time
}

func newAuthState(app *application.App) *authState {
	secret := app.Config.Auth.JWTSecret
	if secret == "" {
		// Persist a generated secret so tokens survive restarts.
		if app.Vault.IsUnlocked() {
			if stored, err := app.Vault.Get("auth:jwt_secret"); err == nil && stored != "" {
				secret = stored
			} else {
				secret = randomHex(32)
				app.Vault.Set("auth:jwt_secret", secret)
			}
		} else {
			secret = randomHex(32)
		}
	}
	return &authState{
		app:      app,
		secret:   []byte(secret),
		failures: make(map[string]*loginBackoff),
	}
}

// middleware accepts a bearer JWT, a configured API key, or the session
// cookie. A gateway with no users and no API keys runs open; registering the
// first user closes it.
func (a *authState) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.protectionEnabled() {
			c.Next()
			return
		}
		if a.validAPIKey(c.GetHeader("X-API-Key")) {
			c.Next()
			return
		}
		token := bearerToken(c)
		if token == "" {
			if cookie, err := c.Cookie(cookieName); err == nil {
				token = cookie
			}
		}
		if token != "" && a.validToken(token) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
}

func (a *authState) protectionEnabled() bool {
	if len(a.app.Config.Auth.APIKeys) > 0 {
		return true
	}
	for _, key := range a.app.Vault.Keys() {
		if strings.HasPrefix(key, userKeyPrefix) {
			return true
		}
	}
	return false
}

func (a *authState) validAPIKey(key string) bool {
	if key == "" {
		return false
	}
	for _, configured := range a.app.Config.Auth.APIKeys {
		if hmac.Equal([]byte(key), []byte(configured)) {
			return true
		}
	}
	return false
}

func (a *authState) validToken(token string) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	return err == nil && parsed.Valid
}

func (a *authState) issueToken(username string) (string, error) {
	claims := jwt.MapClaims{
		"sub": username,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(a.app.Config.Auth.TokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// retryAfter reports how long the ip is locked out, zero when it may try.
func (a *authState) retryAfter(ip string) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, seen := a.failures[ip]
	if !seen {
		return 0
	}
	if remaining := time.Until(b.until); remaining > 0 {
		return remaining
	}
	return 0
}

// recordFailure doubles the lockout per consecutive failure: 1s, 2s, 4s …
// capped at five minutes.
func (a *authState) recordFailure(ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, seen := a.failures[ip]
	if !seen {
		b = &loginBackoff{}
		a.failures[ip] = b
	}
	b.count++
	delay := time.Second << uint(b.count-1)
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}
	b.until = time.Now().Add(delay)
}

func (a *authState) clearFailures(ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.failures, ip)
}

type credentialsBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	ip := s.clientIP(c)
	if wait := s.auth.retryAfter(ip); wait > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", int(wait.Seconds())+1))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many failed logins"})
		return
	}
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}
	if !s.auth.checkPassword(body.Username, body.Password) {
		s.auth.recordFailure(ip)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	s.auth.clearFailures(ip)
	token, err := s.auth.issueToken(body.Username)
	if err != nil {
		fail(c, err)
		return
	}
	c.SetCookie(cookieName, token, int(s.app.Config.Auth.TokenTTL.Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handleRegister(c *gin.Context) {
	if !s.app.Config.Auth.AllowRegister {
		c.JSON(http.StatusForbidden, gin.H{"error": "registration disabled"})
		return
	}
	if !s.app.Vault.IsUnlocked() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vault locked, cannot store credentials"})
		return
	}
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}
	if len(body.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}
	key := userKeyPrefix + body.Username
	if _, err := s.app.Vault.Get(key); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
		return
	}
	salt := randomHex(16)
	if err := s.app.Vault.Set(key, salt+"$"+hashPassword(body.Password, salt)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": body.Username})
}

func (a *authState) checkPassword(username, password string) bool {
	stored, err := a.app.Vault.Get(userKeyPrefix + username)
	if err != nil {
		return false
	}
	salt, hash, found := strings.Cut(stored, "$")
	if !found {
		return false
	}
	return hmac.Equal([]byte(hash), []byte(hashPassword(password, salt)))
}

func (s *Server) clientIP(c *gin.Context) string {
	if s.app.Config.TrustProxy {
		if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	return c.ClientIP()
}

func hashPassword(password, salt string) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iters, 32, sha256.New))
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func randomHex(n int) string {
	buf := make([]byte, n)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
