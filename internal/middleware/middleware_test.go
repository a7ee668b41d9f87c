package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/config"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-testing"

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.JWTConfig {
	return &config.JWTConfig{Secret: testSecret, Issuer: "domaindesk"}
}

// createTestToken signs arbitrary claims so tests can produce malformed tokens
func createTestToken(secret, userID, role, subject, issuer string, expiry time.Duration) string {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	tokenString, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	return tokenString
}

func protectedRouter(auth *JWTAuthenticator, extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	router.Use(auth.JWTAuth())
	handlers := append(extra, func(c *gin.Context) {
		actor, ok := GetActorFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, actor)
	})
	router.GET("/protected", handlers...)
	return router
}

func do(router http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJWTAuth_ValidToken(t *testing.T) {
	router := protectedRouter(NewJWTAuthenticator(testConfig()))
	token := createTestToken(testSecret, "user-123", "member", AccessSubject, "domaindesk", 15*time.Minute)

	w := do(router, token)
	require.Equal(t, http.StatusOK, w.Code)

	var actor models.Actor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &actor))
	assert.Equal(t, models.Actor{ID: "user-123", Role: models.RoleMember}, actor)
}

func TestJWTAuth_Rejections(t *testing.T) {
	router := protectedRouter(NewJWTAuthenticator(testConfig()))

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"missing token", "", "40101"},
		{"garbage", "not-a-jwt", "40101"},
		{"wrong secret", createTestToken("other-secret", "u", "member", AccessSubject, "domaindesk", time.Minute), "40101"},
		{"expired", createTestToken(testSecret, "u", "member", AccessSubject, "domaindesk", -time.Minute), "40102"},
		{"refresh subject", createTestToken(testSecret, "u", "member", "refresh", "domaindesk", time.Minute), "40101"},
		{"wrong issuer", createTestToken(testSecret, "u", "member", AccessSubject, "elsewhere", time.Minute), "40101"},
		{"system role", createTestToken(testSecret, "u", "system", AccessSubject, "domaindesk", time.Minute), "40101"},
		{"missing user", createTestToken(testSecret, "", "member", AccessSubject, "domaindesk", time.Minute), "40101"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, tt.token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
				RequestID string `json:"request_id"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestIssueAccessToken_RoundTrip(t *testing.T) {
	auth := NewJWTAuthenticator(testConfig())
	token, err := auth.IssueAccessToken(models.Actor{ID: "admin-1", Role: models.RoleAdmin}, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	claims, err := auth.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "domaindesk", claims.Issuer)
	assert.True(t, claims.Actor().IsAdmin())
}

func TestRequireAdmin(t *testing.T) {
	auth := NewJWTAuthenticator(testConfig())
	router := protectedRouter(auth, RequireAdmin())

	member := createTestToken(testSecret, "user-1", "member", AccessSubject, "domaindesk", time.Minute)
	assert.Equal(t, http.StatusForbidden, do(router, member).Code)

	admin := createTestToken(testSecret, "admin-1", "admin", AccessSubject, "domaindesk", time.Minute)
	assert.Equal(t, http.StatusOK, do(router, admin).Code)
}

func TestRequireRole_WithoutActor(t *testing.T) {
	router := gin.New()
	router.GET("/x", RequireRole(models.RoleMember), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", false},
		{"Bearer ", "", true},
		{"Basic abc", "", true},
		{"bearer abc", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := extractBearerToken(tt.header)
		if tt.wantErr {
			assert.Error(t, err, "header %q", tt.header)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, GetRequestIDFromContext(c)) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Body.String())
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, w.Body.String())
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS([]string{"https://desk.example"}))
	router.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://desk.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://desk.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")

	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
