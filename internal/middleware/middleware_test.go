package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthRouter(am *AuthMiddleware, handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	chain := append([]gin.HandlerFunc{am.RequireAuth()}, handlers...)
	chain = append(chain, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": c.GetString(ContextSubject), "role": c.GetString(ContextRole)})
	})
	router.GET("/protected", chain...)
	return router
}

func doGet(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	am := NewAuthMiddleware("test-secret")
	router := newAuthRouter(am)

	valid, err := am.GenerateToken("ops", RoleOperator, time.Hour)
	require.NoError(t, err)
	expired, err := am.GenerateToken("ops", RoleOperator, -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuthMiddleware("other-secret").GenerateToken("ops", RoleOperator, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, `"subject":"ops"`},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, `"role":"operator"`},
		{"missing header", "", http.StatusUnauthorized, "Authorization header required"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "Invalid authorization header format"},
		{"no token", "Bearer", http.StatusUnauthorized, "Invalid authorization header format"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "Token expired"},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, "Invalid token"},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized, "Invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGet(router, tt.header)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestValidateToken_RejectsOtherSigningMethods(t *testing.T) {
	am := NewAuthMiddleware("test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &JWTClaims{
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "mallory", Issuer: "sentio"},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = am.ValidateToken(signed)
	assert.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	am := NewAuthMiddleware("test-secret")
	router := newAuthRouter(am, RequireRole(RoleOperator))

	operator, _ := am.GenerateToken("ops", RoleOperator, time.Hour)
	admin, _ := am.GenerateToken("root", RoleAdmin, time.Hour)
	viewer, _ := am.GenerateToken("guest", "viewer", time.Hour)

	assert.Equal(t, http.StatusOK, doGet(router, "Bearer "+operator).Code)
	assert.Equal(t, http.StatusOK, doGet(router, "Bearer "+admin).Code)
	w := doGet(router, "Bearer "+viewer)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "operator")
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	router := gin.New()
	router.Use(RequestLogger(logger))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for path, level := range map[string]logrus.Level{
		"/ok":     logrus.InfoLevel,
		"/boom":   logrus.ErrorLevel,
		"/health": logrus.DebugLevel,
	} {
		hook.Reset()
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		entry := hook.LastEntry()
		require.NotNil(t, entry, path)
		assert.Equal(t, level, entry.Level, path)
		assert.Equal(t, path, entry.Data["path"])
	}
}
