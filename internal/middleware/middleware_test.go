package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/rx-ledger/internal/handler"
	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/reqctx"
	"github.com/jwalitptl/rx-ledger/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var body handler.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func whoami(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, reqctx.RequestID(c.Request.Context()))
	})

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		id := w.Header().Get(handler.HeaderXRequestID)
		assert.NotEmpty(t, id)
		assert.Equal(t, id, w.Body.String())
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(handler.HeaderXRequestID, "req-123")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "req-123", w.Header().Get(handler.HeaderXRequestID))
		assert.Equal(t, "req-123", w.Body.String())
	})

	t.Run("oversized id replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(handler.HeaderXRequestID, strings.Repeat("x", 500))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Len(t, w.Header().Get(handler.HeaderXRequestID), 36)
	})
}

func TestAuthenticate(t *testing.T) {
	jwtSvc := auth.NewJWTService("session-secret")
	valid, err := jwtSvc.GenerateAccessToken(model.Principal{ID: "doc-1", Role: model.RoleDoctor}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		devHeaders bool
		headers    map[string]string
		wantStatus int
		wantID     string
	}{
		{"bearer", false, map[string]string{"Authorization": "Bearer " + valid}, http.StatusOK, "doc-1"},
		{"lowercase scheme", false, map[string]string{"Authorization": "bearer " + valid}, http.StatusOK, "doc-1"},
		{"missing", false, nil, http.StatusUnauthorized, ""},
		{"bad format", false, map[string]string{"Authorization": "Token abc"}, http.StatusUnauthorized, ""},
		{"bad token", false, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
		{"dev headers disabled", false, map[string]string{HeaderDevUserID: "pat-1", HeaderDevRole: "patient"}, http.StatusUnauthorized, ""},
		{"dev headers", true, map[string]string{HeaderDevUserID: "pat-1", HeaderDevRole: "Patient"}, http.StatusOK, "pat-1"},
		{"dev headers bad role", true, map[string]string{HeaderDevUserID: "pat-1", HeaderDevRole: "nurse"}, http.StatusUnauthorized, ""},
		{"bearer wins over dev headers", true, map[string]string{"Authorization": "Bearer " + valid, HeaderDevUserID: "pat-1", HeaderDevRole: "patient"}, http.StatusOK, "doc-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewAuthMiddleware(jwtSvc, tt.devHeaders)
			r := gin.New()
			r.Use(RequestID(), m.Authenticate())
			r.GET("/me", whoami)

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				body := decodeError(t, w)
				assert.Equal(t, "Unauthorized", body.Code)
				assert.NotEmpty(t, body.RequestID)
				return
			}
			var p model.Principal
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
			assert.Equal(t, tt.wantID, p.ID)
		})
	}
}

func TestRequireRole(t *testing.T) {
	m := NewAuthMiddleware(auth.NewJWTService("s"), true)
	r := gin.New()
	r.Use(m.Authenticate())
	r.POST("/dispense", m.RequireRole(model.RolePharmacy, model.RoleAdmin), whoami)

	do := func(role string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/dispense", nil)
		req.Header.Set(HeaderDevUserID, "u-1")
		req.Header.Set(HeaderDevRole, role)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("pharmacy").Code)
	assert.Equal(t, http.StatusOK, do("admin").Code)

	w := do("doctor")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Forbidden", decodeError(t, w).Code)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(handler.HeaderXRequestID, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "Internal", body.Code)
	assert.Equal(t, "rid-1", body.RequestID)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://pharmacy.example"}

	r := gin.New()
	r.Use(CORS(cfg))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Origin", "https://pharmacy.example")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "https://pharmacy.example", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/x", nil)
		req.Header.Set("Origin", "https://pharmacy.example")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Origin", "https://evil.example")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard with credentials echoes origin", func(t *testing.T) {
		assert.Equal(t, "https://a.example", allowedOrigin(CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true}, "https://a.example"))
		assert.Equal(t, "*", allowedOrigin(CORSConfig{AllowOrigins: []string{"*"}}, "https://a.example"))
	})
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: rate.Every(time.Hour), Burst: 2})
	r := gin.New()
	r.Use(rl.RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2"), "buckets are per client")
}

func TestSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 16, MaxHeaderSize: 1 << 10}))
	r.POST("/", func(c *gin.Context) {
		var v map[string]interface{}
		if !handler.BindJSON(c, &v) {
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "PayloadTooLarge", decodeError(t, w).Code)
}

func TestTimeout(t *testing.T) {
	r := gin.New()
	r.Use(Timeout(10 * time.Millisecond))
	r.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})
	r.GET("/fast", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fast", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(DefaultSecurityConfig()), NoStore())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=31536000")
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
}

func TestRegisterValidators(t *testing.T) {
	RegisterValidators()
	RegisterValidators()

	type body struct {
		Name string `json:"name" binding:"required,notblank"`
	}
	r := gin.New()
	r.POST("/", func(c *gin.Context) {
		var b body
		if !handler.BindJSON(c, &b) {
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"   "}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "name")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}
