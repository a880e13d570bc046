package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func testRouter(m *Middleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(m.Headers, m.RequestTimeout, m.ValidateContentType)
	r.POST("/echo", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return r
}

func TestHeaders(t *testing.T) {
	r := testRouter(NewMiddleware(DefaultConfig()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestValidateContentType(t *testing.T) {
	r := testRouter(NewMiddleware(DefaultConfig()))

	cases := []struct {
		name        string
		contentType string
		body        string
		status      int
	}{
		{"json accepted", "application/json", `{}`, http.StatusOK},
		{"json with charset accepted", "application/json; charset=utf-8", `{}`, http.StatusOK},
		{"empty body skips check", "", "", http.StatusOK},
		{"xml rejected", "application/xml", "<x/>", http.StatusUnsupportedMediaType},
		{"form rejected", "application/x-www-form-urlencoded", "a=1", http.StatusUnsupportedMediaType},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(tc.body))
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRequestTimeoutSetsHeaderAndContext(t *testing.T) {
	m := NewMiddleware(Config{RequestTimeout: 5 * time.Second})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(m.RequestTimeout)
	r.GET("/deadline", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		c.JSON(http.StatusOK, gin.H{"has_deadline": ok})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/deadline", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5", w.Header().Get("X-Timeout"))
	assert.Contains(t, w.Body.String(), `"has_deadline":true`)
}
