package middleware

import (
	"compress/gzip"
	"io"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// CompressionConfig holds configuration for response compression.
type CompressionConfig struct {
	// Level is the gzip compression level (1-9).
	Level int
	// SkipPaths are request paths that are never compressed.
	SkipPaths []string
}

// DefaultCompressionConfig returns the default compression configuration.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Level:     gzip.DefaultCompression,
		SkipPaths: []string{"/health"},
	}
}

// CompressionMiddleware gzips JSON responses for clients that accept it.
type CompressionMiddleware struct {
	config CompressionConfig
	stats  *CompressionStats
	pool   sync.Pool
}

func NewCompressionMiddleware(config CompressionConfig) *CompressionMiddleware {
	if config.Level < gzip.BestSpeed || config.Level > gzip.BestCompression {
		config.Level = gzip.DefaultCompression
	}
	cm := &CompressionMiddleware{
		config: config,
		stats:  &CompressionStats{},
	}
	cm.pool.New = func() interface{} {
		gz, _ := gzip.NewWriterLevel(io.Discard, cm.config.Level)
		return gz
	}
	return cm
}

// Handler returns the gin middleware.
func (cm *CompressionMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") || cm.skip(c.Request.URL.Path) {
			cm.stats.record(false)
			c.Next()
			return
		}

		gz := cm.pool.Get().(*gzip.Writer)
		gz.Reset(c.Writer)

		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		c.Writer = &gzipWriter{ResponseWriter: c.Writer, gz: gz}

		cm.stats.record(true)
		c.Next()

		gz.Close()
		cm.pool.Put(gz)
	}
}

func (cm *CompressionMiddleware) skip(path string) bool {
	for _, p := range cm.config.SkipPaths {
		if path == p {
			return true
		}
	}
	return false
}

// GetStats returns compression statistics for the health endpoint.
func (cm *CompressionMiddleware) GetStats() map[string]interface{} {
	return cm.stats.snapshot()
}

type gzipWriter struct {
	gin.ResponseWriter
	gz *gzip.Writer
}

func (w *gzipWriter) Write(data []byte) (int, error) {
	// Content length is unknown once the body is compressed.
	w.Header().Del("Content-Length")
	return w.gz.Write(data)
}

func (w *gzipWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// CompressionStats tracks how many responses were compressed.
type CompressionStats struct {
	mu         sync.Mutex
	total      int64
	compressed int64
}

func (cs *CompressionStats) record(compressed bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.total++
	if compressed {
		cs.compressed++
	}
}

func (cs *CompressionStats) snapshot() map[string]interface{} {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	ratio := float64(0)
	if cs.total > 0 {
		ratio = float64(cs.compressed) / float64(cs.total)
	}

	return map[string]interface{}{
		"total_responses":      cs.total,
		"compressed_responses": cs.compressed,
		"compressed_ratio":     ratio,
	}
}
