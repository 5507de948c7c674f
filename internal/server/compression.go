// compression.go - gzip response compression.
//
// JSON, the UI page and metrics compress well. Artifact downloads are
// arbitrary binary and carry an exact Content-Length, so they pass through.
package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// compressionResponseWriter wraps http.ResponseWriter to compress responses.
type compressionResponseWriter struct {
	http.ResponseWriter
	writer io.Writer
}

// Write compresses data before writing to the underlying writer.
func (crw *compressionResponseWriter) Write(b []byte) (int, error) {
	return crw.writer.Write(b)
}

// WriteHeader drops any Content-Length set by the handler; it describes
// the uncompressed body.
func (crw *compressionResponseWriter) WriteHeader(code int) {
	crw.ResponseWriter.Header().Del("Content-Length")
	crw.ResponseWriter.WriteHeader(code)
}

// CompressionMiddleware returns middleware that compresses HTTP responses.
func CompressionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !acceptsCompression(r) || shouldSkipCompression(r) {
			next.ServeHTTP(w, r)
			return
		}

		gz, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		defer gz.Close()

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.Header().Del("Content-Length")

		next.ServeHTTP(&compressionResponseWriter{ResponseWriter: w, writer: gz}, r)
	})
}

// acceptsCompression checks if the client accepts gzip encoding.
func acceptsCompression(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

// shouldSkipCompression determines if compression should be skipped for this request.
func shouldSkipCompression(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, downloadPrefix)
}
