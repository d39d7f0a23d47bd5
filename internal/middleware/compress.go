package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

const (
	encodingBrotli = "br"
	encodingGzip   = "gzip"
)

var (
	gzipPool = sync.Pool{New: func() interface{} { return gzip.NewWriter(io.Discard) }}
	brPool   = sync.Pool{New: func() interface{} { return brotli.NewWriterLevel(io.Discard, brotli.DefaultCompression) }}
)

// compressWriter defers choosing the encoder until the first body byte,
// so bodiless responses (204, 304, HEAD) go out untouched.
type compressWriter struct {
	http.ResponseWriter
	encoding    string
	enc         io.WriteCloser
	wroteHeader bool
	passthrough bool
}

func (w *compressWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	if status == http.StatusNoContent || status == http.StatusNotModified || status < 200 {
		w.passthrough = true
	} else {
		w.start()
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *compressWriter) start() {
	h := w.Header()
	if h.Get("Content-Encoding") != "" {
		w.passthrough = true
		return
	}
	h.Set("Content-Encoding", w.encoding)
	h.Del("Content-Length") // Length will change after compression

	switch w.encoding {
	case encodingBrotli:
		bw := brPool.Get().(*brotli.Writer)
		bw.Reset(w.ResponseWriter)
		w.enc = bw
	default:
		gz := gzipPool.Get().(*gzip.Writer)
		gz.Reset(w.ResponseWriter)
		w.enc = gz
	}
}

func (w *compressWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.passthrough || w.enc == nil {
		return w.ResponseWriter.Write(b)
	}
	return w.enc.Write(b)
}

func (w *compressWriter) close() {
	if w.enc == nil {
		return
	}
	_ = w.enc.Close()
	switch enc := w.enc.(type) {
	case *brotli.Writer:
		enc.Reset(io.Discard)
		brPool.Put(enc)
	case *gzip.Writer:
		enc.Reset(io.Discard)
		gzipPool.Put(enc)
	}
	w.enc = nil
}

// negotiateEncoding picks brotli over gzip when the client accepts both.
func negotiateEncoding(acceptEncoding string) string {
	var gz bool
	for _, part := range strings.Split(acceptEncoding, ",") {
		name := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		switch strings.ToLower(name) {
		case encodingBrotli:
			return encodingBrotli
		case encodingGzip:
			gz = true
		}
	}
	if gz {
		return encodingGzip
	}
	return ""
}

// Compress returns a middleware that compresses responses with brotli or
// gzip, depending on the client's Accept-Encoding. WebSocket upgrades and
// HEAD requests are passed through.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
		if encoding == "" || r.Method == http.MethodHead || r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressWriter{ResponseWriter: w, encoding: encoding}
		defer cw.close()
		next.ServeHTTP(cw, r)
	})
}
