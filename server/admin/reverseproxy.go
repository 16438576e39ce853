package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/andydunstall/gossamer/pkg/log"
)

type contextKey int

const (
	addrContextKey contextKey = iota
)

// forwarder forwards admin requests to the admin server of another node.
//
// The target admin address is read from the request context.
type forwarder struct {
	proxy *httputil.ReverseProxy

	timeout time.Duration

	logger log.Logger
}

func newForwarder(timeout time.Duration, logger log.Logger) *forwarder {
	f := &forwarder{
		timeout: timeout,
		logger:  logger,
	}

	f.proxy = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.Out.URL.Scheme = "http"
			r.Out.URL.Host = r.In.Context().Value(addrContextKey).(string)

			// Remove the forward query to avoid forwarding again.
			query := r.Out.URL.Query()
			query.Del("forward")
			r.Out.URL.RawQuery = query.Encode()
		},
		ErrorLog:     logger.StdLogger(zapcore.WarnLevel),
		ErrorHandler: f.errorHandler,
	}

	return f
}

func (f *forwarder) Forward(w http.ResponseWriter, r *http.Request, addr string) {
	ctx, cancel := context.WithTimeout(r.Context(), f.timeout)
	defer cancel()

	ctx = context.WithValue(ctx, addrContextKey, addr)
	f.proxy.ServeHTTP(w, r.WithContext(ctx))
}

func (f *forwarder) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	f.logger.Warn(
		"forward request",
		zap.String("addr", r.Context().Value(addrContextKey).(string)),
		zap.Error(err),
	)

	if errors.Is(err, context.DeadlineExceeded) {
		_ = errorResponse(w, http.StatusGatewayTimeout, "node timeout")
		return
	}
	_ = errorResponse(w, http.StatusBadGateway, "node unreachable")
}

type errorMessage struct {
	Error string `json:"error"`
}

func errorResponse(w http.ResponseWriter, statusCode int, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)

	m := &errorMessage{
		Error: message,
	}
	return json.NewEncoder(w).Encode(m)
}
