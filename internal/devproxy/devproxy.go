// Package devproxy serves the local development gateway: it forwards API
// prefixes to backend targets without buffering, so chat streams reach the
// browser token by token.
package devproxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maomaowang214/doc-chat/internal/config"
)

const requestIDHeader = "X-Request-Id"

// Options configures the router. Gatherer, when set, is served at
// MetricsPath.
type Options struct {
	Rules       []config.ProxyRule
	Logger      *slog.Logger
	Gatherer    prometheus.Gatherer
	MetricsPath string
}

type route struct {
	rule  config.ProxyRule
	proxy *httputil.ReverseProxy
}

// NewRouter builds the gateway. Rules are matched longest prefix first.
func NewRouter(opts Options) (*gin.Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	routes := make([]route, 0, len(opts.Rules))
	for _, rule := range opts.Rules {
		target, err := url.Parse(rule.Target)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("proxy rule %s: invalid target %q", rule.Prefix, rule.Target)
		}
		routes = append(routes, route{rule: rule, proxy: newReverseProxy(rule, target, logger)})
	}
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].rule.Prefix) > len(routes[j].rule.Prefix)
	})

	r := gin.New()
	r.Use(requestIDMiddleware())
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	r.NoRoute(func(c *gin.Context) {
		for _, rt := range routes {
			if matchPrefix(c.Request.URL.Path, rt.rule.Prefix) {
				c.Set("proxy.prefix", rt.rule.Prefix)
				rt.proxy.ServeHTTP(c.Writer, c.Request)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "no proxy rule for " + c.Request.URL.Path})
	})

	return r, nil
}

func matchPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}

func newReverseProxy(rule config.ProxyRule, target *url.URL, logger *slog.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if rule.StripPrefix {
				pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, rule.Prefix)
				pr.Out.URL.RawPath = ""
				if pr.Out.URL.Path == "" {
					pr.Out.URL.Path = "/"
				}
			}
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host
		},
		// flush every write: chat answers are streamed
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			if req.Context().Err() != nil {
				return
			}
			logger.Warn("proxy upstream failed", "prefix", rule.Prefix, "target", rule.Target, "path", req.URL.Path, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"code":502,"message":"bad gateway"}`))
		},
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
			c.Request.Header.Set(requestIDHeader, id)
		}
		c.Header(requestIDHeader, id)
		c.Set(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"request_id", c.GetString(requestIDHeader),
		}
		if v, ok := c.Get("proxy.prefix"); ok {
			attrs = append(attrs, "prefix", v)
		}
		logger.Info("request", attrs...)
	}
}
