package docchat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Client is the request orchestrator: it resolves the request, runs the
// request interceptors, performs the call, and runs the response
// interceptors, decoding streamed bodies token by token. At most one request
// per method+URL is in flight; a newer one cancels the older. It is safe for
// concurrent use.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	header          http.Header
	timeout         time.Duration
	streamTimeout   time.Duration
	streamBuffer    int
	limiter         *rate.Limiter
	pending         *PendingRegistry
	requestStages   *InterceptorManager[*RequestConfig]
	responseStages  *InterceptorManager[*Response]
	translator      Translator
	metrics         *MetricsCollector
	debug           *DebugConfig
	logger          Logger
	validationError error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient:     &http.Client{},
		header:         http.Header{"Content-Type": {ContentTypeJSON}, "User-Agent": {UserAgent()}},
		timeout:        30 * time.Second,
		streamTimeout:  0,
		streamBuffer:   defaultStreamBuffer,
		pending:        NewPendingRegistry(),
		requestStages:  NewInterceptorManager[*RequestConfig](),
		responseStages: NewInterceptorManager[*Response](),
		debug:          DefaultDebugConfig(),
		logger:         nil,
	}

	for _, option := range options {
		option(client)
	}

	client.pending.onEvict = client.onEvict

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// RequestInterceptors returns the user request stages; they run after the
// built-in stage that registers the request and sets stream headers.
func (c *Client) RequestInterceptors() *InterceptorManager[*RequestConfig] {
	return c.requestStages
}

// ResponseInterceptors returns the user response stages; they run after the
// built-in stages that decode the body and translate errors.
func (c *Client) ResponseInterceptors() *InterceptorManager[*Response] {
	return c.responseStages
}

// Pending exposes the duplicate-request registry.
func (c *Client) Pending() *PendingRegistry {
	return c.pending
}

// CancelRequest cancels every in-flight request whose key contains one of
// the given URL fragments.
func (c *Client) CancelRequest(fragments ...string) int {
	return c.pending.CancelByPrefix(fragments...)
}

// CancelAll cancels every in-flight request.
func (c *Client) CancelAll() int {
	return c.pending.CancelAll()
}

// Get performs a GET with query params.
func (c *Client) Get(ctx context.Context, path string, params url.Values, cfg *RequestConfig) (*Response, error) {
	cfg = orEmpty(cfg)
	cfg.Method = http.MethodGet
	cfg.Params = params
	return c.Request(ctx, path, cfg)
}

// Post performs a POST with data serialized per Content-Type.
func (c *Client) Post(ctx context.Context, path string, data any, cfg *RequestConfig) (*Response, error) {
	cfg = orEmpty(cfg)
	cfg.Method = http.MethodPost
	cfg.Data = data
	return c.Request(ctx, path, cfg)
}

// Put performs a PUT with data serialized per Content-Type.
func (c *Client) Put(ctx context.Context, path string, data any, cfg *RequestConfig) (*Response, error) {
	cfg = orEmpty(cfg)
	cfg.Method = http.MethodPut
	cfg.Data = data
	return c.Request(ctx, path, cfg)
}

// Delete performs a DELETE; data, when set, is sent as the body.
func (c *Client) Delete(ctx context.Context, path string, data any, cfg *RequestConfig) (*Response, error) {
	cfg = orEmpty(cfg)
	cfg.Method = http.MethodDelete
	cfg.Data = data
	return c.Request(ctx, path, cfg)
}

// PostStream posts data and streams the response body into onStream. It
// returns once a terminal event or end of stream is seen.
func (c *Client) PostStream(ctx context.Context, path string, data any, onReady OnReady, onStream OnStream) (*StreamSummary, error) {
	resp, err := c.Request(ctx, path, &RequestConfig{
		Method:   http.MethodPost,
		Data:     data,
		OnReady:  onReady,
		OnStream: onStream,
	})
	if err != nil {
		return nil, err
	}
	return resp.Stream, nil
}

// Request runs one request through the pipeline. The returned error is
// always an *Error once the pipeline has started.
func (c *Client) Request(ctx context.Context, rawURL string, config *RequestConfig) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	cfg := c.mergeConfig(config)
	base := resolveURL(cfg.BaseURL, rawURL)
	cfg.URL = withQuery(base, cfg.Params)
	cfg.key = RequestKey(cfg.Method, base)
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		cfg.requestID = c.debug.RequestIDGen()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = c.timeout
		if cfg.Streaming() {
			timeout = c.streamTimeout
		}
	}
	var cancel context.CancelFunc = func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()
	cfg.ctx = ctx

	method, endpoint := cfg.Method, endpointOf(cfg.URL)
	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting request", "requestID", cfg.requestID, "method", cfg.Method, "url", cfg.URL, "stream", cfg.Streaming())
	}
	c.metrics.RecordRequestStart(method, endpoint)

	prepErr := encodeBody(cfg)

	var token *Token
	defer func() {
		if token != nil {
			token.Release()
		}
	}()

	requestPhase := NewInterceptorManager[*RequestConfig]()
	requestPhase.Use(c.registerStage(&token))
	next, err := runInterceptors(ctx, []*InterceptorManager[*RequestConfig]{requestPhase, c.requestStages}, cfg, prepErr)

	var resp *Response
	if e := (*Error)(nil); err != nil && !errors.As(err, &e) {
		err = newError(ErrorTypeRequest, 400, err.Error(), err)
	}
	if err == nil {
		if next == nil {
			err = newError(ErrorTypeRequest, 400, "request interceptor returned no config", nil)
		} else {
			cfg = next
			resp, err = c.transport(cfg)
		}
	}

	responsePhase := NewInterceptorManager[*Response]()
	responsePhase.Use(c.decodeStage(cfg, endpoint))
	responsePhase.Use(c.settleStage(cfg, &token, endpoint, start))
	resp, err = runInterceptors(ctx, []*InterceptorManager[*Response]{responsePhase, c.responseStages}, resp, err)
	if resp == nil && err == nil {
		err = newError(ErrorTypeRequest, 400, "response interceptor returned no response", nil)
	}

	c.metrics.RecordRequestEnd(method, endpoint)
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	} else if e := (*Error)(nil); errors.As(err, &e) {
		statusCode = e.StatusCode
	}
	c.metrics.RecordRequest(method, endpoint, statusCode, time.Since(start))

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// registerStage is the built-in request stage: it registers the request in
// the pending registry and adds the stream headers.
func (c *Client) registerStage(token **Token) Interceptor[*RequestConfig] {
	return Interceptor[*RequestConfig]{
		OnFulfilled: func(_ context.Context, cfg *RequestConfig) (*RequestConfig, error) {
			if !cfg.AllowDuplicate {
				t := c.pending.Register(cfg.ctx, cfg.key)
				*token = t
				cfg.token = t
				cfg.ctx = t.Context()
			}
			if cfg.Streaming() {
				cfg.Header.Set("Accept", "text/event-stream")
				cfg.Header.Set("Cache-Control", "no-cache")
			}
			return cfg, nil
		},
		OnRejected: func(_ context.Context, err error) (*RequestConfig, error) {
			var e *Error
			if errors.As(err, &e) {
				return nil, e
			}
			return nil, newError(ErrorTypeRequest, 400, err.Error(), err)
		},
	}
}

func (c *Client) transport(cfg *RequestConfig) (*Response, error) {
	ctx := cfg.Context()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, classifyTransportError(ctxErr)
			}
			return nil, newError(ErrorTypeTransport, 429, "rate limit exceeded", err)
		}
	}

	var body io.Reader
	if cfg.Body != nil {
		body = bytes.NewReader(cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, body)
	if err != nil {
		return nil, newError(ErrorTypeRequest, 400, err.Error(), err)
	}
	req.Header = cfg.Header.Clone()

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, classifyTransportError(ctxErr)
		}
		return nil, classifyTransportError(err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Config:     cfg,
		raw:        httpResp,
	}, nil
}

// decodeStage is the first built-in response stage: non-2xx responses become
// errors, streamed responses go to the decoder, others are read by content type.
func (c *Client) decodeStage(cfg *RequestConfig, endpoint string) Interceptor[*Response] {
	return Interceptor[*Response]{
		OnFulfilled: func(_ context.Context, resp *Response) (*Response, error) {
			if !resp.ok() {
				return nil, resp.httpError()
			}
			if resp.Config != nil && resp.Config.Streaming() {
				rc := resp.Config
				var ready func()
				if rc.OnReady != nil {
					ready = func() { rc.OnReady(resp.raw) }
				}
				if rc.OnBody != nil {
					return c.consumeBody(rc, resp, ready)
				}
				decoder := &StreamDecoder{
					OnReady:    ready,
					Logger:     c.logger,
					Metrics:    c.metrics,
					Endpoint:   endpoint,
					BufferSize: c.streamBuffer,
					Verbose:    c.debug != nil && c.debug.Enabled && c.debug.LogStream,
				}
				summary, err := decoder.Decode(rc.Context(), resp.raw.Body, rc.OnStream)
				if err != nil {
					return nil, err
				}
				resp.Kind = BodyStream
				resp.Stream = summary
				return resp, nil
			}
			if err := resp.readBody(); err != nil {
				if ctxErr := cfg.Context().Err(); ctxErr != nil {
					return nil, classifyTransportError(ctxErr)
				}
				return nil, newError(ErrorTypeTransport, 400, "read response body", err)
			}
			return resp, nil
		},
		OnRejected: func(_ context.Context, err error) (*Response, error) {
			var e *Error
			if errors.As(err, &e) {
				return nil, e
			}
			return nil, newError(ErrorTypeTransport, 400, err.Error(), err)
		},
	}
}

func (c *Client) consumeBody(cfg *RequestConfig, resp *Response, ready func()) (*Response, error) {
	body := resp.raw.Body
	if body == nil || body == http.NoBody {
		return nil, newError(ErrorTypeStream, CodeNoStreamBody, StatusMessage(CodeNoStreamBody), ErrNoStreamBody)
	}
	defer body.Close()
	if ready != nil {
		ready()
	}

	ctx := cfg.Context()
	if err := cfg.OnBody(ctx, body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, classifyTransportError(ctxErr)
		}
		var e *Error
		if errors.As(err, &e) {
			return nil, e
		}
		return nil, newError(ErrorTypeStream, http.StatusInternalServerError, err.Error(), err)
	}
	resp.Kind = BodyStream
	resp.Stream = &StreamSummary{Code: http.StatusOK, Message: streamCompleteMessage, Terminated: true}
	return resp, nil
}

// settleStage is the second built-in response stage: it releases the
// pending token on both paths and translates failures.
func (c *Client) settleStage(cfg *RequestConfig, token **Token, endpoint string, start time.Time) Interceptor[*Response] {
	release := func() {
		if *token != nil {
			(*token).Release()
			*token = nil
		}
	}
	return Interceptor[*Response]{
		OnFulfilled: func(_ context.Context, resp *Response) (*Response, error) {
			release()
			if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
				c.logger.Debug("Request completed", "requestID", cfg.requestID, "status", resp.StatusCode, "duration", time.Since(start))
			}
			return resp, nil
		},
		OnRejected: func(_ context.Context, err error) (*Response, error) {
			release()

			var e *Error
			if !errors.As(err, &e) {
				e = newError(ErrorTypeTransport, 400, err.Error(), err)
			}
			extra := e.Message
			if extra == StatusMessage(e.Code) {
				extra = ""
			}
			status := c.translator.Check(e.Code, extra, !cfg.Silent)
			e.Code = status.Code
			e.Message = status.Message
			e.RequestID = cfg.requestID
			e.Method = cfg.Method
			e.URL = cfg.URL
			e.Duration = time.Since(start)

			c.metrics.RecordError(e.Type, cfg.Method, endpoint)
			if IsCancelCode(e.Code) {
				if c.debug != nil && c.debug.Enabled && c.debug.LogCancel && c.logger != nil {
					c.logger.Debug("Request canceled", "requestID", cfg.requestID, "key", cfg.key)
				}
			} else if c.logger != nil {
				c.logger.Warn("Request failed", "requestID", cfg.requestID, "method", cfg.Method, "url", cfg.URL, "code", e.Code, "error", e.Message)
			}
			return nil, e
		},
	}
}

func (c *Client) mergeConfig(config *RequestConfig) *RequestConfig {
	var cfg *RequestConfig
	if config == nil {
		cfg = &RequestConfig{Header: http.Header{}}
	} else {
		cfg = config.clone()
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = c.baseURL
	}
	for k, v := range c.header {
		if _, set := cfg.Header[k]; !set {
			cfg.Header[k] = append([]string(nil), v...)
		}
	}
	return cfg
}

func (c *Client) onEvict(key, reason string) {
	c.metrics.RecordCancellation(reason)
	if c.debug != nil && c.debug.Enabled && c.debug.LogCancel && c.logger != nil {
		c.logger.Debug("Pending request cancelled", "key", key, "reason", reason)
	}
}

// Check translates code through the client's status translator, notifying
// when alert is set.
func (c *Client) Check(code int, extra string, alert bool) Status {
	return c.translator.Check(code, extra, alert)
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// orEmpty returns a copy of cfg the helpers can fill in without touching the
// caller's config.
func orEmpty(cfg *RequestConfig) *RequestConfig {
	if cfg == nil {
		return &RequestConfig{}
	}
	return cfg.clone()
}
