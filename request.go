package docchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Content types understood by the body encoder.
const (
	ContentTypeJSON      = "application/json"
	ContentTypeForm      = "application/x-www-form-urlencoded"
	ContentTypeMultipart = "multipart/form-data"
	ContentTypeText      = "text/plain"
)

// RequestConfig is threaded through the request interceptors. After the
// request phase URL is fully resolved (base + path + query) and Body holds
// Data serialized for the Content-Type header.
type RequestConfig struct {
	Method  string
	BaseURL string
	URL     string
	Params  url.Values
	Data    any
	Body    []byte
	Header  http.Header
	Timeout time.Duration

	// AllowDuplicate skips the pending registry: the request neither cancels
	// nor can be cancelled by another request with the same key.
	AllowDuplicate bool
	// Silent suppresses user notifications for this request's failures.
	Silent bool

	OnReady  OnReady
	OnStream OnStream
	// OnBody consumes a streamed body directly, for streams that are not
	// chat deltas. It takes precedence over OnStream.
	OnBody func(ctx context.Context, body io.Reader) error

	ctx       context.Context
	token     *Token
	key       string
	requestID string
}

// Streaming reports whether the response is consumed by the stream decoder.
func (c *RequestConfig) Streaming() bool {
	return c != nil && (c.OnStream != nil || c.OnBody != nil)
}

// Context returns the context the transport call runs under.
func (c *RequestConfig) Context() context.Context {
	if c == nil || c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Key returns the pending-registry key of the request.
func (c *RequestConfig) Key() string {
	return c.key
}

// RequestID returns the debug request id, if one was generated.
func (c *RequestConfig) RequestID() string {
	return c.requestID
}

func (c *RequestConfig) clone() *RequestConfig {
	out := *c
	out.Header = c.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if c.Params != nil {
		out.Params = make(url.Values, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = append([]string(nil), v...)
		}
	}
	return &out
}

// FormData is a multipart body: plain fields plus file parts.
type FormData struct {
	fields []formField
	files  []formFile
}

type formField struct {
	name, value string
}

type formFile struct {
	field, filename string
	content         io.Reader
}

// NewFormData returns an empty multipart body.
func NewFormData() *FormData {
	return &FormData{}
}

// Set adds a plain field.
func (f *FormData) Set(name, value string) *FormData {
	f.fields = append(f.fields, formField{name: name, value: value})
	return f
}

// AddFile adds a file part read from content.
func (f *FormData) AddFile(field, filename string, content io.Reader) *FormData {
	f.files = append(f.files, formFile{field: field, filename: filename, content: content})
	return f
}

func (f *FormData) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, field := range f.fields {
		if err := w.WriteField(field.name, field.value); err != nil {
			return nil, "", err
		}
	}
	for _, file := range f.files {
		part, err := w.CreateFormFile(file.field, file.filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, file.content); err != nil {
			return nil, "", fmt.Errorf("read form file %q: %w", file.filename, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// resolveURL prepends base unless path is already absolute.
func resolveURL(base, path string) string {
	if base != "" && !strings.HasPrefix(path, "http") {
		return base + path
	}
	return path
}

// withQuery appends the serialized params to u.
func withQuery(u string, params url.Values) string {
	if len(params) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + params.Encode()
}

// encodeBody serializes cfg.Data according to the Content-Type header and
// stores the result in cfg.Body.
func encodeBody(cfg *RequestConfig) error {
	if cfg.Data == nil {
		return nil
	}
	contentType := cfg.Header.Get("Content-Type")

	switch data := cfg.Data.(type) {
	case *FormData:
		body, ct, err := data.encode()
		if err != nil {
			return err
		}
		cfg.Body = body
		cfg.Header.Set("Content-Type", ct)
		return nil
	case io.Reader:
		body, err := io.ReadAll(data)
		if err != nil {
			return err
		}
		cfg.Body = body
		return nil
	case []byte:
		cfg.Body = data
		return nil
	}

	switch {
	case strings.Contains(contentType, ContentTypeForm):
		values, err := formValues(cfg.Data)
		if err != nil {
			return err
		}
		cfg.Body = []byte(values.Encode())
	case strings.HasPrefix(contentType, "text/"):
		switch v := cfg.Data.(type) {
		case string:
			cfg.Body = []byte(v)
		default:
			cfg.Body = []byte(fmt.Sprint(v))
		}
	default:
		body, err := json.Marshal(cfg.Data)
		if err != nil {
			return fmt.Errorf("encode json body: %w", err)
		}
		cfg.Body = body
		if contentType == "" {
			cfg.Header.Set("Content-Type", ContentTypeJSON)
		}
	}
	return nil
}

func formValues(data any) (url.Values, error) {
	switch v := data.(type) {
	case url.Values:
		return v, nil
	case map[string]string:
		values := url.Values{}
		for k, s := range v {
			values.Set(k, s)
		}
		return values, nil
	default:
		return nil, fmt.Errorf("cannot encode %T as %s", data, ContentTypeForm)
	}
}

// endpointOf returns host+path for metric labels.
func endpointOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u == nil {
		return "unknown"
	}

	var builder strings.Builder
	builder.WriteString(u.Host)
	if u.Path != "" && u.Path != "/" {
		builder.WriteString(u.Path)
	} else {
		builder.WriteByte('/')
	}
	return builder.String()
}
