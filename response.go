package docchat

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

// BodyKind tells how a response body was consumed.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyJSON
	BodyText
	BodyBlob
	BodyForm
	BodyStream
)

const maxFormMemory = 32 << 20

// Response is threaded through the response interceptors. Config is the
// resolved request configuration. For streamed responses Stream holds the
// decoder summary and Body is empty.
type Response struct {
	StatusCode int
	Header     http.Header
	Config     *RequestConfig
	Kind       BodyKind
	Body       []byte
	Form       *multipart.Form
	Stream     *StreamSummary

	raw *http.Response
}

// Raw returns the underlying *http.Response. Its body has been consumed.
func (r *Response) Raw() *http.Response {
	return r.raw
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Decode unmarshals a JSON body into v.
func (r *Response) Decode(v any) error {
	if r == nil {
		return errors.New("docchat: nil response")
	}
	if len(r.Body) == 0 {
		return errors.New("docchat: empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

func (r *Response) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// readBody consumes the raw body according to its content type.
func (r *Response) readBody() error {
	body := r.raw.Body
	if body == nil || body == http.NoBody {
		r.Kind = BodyNone
		return nil
	}
	defer body.Close()

	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, ContentTypeMultipart):
		_, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			return err
		}
		form, err := multipart.NewReader(body, params["boundary"]).ReadForm(maxFormMemory)
		if err != nil {
			return err
		}
		r.Kind = BodyForm
		r.Form = form
		return nil
	case strings.Contains(contentType, ContentTypeJSON):
		r.Kind = BodyJSON
	case strings.HasPrefix(contentType, "text/"):
		r.Kind = BodyText
	case strings.Contains(contentType, "image/"), strings.Contains(contentType, "application/octet-stream"):
		r.Kind = BodyBlob
	default:
		r.Kind = BodyText
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	r.Body = data
	return nil
}

// errorBody is the shape of a failed response body, either the application
// envelope or a framework error detail.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail"`
}

// httpError consumes a non-2xx body and builds the rejection for it.
func (r *Response) httpError() *Error {
	code := r.StatusCode
	message := ""
	if r.raw.Body != nil {
		data, _ := io.ReadAll(io.LimitReader(r.raw.Body, 64<<10))
		r.raw.Body.Close()

		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			if eb.Code != 0 {
				code = eb.Code
			}
			message = eb.Message
			if s, ok := eb.Detail.(string); ok && message == "" {
				message = s
			}
		}
	}

	e := newError(ErrorTypeHTTP, code, message, nil)
	e.StatusCode = r.StatusCode
	return e
}
