// Package api wraps the doc-QA backend endpoints on top of the docchat
// request pipeline. Every JSON response is an Envelope; a non-success
// envelope code becomes a *docchat.Error of type ErrorTypeApplication.
package api

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"time"

	docchat "github.com/maomaowang214/doc-chat"
)

// Envelope is the application response wrapper.
type Envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Page is a paginated list.
type Page[T any] struct {
	PageNum  int `json:"page_num"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
	List     []T `json:"list"`
}

// PageParams selects a page and optional filters.
type PageParams struct {
	PageNum  int
	PageSize int
	Filters  map[string]string
}

func (p PageParams) values() url.Values {
	v := url.Values{}
	pageNum, pageSize := p.PageNum, p.PageSize
	if pageNum <= 0 {
		pageNum = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	v.Set("page_num", fmt.Sprint(pageNum))
	v.Set("page_size", fmt.Sprint(pageSize))
	for k, f := range p.Filters {
		if f != "" {
			v.Set(k, f)
		}
	}
	return v
}

// Download is a binary response body.
type Download struct {
	Data        []byte
	ContentType string
	Filename    string
}

// API groups the backend endpoints.
type API struct {
	client *docchat.Client
}

// New returns an API backed by client.
func New(client *docchat.Client) *API {
	return &API{client: client}
}

// Client returns the underlying pipeline.
func (a *API) Client() *docchat.Client {
	return a.client
}

// decode unwraps the envelope of a JSON response. Non-success codes are
// translated and reported unless the request was silent.
func decode[T any](a *API, resp *docchat.Response) (T, error) {
	var env Envelope[T]
	if err := resp.Decode(&env); err != nil {
		var zero T
		return zero, &docchat.Error{
			Type:       docchat.ErrorTypeApplication,
			Code:       http.StatusInternalServerError,
			Message:    "malformed response envelope",
			Cause:      err,
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
		}
	}
	if env.Code != 0 && env.Code != docchat.CodeSuccess {
		silent := resp.Config != nil && resp.Config.Silent
		status := a.client.Check(env.Code, env.Message, !silent)
		var zero T
		return zero, &docchat.Error{
			Type:       docchat.ErrorTypeApplication,
			Code:       status.Code,
			Message:    status.Message,
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
		}
	}
	return env.Data, nil
}

func get[T any](ctx context.Context, a *API, path string, params url.Values) (T, error) {
	resp, err := a.client.Get(ctx, path, params, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](a, resp)
}

func post[T any](ctx context.Context, a *API, path string, data any) (T, error) {
	resp, err := a.client.Post(ctx, path, data, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](a, resp)
}

func put[T any](ctx context.Context, a *API, path string, data any) (T, error) {
	resp, err := a.client.Put(ctx, path, data, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](a, resp)
}

func del[T any](ctx context.Context, a *API, path string, data any) (T, error) {
	resp, err := a.client.Delete(ctx, path, data, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](a, resp)
}

func download(resp *docchat.Response) *Download {
	d := &Download{
		Data:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			d.Filename = params["filename"]
		}
	}
	return d
}

type idBody struct {
	ID string `json:"id"`
}
