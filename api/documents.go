package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	docchat "github.com/maomaowang214/doc-chat"
)

// Document is a row of the document table.
type Document struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	Suffix   string `json:"suffix"`
	Vector   string `json:"vector"`
	Date     string `json:"date"`
}

// DocumentUpload is the multipart body of an add or update. ID is only sent
// on update.
type DocumentUpload struct {
	ID       string
	Name     string
	FileName string
	Content  io.Reader
}

func (u DocumentUpload) form() *docchat.FormData {
	fd := docchat.NewFormData()
	if u.ID != "" {
		fd.Set("id", u.ID)
	}
	if u.Name != "" {
		fd.Set("name", u.Name)
	}
	if u.Content != nil {
		fd.AddFile("file", u.FileName, u.Content)
	}
	return fd
}

// Vectorization states reported by the backend.
const (
	VectorIdle        = "idle"
	VectorLoading     = "loading"
	VectorSplitting   = "splitting"
	VectorVectorizing = "vectorizing"
	VectorCompleted   = "completed"
	VectorError       = "error"
	VectorTimeout     = "timeout"
)

// VectorProgress is a snapshot of the vectorization job.
type VectorProgress struct {
	Status       string  `json:"status"`
	Current      int     `json:"current"`
	Total        int     `json:"total"`
	Message      string  `json:"message"`
	Error        *string `json:"error"`
	Elapsed      float64 `json:"elapsed"`
	BatchCurrent int     `json:"batch_current"`
	BatchTotal   int     `json:"batch_total"`
	Progress     float64 `json:"progress"`
}

// Finished reports whether the job reached a final state.
func (p VectorProgress) Finished() bool {
	switch p.Status {
	case VectorCompleted, VectorError, VectorTimeout:
		return true
	}
	return false
}

// ErrVectorStreamClosed is returned when the progress stream ends before a
// final state.
var ErrVectorStreamClosed = errors.New("api: vector progress stream closed")

func (a *API) DocumentPage(ctx context.Context, params PageParams) (Page[Document], error) {
	return get[Page[Document]](ctx, a, "/documents/page", params.values())
}

func (a *API) AddDocument(ctx context.Context, upload DocumentUpload) (string, error) {
	return post[string](ctx, a, "/documents/add", upload.form())
}

func (a *API) UpdateDocument(ctx context.Context, upload DocumentUpload) (string, error) {
	return put[string](ctx, a, "/documents/update", upload.form())
}

func (a *API) DeleteDocument(ctx context.Context, id string) (string, error) {
	return del[string](ctx, a, "/documents/delete", idBody{ID: id})
}

// DownloadDocument fetches the stored file.
func (a *API) DownloadDocument(ctx context.Context, id string) (*Download, error) {
	resp, err := a.client.Get(ctx, "/documents/read/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	return download(resp), nil
}

// VectorizeAll runs the blocking vectorization of every document.
func (a *API) VectorizeAll(ctx context.Context) (string, error) {
	return get[string](ctx, a, "/documents/vector-all", nil)
}

func (a *API) VectorProgress(ctx context.Context) (VectorProgress, error) {
	return get[VectorProgress](ctx, a, "/documents/vector-progress", nil)
}

// WatchVectorProgress starts vectorization and reports every progress event
// until a final state. Undecodable events are skipped.
func (a *API) WatchVectorProgress(ctx context.Context, onProgress func(VectorProgress)) (VectorProgress, error) {
	var last VectorProgress
	finished := false

	_, err := a.client.Request(ctx, "/documents/vector-all-stream", &docchat.RequestConfig{
		Method: http.MethodGet,
		Silent: true,
		OnBody: func(ctx context.Context, body io.Reader) error {
			br := bufio.NewReader(body)
			for {
				line, err := br.ReadBytes('\n')
				if len(line) > 0 {
					if p, ok := parseProgress(line); ok {
						last = p
						if onProgress != nil {
							onProgress(p)
						}
						if p.Finished() {
							finished = true
							return nil
						}
					}
				}
				if err != nil {
					if err == io.EOF {
						return ErrVectorStreamClosed
					}
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		},
	})
	if err != nil {
		return last, err
	}
	if !finished {
		return last, ErrVectorStreamClosed
	}
	return last, nil
}

func parseProgress(line []byte) (VectorProgress, bool) {
	line = bytes.TrimRight(line, "\r\n")
	data, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return VectorProgress{}, false
	}
	var p VectorProgress
	if err := json.Unmarshal(bytes.TrimSpace(data), &p); err != nil {
		return VectorProgress{}, false
	}
	return p, true
}
