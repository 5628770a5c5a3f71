package api

import (
	"context"
	"io"
	"net/url"

	docchat "github.com/maomaowang214/doc-chat"
)

// RagTest is a generated question set for a document.
type RagTest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DocID     string `json:"doc_id"`
	DocName   string `json:"doc_name"`
	Questions int    `json:"questions"`
	Status    string `json:"status"`
	Date      string `json:"date"`
}

// RagTestPage is the page shape of the rag-test endpoint, which uses
// camelCase paging fields.
type RagTestPage struct {
	PageNum  int       `json:"pageNum"`
	PageSize int       `json:"pageSize"`
	Total    int       `json:"total"`
	List     []RagTest `json:"list"`
}

// RagTestUpload is the multipart body of a generate request.
type RagTestUpload struct {
	Name     string
	DocID    string
	FileName string
	Content  io.Reader
}

// TaskStatus is the state of a background generation task.
type TaskStatus struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	Message     string  `json:"message"`
	ResultFile  string  `json:"resultFile,omitempty"`
	CreatedAt   string  `json:"createdAt"`
	CompletedAt string  `json:"completedAt,omitempty"`
	Error       string  `json:"error,omitempty"`
}

const ragTestPath = "/rag-test"

func (a *API) RagTestPage(ctx context.Context, params PageParams) (RagTestPage, error) {
	return get[RagTestPage](ctx, a, ragTestPath+"/page", params.values())
}

// GenerateRagTest uploads a document and returns the generation task id.
func (a *API) GenerateRagTest(ctx context.Context, upload RagTestUpload) (string, error) {
	fd := docchat.NewFormData()
	if upload.Name != "" {
		fd.Set("name", upload.Name)
	}
	if upload.DocID != "" {
		fd.Set("doc_id", upload.DocID)
	}
	if upload.Content != nil {
		fd.AddFile("file", upload.FileName, upload.Content)
	}
	return post[string](ctx, a, ragTestPath+"/generate", fd)
}

func (a *API) DeleteRagTest(ctx context.Context, id string) (string, error) {
	return del[string](ctx, a, ragTestPath+"/delete", idBody{ID: id})
}

// ExportRagTest downloads the question set of id.
func (a *API) ExportRagTest(ctx context.Context, id string) (*Download, error) {
	resp, err := a.client.Post(ctx, ragTestPath+"/export", idBody{ID: id}, nil)
	if err != nil {
		return nil, err
	}
	return download(resp), nil
}

func (a *API) RagTestTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	return get[TaskStatus](ctx, a, ragTestPath+"/task/"+url.PathEscape(taskID), nil)
}
