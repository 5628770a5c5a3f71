package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docchat "github.com/maomaowang214/doc-chat"
)

type notices struct {
	mu     sync.Mutex
	errors []string
	infos  []string
}

func (n *notices) Info(m string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, m)
}

func (n *notices) Error(m string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, m)
}

func writeEnvelope(w http.ResponseWriter, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message, "data": data})
}

func newTestAPI(t *testing.T, mux *http.ServeMux) (*API, *notices) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	n := &notices{}
	client := docchat.New(docchat.WithBaseURL(srv.URL+"/api"), docchat.WithNotifier(n))
	require.True(t, client.IsValid())
	return New(client), n
}

func TestListSessions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/session/list", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 200, "ok", []Session{{ID: "s1", Title: "First"}, {ID: "s2", Title: "Second"}})
	})
	a, _ := newTestAPI(t, mux)

	sessions, err := a.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "Second", sessions[1].Title)
}

func TestEnvelopeErrorCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/add", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 500, "title too long", nil)
	})
	a, n := newTestAPI(t, mux)

	_, err := a.AddSession(context.Background(), SessionRequest{Title: strings.Repeat("x", 500)})
	require.Error(t, err)

	var e *docchat.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, docchat.ErrorTypeApplication, e.Type)
	assert.Equal(t, 500, e.Code)
	assert.Equal(t, docchat.StatusMessage(500)+" title too long", e.Message)
	assert.Len(t, n.errors, 1)
}

func TestDeleteSessionSendsJSONBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/session/delete", func(w http.ResponseWriter, r *http.Request) {
		var body idBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "s9", body.ID)
		writeEnvelope(w, 200, "ok", "deleted")
	})
	a, _ := newTestAPI(t, mux)

	msg, err := a.DeleteSession(context.Background(), "s9")
	require.NoError(t, err)
	assert.Equal(t, "deleted", msg)
}

func TestChatHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chat/history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s1", r.URL.Query().Get("id"))
		writeEnvelope(w, 200, "ok", []HistoryMessage{{ID: "m1", Role: "user", Content: "hi", ChatSessionID: "s1"}})
	})
	a, _ := newTestAPI(t, mux)

	msgs, err := a.ChatHistory(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestChatStreamsAndCancels(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "what is RAG?", req.Messages.Content)

		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"message":{"content":"Retrieval"},"done":false}`)
		flusher.Flush()
		if req.ChatSessionID == "slow" {
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		fmt.Fprintln(w, `{"message":{"content":"-augmented"},"done":true}`)
	})
	a, n := newTestAPI(t, mux)
	defer close(release)

	var sb strings.Builder
	summary, err := a.Chat(context.Background(), ChatRequest{Messages: ChatMessage{Role: "user", Content: "what is RAG?"}}, nil,
		func(tok string) error {
			sb.WriteString(tok)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "Retrieval-augmented", sb.String())
	assert.True(t, summary.Terminated)

	ready := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		_, err := a.Chat(context.Background(), ChatRequest{ChatSessionID: "slow", Messages: ChatMessage{Role: "user", Content: "what is RAG?"}}, nil,
			func(string) error {
				close(ready)
				return nil
			})
		errc <- err
	}()
	<-ready
	assert.Equal(t, 1, a.CancelChat())

	select {
	case err := <-errc:
		assert.True(t, docchat.IsCanceled(err), "err = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("chat was not cancelled")
	}
	assert.Empty(t, n.errors)
}

func TestDocumentPageParams(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/documents/page", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "1", q.Get("page_num"))
		assert.Equal(t, "10", q.Get("page_size"))
		assert.Equal(t, "manual", q.Get("name"))
		assert.False(t, q.Has("id"))
		writeEnvelope(w, 200, "ok", Page[Document]{PageNum: 1, PageSize: 10, Total: 1, List: []Document{{ID: "d1", Name: "manual"}}})
	})
	a, _ := newTestAPI(t, mux)

	page, err := a.DocumentPage(context.Background(), PageParams{Filters: map[string]string{"name": "manual", "id": ""}})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "d1", page.List[0].ID)
}

func TestAddDocumentMultipart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/documents/add", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Handbook", r.FormValue("name"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "handbook.pdf", hdr.Filename)
		assert.Equal(t, "%PDF", string(b))
		writeEnvelope(w, 200, "ok", "uploaded")
	})
	a, _ := newTestAPI(t, mux)

	msg, err := a.AddDocument(context.Background(), DocumentUpload{Name: "Handbook", FileName: "handbook.pdf", Content: strings.NewReader("%PDF")})
	require.NoError(t, err)
	assert.Equal(t, "uploaded", msg)
}

func TestDownloadDocument(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/documents/read/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "d1", r.PathValue("id"))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="guide.pdf"`)
		_, _ = w.Write([]byte{0x25, 0x50})
	})
	a, _ := newTestAPI(t, mux)

	d, err := a.DownloadDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "guide.pdf", d.Filename)
	assert.Equal(t, []byte{0x25, 0x50}, d.Data)
}

func TestWatchVectorProgress(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/documents/vector-all-stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, p := range []VectorProgress{
			{Status: VectorLoading, Total: 3},
			{Status: VectorVectorizing, Current: 2, Total: 3, Progress: 66.6},
			{Status: VectorCompleted, Current: 3, Total: 3, Progress: 100},
			{Status: VectorIdle},
		} {
			b, _ := json.Marshal(p)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
	})
	a, _ := newTestAPI(t, mux)

	var seen []string
	last, err := a.WatchVectorProgress(context.Background(), func(p VectorProgress) {
		seen = append(seen, p.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{VectorLoading, VectorVectorizing, VectorCompleted}, seen)
	assert.Equal(t, 100.0, last.Progress)
}

func TestWatchVectorProgressClosedEarly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/documents/vector-all-stream", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"status\":\"splitting\"}\n\ndata: garbage\n\n")
	})
	a, n := newTestAPI(t, mux)

	last, err := a.WatchVectorProgress(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVectorStreamClosed)
	assert.Equal(t, VectorSplitting, last.Status)
	assert.Empty(t, n.errors, "progress watch is silent")
}

func TestModelConfigEndpoints(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	record := func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if strings.Contains(r.URL.Path, "/list") {
			writeEnvelope(w, 200, "ok", []ModelConfig{{ID: "e1", ConfigType: ConfigTypeEmbedding}})
			return
		}
		writeEnvelope(w, 200, "ok", ModelConfig{ID: "m1", ConfigType: ConfigTypeChat, IsActive: true})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/model-config/", record)
	a, _ := newTestAPI(t, mux)
	ctx := context.Background()

	list, err := a.ListModelConfigsByType(ctx, ConfigTypeEmbedding)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ConfigTypeEmbedding, list[0].ConfigType)

	active := true
	_, err = a.AddModelConfig(ctx, ModelConfigInput{ConfigType: ConfigTypeChat, ModelName: "qwen", IsActive: &active})
	require.NoError(t, err)
	_, err = a.UpdateModelConfig(ctx, "m1", ModelConfigInput{Remark: "x"})
	require.NoError(t, err)
	cfg, err := a.SetActiveModelConfig(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, cfg.IsActive)
	_, err = a.DeleteModelConfig(ctx, "m1")
	require.NoError(t, err)
	_, err = a.InitDefaultModelConfigs(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"GET /api/model-config/list/embedding",
		"POST /api/model-config/add",
		"PUT /api/model-config/update/m1",
		"PUT /api/model-config/set-active/m1",
		"DELETE /api/model-config/delete/m1",
		"POST /api/model-config/init-default",
	}, calls)
}

func TestRagTestEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/rag-test/page", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page_num"))
		writeEnvelope(w, 200, "ok", RagTestPage{PageNum: 2, Total: 11, List: []RagTest{{ID: "r1", Questions: 20}}})
	})
	mux.HandleFunc("POST /api/rag-test/generate", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "d1", r.FormValue("doc_id"))
		writeEnvelope(w, 200, "ok", "task-7")
	})
	mux.HandleFunc("POST /api/rag-test/export", func(w http.ResponseWriter, r *http.Request) {
		var body idBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r1", body.ID)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("xlsx"))
	})
	mux.HandleFunc("GET /api/rag-test/task/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 200, "ok", TaskStatus{ID: r.PathValue("id"), Status: "processing", Progress: 40})
	})
	a, _ := newTestAPI(t, mux)
	ctx := context.Background()

	page, err := a.RagTestPage(ctx, PageParams{PageNum: 2})
	require.NoError(t, err)
	assert.Equal(t, 11, page.Total)
	assert.Equal(t, 20, page.List[0].Questions)

	taskID, err := a.GenerateRagTest(ctx, RagTestUpload{DocID: "d1", FileName: "q.txt", Content: strings.NewReader("q")})
	require.NoError(t, err)
	assert.Equal(t, "task-7", taskID)

	d, err := a.ExportRagTest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "xlsx", string(d.Data))

	st, err := a.RagTestTaskStatus(ctx, "task-7")
	require.NoError(t, err)
	assert.Equal(t, "task-7", st.ID)
	assert.Equal(t, 40.0, st.Progress)
}
