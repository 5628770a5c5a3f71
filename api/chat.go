package api

import (
	"context"
	"net/url"

	docchat "github.com/maomaowang214/doc-chat"
)

const chatPath = "/chat"

// ChatMessage is the user turn sent to the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest starts a streamed answer.
type ChatRequest struct {
	Model         string      `json:"model,omitempty"`
	Stream        bool        `json:"stream"`
	Messages      ChatMessage `json:"messages"`
	ChatSessionID string      `json:"chat_session_id,omitempty"`
	UseKnowledge  bool        `json:"use_knowledge"`
}

// HistoryMessage is one stored chat turn.
type HistoryMessage struct {
	ID            string `json:"id"`
	Role          string `json:"role"`
	Content       string `json:"content"`
	Think         string `json:"think"`
	ChatSessionID string `json:"chat_session_id"`
	Date          string `json:"date"`
}

// Chat streams the answer to req into onStream. A newer Chat call cancels
// this one.
func (a *API) Chat(ctx context.Context, req ChatRequest, onReady docchat.OnReady, onStream docchat.OnStream) (*docchat.StreamSummary, error) {
	req.Stream = true
	return a.client.PostStream(ctx, chatPath, req, onReady, onStream)
}

// ChatHistory returns the stored turns of a session.
func (a *API) ChatHistory(ctx context.Context, sessionID string) ([]HistoryMessage, error) {
	return get[[]HistoryMessage](ctx, a, chatPath+"/history", url.Values{"id": {sessionID}})
}

// CancelChat aborts every in-flight chat request.
func (a *API) CancelChat() int {
	return a.client.CancelRequest(chatPath)
}
