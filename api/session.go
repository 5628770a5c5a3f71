package api

import "context"

// Session is a chat session.
type Session struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Date     string           `json:"date"`
	Messages []SessionMessage `json:"messages,omitempty"`
}

// SessionMessage is a message preview stored with a session.
type SessionMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// SessionRequest creates or updates a session.
type SessionRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	Date  string `json:"date,omitempty"`
}

func (a *API) ListSessions(ctx context.Context) ([]Session, error) {
	return get[[]Session](ctx, a, "/session/list", nil)
}

func (a *API) AddSession(ctx context.Context, req SessionRequest) (Session, error) {
	return post[Session](ctx, a, "/session/add", req)
}

func (a *API) UpdateSession(ctx context.Context, req SessionRequest) (Session, error) {
	return put[Session](ctx, a, "/session/update", req)
}

// DeleteSession deletes a session; the id travels in the JSON body.
func (a *API) DeleteSession(ctx context.Context, id string) (string, error) {
	return del[string](ctx, a, "/session/delete", idBody{ID: id})
}
