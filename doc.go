// Package docchat is the HTTP layer of a document question-answering chat
// client. Every call goes through one pipeline:
//
//   - Duplicate guard: a newer request with the same method and URL cancels
//     the older one still in flight
//   - Request and response interceptor chains with promise-style error routing
//   - Streaming decoder for NDJSON chat deltas (and legacy "data: " lines)
//   - Status translation of transport and application codes into messages
//   - Prometheus metrics and optional structured debug logging
//
// Typical usage:
//
//	client := docchat.New(
//	    docchat.WithBaseURL("http://localhost:8000/api"),
//	    docchat.WithTimeout(30*time.Second),
//	)
//	summary, err := client.PostStream(ctx, "/chat", req, nil, func(token string) error {
//	    fmt.Print(token)
//	    return nil
//	})
//
// Cancellations are not failures: check docchat.IsCanceled(err) before
// reporting an error to the user.
package docchat
