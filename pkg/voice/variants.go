package voice

import (
	"encoding/json"
	"time"
)

// jsonBehavior is the plain request/response variant: one command frame up,
// one JSON chunk down.
type jsonBehavior struct {
	ep      string
	params  any
	onChunk func(ResponseChunk)
}

func (b *jsonBehavior) endpoint() string           { return b.ep }
func (b *jsonBehavior) uploadParams() (any, error) { return b.params, nil }

func (b *jsonBehavior) handleChunk(chunk ResponseChunk) {
	if b.onChunk != nil && !chunk.IsBinary() {
		b.onChunk(chunk)
	}
}

func (b *jsonBehavior) isTerminal(ResponseChunk) bool { return true }

// NewJSONRequest creates a single-shot command request. onChunk, if not nil,
// observes the response chunk on the transport goroutine before completion.
func NewJSONRequest(endpoint string, params any, onChunk func(ResponseChunk), d *Dispatcher, timeout time.Duration) *Request {
	return newRequest(&jsonBehavior{ep: endpoint, params: params, onChunk: onChunk}, d, timeout)
}

// messageBehavior is the multi-chunk variant: one command up, a sequence of
// JSON chunks down, terminated by the end flag.
type messageBehavior struct {
	jsonBehavior
}

func (b *messageBehavior) isTerminal(chunk ResponseChunk) bool { return chunk.End }

// NewMessageRequest creates a multi-chunk message request. onChunk observes
// every chunk in arrival order.
func NewMessageRequest(params any, onChunk func(ResponseChunk), d *Dispatcher, timeout time.Duration) *Request {
	return newRequest(&messageBehavior{jsonBehavior{ep: endpointMessage, params: params, onChunk: onChunk}}, d, timeout)
}

// AuthRequest exchanges a token for a server session.
type AuthRequest struct {
	*Request
	session string
}

type authResponse struct {
	Session string `json:"session"`
}

// NewAuthRequest creates the auth handshake request.
func NewAuthRequest(token string, d *Dispatcher, timeout time.Duration) *AuthRequest {
	ar := &AuthRequest{}
	ar.Request = newRequest(&jsonBehavior{
		ep:     endpointAuth,
		params: map[string]string{"token": token},
		onChunk: func(chunk ResponseChunk) {
			var resp authResponse
			if err := json.Unmarshal(chunk.Raw, &resp); err != nil {
				logger.Warn("malformed auth response", "error", err)
				return
			}
			ar.session = resp.Session
		},
	}, d, timeout)
	return ar
}

// Session returns the server-assigned session id, once complete.
func (r *AuthRequest) Session() string { return r.session }

// newSubscribeRequest creates the wire request for a topic subscription or
// unsubscription. Used by the ConnectionManager's topic bookkeeping.
func newSubscribeRequest(topic string, unsubscribe bool, d *Dispatcher, timeout time.Duration) *Request {
	ep := endpointSubscribe
	if unsubscribe {
		ep = endpointUnsubscribe
	}
	return newRequest(&jsonBehavior{ep: ep, params: map[string]string{"topic": topic}}, d, timeout)
}
