package voice

import "encoding/json"

// The socket protocol wraps every upload in a {"data": {<endpoint>: ...}}
// envelope addressed by requestId. Responses carry a code/error pair, an
// "end" flag marking stream termination, and endpoint-specific fields.
// Audio bytes travel as separate binary frames, in order, attributed to the
// speech request most recently addressed by a JSON chunk.

// Well-known endpoints
const (
	endpointAuth        = "auth"
	endpointSynthesize  = "synthesize"
	endpointTranscribe  = "transcribe"
	endpointMessage     = "message"
	endpointSubscribe   = "subscribe"
	endpointUnsubscribe = "unsubscribe"
	endpointAbort       = "abort"
	endpointAudio       = "audio"
)

// Response codes
const (
	codeOK = "ok"
)

// Event types carried in the "type" field of a response chunk
const (
	eventReadyForAudio = "ready_for_audio"
)

// uploadEnvelope is the outer frame for every upload.
type uploadEnvelope struct {
	RequestID string         `json:"requestId"`
	Data      map[string]any `json:"data"`
}

// encodeUpload builds the JSON frame for one endpoint command.
func encodeUpload(requestID, endpoint string, params any) ([]byte, error) {
	return json.Marshal(uploadEnvelope{
		RequestID: requestID,
		Data:      map[string]any{endpoint: params},
	})
}

// encodeAbort builds the best-effort abort control frame.
func encodeAbort(requestID, reason string) []byte {
	frame, _ := encodeUpload(requestID, endpointAbort, map[string]string{"reason": reason})
	return frame
}

// encodeAudioEnd builds the end-marker closing a request's audio channel.
func encodeAudioEnd(requestID string) []byte {
	frame, _ := encodeUpload(requestID, endpointAudio, map[string]bool{"end": true})
	return frame
}

// ResponseChunk is one inbound frame, either parsed JSON or binary audio.
type ResponseChunk struct {
	// RequestID correlates the chunk to an in-flight request
	RequestID string `json:"requestId"`

	// Code is the server status, typically "ok"
	Code string `json:"code"`

	// Error is non-empty when the server reports a failure
	Error string `json:"error"`

	// End marks the terminal chunk of the stream
	End bool `json:"end"`

	// Type names an event, e.g. "ready_for_audio"
	Type string `json:"type"`

	// SampleTotal announces the full clip length when the server knows it
	SampleTotal int `json:"sampleTotal"`

	// Raw is the full JSON payload for endpoint-specific fields
	Raw json.RawMessage `json:"-"`

	// Binary carries audio bytes; nil for JSON chunks
	Binary []byte `json:"-"`
}

// parseResponseChunk decodes a JSON frame into a ResponseChunk, preserving
// the raw payload for variant-specific handling.
func parseResponseChunk(data []byte) (ResponseChunk, error) {
	var chunk ResponseChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return ResponseChunk{}, NewVoiceError(ErrorCodeDecode, "malformed response chunk", err)
	}
	chunk.Raw = json.RawMessage(data)
	return chunk, nil
}

// IsBinary reports whether the chunk carries audio bytes.
func (c ResponseChunk) IsBinary() bool {
	return c.Binary != nil
}
