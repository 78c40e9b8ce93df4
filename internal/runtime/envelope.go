package runtime

import (
	"fmt"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/base64x"
)

// BodyBase64 marks an envelope body holding standard base64 of raw bytes.
// Bodies that are valid UTF-8 travel as plain strings with no encoding.
const BodyBase64 = "base64"

// HTTPRequest is what http_handler receives
type HTTPRequest struct {
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	Query        string            `json:"query"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body"`
	BodyEncoding string            `json:"body_encoding,omitempty"`
}

// SetBody stores b so it survives any JSON decoder on the guest side
func (r *HTTPRequest) SetBody(b []byte) {
	if utf8.Valid(b) {
		r.Body, r.BodyEncoding = string(b), ""
		return
	}
	r.Body, r.BodyEncoding = base64x.StdEncoding.EncodeToString(b), BodyBase64
}

// HTTPResponse is what http_handler must return
type HTTPResponse struct {
	Status       int               `json:"status"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body"`
	BodyEncoding string            `json:"body_encoding,omitempty"`

	payload []byte
}

// Payload returns the decoded response body
func (r *HTTPResponse) Payload() []byte {
	return r.payload
}

// EncodeHTTPRequest serializes a request envelope
func EncodeHTTPRequest(req HTTPRequest) ([]byte, error) {
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	data, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode http envelope: %w", err)
	}
	return data, nil
}

// DecodeHTTPResponse validates a handler's response envelope
func DecodeHTTPResponse(data []byte) (*HTTPResponse, error) {
	var resp HTTPResponse
	if err := sonic.Unmarshal(data, &resp); err != nil {
		return nil, malformed("undecodable http response: %v", err)
	}
	if resp.Status < 100 || resp.Status > 599 {
		return nil, malformed("http status %d", resp.Status)
	}
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}

	switch resp.BodyEncoding {
	case "":
		resp.payload = []byte(resp.Body)
	case BodyBase64:
		payload, err := base64x.StdEncoding.DecodeString(resp.Body)
		if err != nil {
			return nil, malformed("undecodable base64 body: %v", err)
		}
		resp.payload = payload
	default:
		return nil, malformed("unknown body encoding %q", resp.BodyEncoding)
	}
	return &resp, nil
}
