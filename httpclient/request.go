package httpclient

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

// Request describes an outbound HTTP request.
type Request struct {
	// Method is the HTTP method (GET, POST, PUT, PATCH, DELETE, etc).
	Method string
	// Path is appended to the client's BaseURL. Can be a full URL if BaseURL is empty.
	Path string
	// Headers are request-specific headers (merged with client defaults).
	Headers map[string]string
	// Query are URL query parameters.
	Query map[string]string
	// Body is the request body. Accepts io.Reader, []byte, string, or any value
	// that will be JSON-encoded. Readers are consumed once and replayed on retries.
	Body any
}

// Response is the result of an HTTP request.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Headers are the response headers.
	Headers map[string]string
	// Body is the raw response body.
	Body []byte
	// RequestID is the X-Request-ID sent with the request.
	RequestID string
}

// IsSuccess returns true if the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError returns true if the status code is 4xx or 5xx.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// payload is an encoded request body that can be sent any number of times.
type payload struct {
	data        []byte
	contentType string
}

func (p *payload) reader() io.Reader {
	if p == nil {
		return nil
	}
	return bytes.NewReader(p.data)
}

// encodeBody converts a body value into a replayable payload.
func encodeBody(body any) (*payload, error) {
	if body == nil {
		return nil, nil
	}
	switch v := body.(type) {
	case io.Reader:
		data, err := io.ReadAll(v)
		if err != nil {
			return nil, err
		}
		return &payload{data: data}, nil
	case []byte:
		return &payload{data: v}, nil
	case string:
		return &payload{data: []byte(v), contentType: "text/plain"}, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return &payload{data: data, contentType: "application/json"}, nil
	}
}

// resolveURL joins path onto base unless path is already absolute.
func resolveURL(base, path string) string {
	if base == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
