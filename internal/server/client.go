package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running linedex server.
type Client struct {
	http    *http.Client
	baseURL string
	msgpack bool
}

// NewClient creates a client for the given base URL (e.g. http://localhost:8000).
func NewClient(baseURL string) *Client {
	return NewClientWithHTTP(http.DefaultClient, baseURL)
}

// NewClientWithHTTP creates a client using a custom HTTP client.
func NewClientWithHTTP(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// UseMsgpack switches response negotiation from JSON to msgpack.
func (c *Client) UseMsgpack(on bool) *Client {
	c.msgpack = on
	return c
}

// Meta fetches the line count and bucket index.
func (c *Client) Meta(ctx context.Context) (Meta, error) {
	var m Meta
	err := c.get(ctx, "/api/meta", nil, &m)
	return m, err
}

// Lines fetches up to limit lines starting at start.
func (c *Client) Lines(ctx context.Context, start, limit int) ([]string, error) {
	q := url.Values{}
	q.Set("start", strconv.Itoa(start))
	q.Set("limit", strconv.Itoa(limit))
	var lines []string
	if err := c.get(ctx, "/api/lines", q, &lines); err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if c.msgpack {
		req.Header.Set("Accept", contentTypeMsgpack)
	} else {
		req.Header.Set("Accept", contentTypeJSON)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var body errorBody
		if err := decodeBody(resp, &body); err != nil || body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}
	if err := decodeBody(resp, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

var errUnsupportedContentType = errors.New("unsupported content type")

func decodeBody(resp *http.Response, out any) error {
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mt {
	case contentTypeMsgpack:
		return msgpack.NewDecoder(resp.Body).Decode(out)
	case contentTypeJSON:
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return fmt.Errorf("%w: %q", errUnsupportedContentType, mt)
}
