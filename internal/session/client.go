package session

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// restClient is a thin wrapper around http.Client for the session endpoints.
// It only knows how to issue a request and hand back the status and body;
// interpreting status codes belongs to the Acquirer.
type restClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func newRESTClient(baseURL string, timeout time.Duration) *restClient {
	return &restClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		headers: make(map[string]string),
	}
}

func (c *restClient) setHeader(key, value string) {
	c.headers[key] = value
}

// post issues a POST and returns the status code and raw body. A non-nil
// error means the request never completed (connection, timeout, context).
func (c *restClient) post(ctx context.Context, endpoint string, body []byte, bearer string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, responseBody, nil
}
