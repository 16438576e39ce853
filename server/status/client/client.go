package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	fspath "path"
	"time"
)

// Client queries the admin status API of a server node.
type Client struct {
	httpClient *http.Client

	url *url.URL

	forward string
}

func NewClient(url *url.URL) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Second * 15,
		},
		url: url,
	}
}

func (c *Client) SetURL(url *url.URL) {
	c.url = url
}

// SetForward sets the ID of the node to forward requests to.
func (c *Client) SetForward(forward string) {
	c.forward = forward
}

func (c *Client) Request(path string) (io.ReadCloser, error) {
	url := new(url.URL)
	*url = *c.url

	if c.forward != "" {
		query := url.Query()
		query.Set("forward", c.forward)
		url.RawQuery = query.Encode()
	}

	url.Path = fspath.Join(url.Path, path)

	req, err := http.NewRequest(http.MethodGet, url.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		var m errorMessage
		if err := json.NewDecoder(resp.Body).Decode(&m); err == nil && m.Error != "" {
			return nil, fmt.Errorf("request: bad status: %d: %s", resp.StatusCode, m.Error)
		}
		return nil, fmt.Errorf("request: bad status: %d", resp.StatusCode)
	}

	return resp.Body, nil
}

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

type errorMessage struct {
	Error string `json:"error"`
}
