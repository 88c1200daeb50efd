package api

import (
	"context"
	"strings"

	"github.com/pigeon9001/pigeon/internal/httputil"
)

// Client queries a running station.
type Client struct {
	BaseURL string
	HTTP    httputil.Doer
}

// NewClient returns a client for the station at baseURL, for example
// http://localhost:3000.
func NewClient(baseURL string, doer httputil.Doer) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: doer}
}

// Kinds fetches the measurement kinds the station knows.
func (c *Client) Kinds(ctx context.Context) ([]KindInfo, error) {
	var kinds []KindInfo
	if err := httputil.GetJSON(ctx, c.HTTP, c.BaseURL+"/api/kinds", &kinds); err != nil {
		return nil, err
	}
	return kinds, nil
}

// State fetches the live state.
func (c *Client) State(ctx context.Context) (StateResponse, error) {
	var state StateResponse
	err := httputil.GetJSON(ctx, c.HTTP, c.BaseURL+"/api/state", &state)
	return state, err
}
