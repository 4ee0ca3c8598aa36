package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

// FetchStates returns the current state of every entity using the REST API.
// It does not need a websocket connection.
func (c *Client) FetchStates(ctx context.Context) (types.States, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/states", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch states: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("failed to fetch states: status %d: %s", resp.StatusCode, body)
	}

	var entities []entityState
	if err := json.NewDecoder(resp.Body).Decode(&entities); err != nil {
		return nil, fmt.Errorf("failed to decode states: %w", err)
	}
	return toStates(entities), nil
}
