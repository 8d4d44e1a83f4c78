package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stratusworks/fsmux/stats"
)

// Client provides methods for interacting with the diagnostics API of a
// running agent. It handles request construction and response parsing.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the diagnostics API.
//
// Parameters:
//   - baseURL: The base URL of the diagnostics API (e.g., "http://localhost:8080")
//   - timeout: Request timeout duration (optional, default 30 seconds)
//
// Returns:
//   - Configured Client instance
func NewClient(baseURL string, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// Liveness queries the liveness endpoint.
//
// Returns:
//   - Status string (normally "alive") and the agent's build version
//   - Error if the request fails
func (c *Client) Liveness() (string, string, error) {
	url := fmt.Sprintf("%s/livez", c.baseURL)

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return "", "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("liveness request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("liveness request failed with code %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", fmt.Errorf("failed to parse liveness response: %w", err)
	}

	return result.Status, result.Version, nil
}

// Ready reports whether the agent currently accepts work.
//
// Returns:
//   - true when the readiness endpoint answers 200, false when it answers 503
//   - Error for any other outcome
func (c *Client) Ready() (bool, error) {
	url := fmt.Sprintf("%s/readyz", c.baseURL)

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("readiness request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusServiceUnavailable:
		return false, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("readiness request failed with code %d: %s", resp.StatusCode, string(body))
	}
}

// Stats fetches the per-scheme transfer counters.
//
// Returns:
//   - One snapshot per registered backend scheme, sorted by scheme
//   - Error if the request fails
func (c *Client) Stats() ([]stats.Snapshot, error) {
	url := fmt.Sprintf("%s/api/v1/stats", c.baseURL)

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stats request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("stats request failed with code %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Backends []stats.Snapshot `json:"backends"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse stats response: %w", err)
	}

	return result.Backends, nil
}

// Reset zeroes the byte counters of every backend scheme. Operation counters
// are left running.
//
// Returns:
//   - The schemes whose counters were reset
//   - Error if the request fails
func (c *Client) Reset() ([]string, error) {
	url := fmt.Sprintf("%s/api/v1/reset", c.baseURL)

	req, err := http.NewRequest("POST", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reset request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reset request failed with code %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Message string   `json:"message"`
		Schemes []string `json:"schemes"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse reset response: %w", err)
	}

	return result.Schemes, nil
}

// Drain asks the agent to stop reporting ready and, once its drain window
// has passed, to close all cached backend handles.
//
// Returns:
//   - The reported state: "draining", or "already draining" when a drain
//     was requested earlier
//   - Error if the request fails
func (c *Client) Drain() (string, error) {
	return c.postStatus("/api/v1/drain", "drain")
}

// Undrain marks the agent ready again after a drain.
//
// Returns:
//   - The reported state: "ready", or "already ready" when no drain was
//     in progress
//   - Error if the request fails
func (c *Client) Undrain() (string, error) {
	return c.postStatus("/api/v1/undrain", "undrain")
}

func (c *Client) postStatus(path, op string) (string, error) {
	url := fmt.Sprintf("%s%s", c.baseURL, path)

	req, err := http.NewRequest("POST", url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%s request failed with code %d: %s", op, resp.StatusCode, string(body))
	}

	var result struct {
		Status string `json:"status"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse %s response: %w", op, err)
	}

	return result.Status, nil
}

// WaitUntilReady polls the readiness endpoint until the agent reports ready.
//
// Parameters:
//   - timeout: Maximum duration to wait
//   - interval: Polling interval
//
// Returns:
//   - Error if waiting times out or a poll fails
func (c *Client) WaitUntilReady(timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		ready, err := c.Ready()
		if err != nil {
			return fmt.Errorf("failed to get readiness: %w", err)
		}

		if ready {
			return nil
		}

		time.Sleep(interval)
	}

	return fmt.Errorf("timeout waiting for the agent to become ready")
}
