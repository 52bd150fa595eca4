// Package devicememory talks to the emulator memory bridge over its
// local HTTP API. It carries no knowledge of what the bytes mean; the
// address table (items.go) supplies that from data.
package devicememory

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is an HTTP client for the memory bridge.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// ReadBytes reads length bytes starting at addr.
func (c *Client) ReadBytes(ctx context.Context, addr uint32, length int) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/api/memory?addr=%d&len=%d", c.baseURL, addr, length)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, categorize("read", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, categorize("read", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, categorize("read", err)
	}

	var result struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, categorize("read", err)
	}

	data, err := base64.StdEncoding.DecodeString(result.Data)
	if err != nil {
		return nil, categorize("read", fmt.Errorf("invalid payload encoding: %w", err))
	}
	if len(data) != length {
		return nil, categorize("read", fmt.Errorf("short read: got %d bytes, want %d", len(data), length))
	}
	return data, nil
}

// WriteBytes writes data starting at addr.
func (c *Client) WriteBytes(ctx context.Context, addr uint32, data []byte) error {
	body, err := json.Marshal(map[string]any{
		"addr": addr,
		"data": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return categorize("write", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/memory", bytes.NewReader(body))
	if err != nil {
		return categorize("write", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return categorize("write", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return categorize("write", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusConflict {
		// ブリッジはコア未接続のとき409を返す
		return fmt.Errorf("%w: %s", ErrNoDeviceSelected, string(msg))
	}
	return fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, string(msg))
}
