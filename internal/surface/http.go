package surface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPBridge drives a surface through a sidecar bridge process that owns
// the actual rendering session. Every operation is one POST carrying the
// op name and its arguments; the bridge answers with the result or an
// error string.
type HTTPBridge struct {
	baseURL string
	client  *http.Client
}

func NewHTTPBridge(baseURL string) *HTTPBridge {
	return &HTTPBridge{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type bridgeRequest struct {
	Op       string `json:"op"`
	Selector string `json:"selector"`
	Index    int    `json:"index,omitempty"`
	Text     string `json:"text,omitempty"`
}

type bridgeResponse struct {
	Count int    `json:"count"`
	Text  string `json:"text"`
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (b *HTTPBridge) Count(ctx context.Context, selector string) (int, error) {
	resp, err := b.do(ctx, bridgeRequest{Op: "count", Selector: selector})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (b *HTTPBridge) Activate(ctx context.Context, selector string, index int) error {
	_, err := b.do(ctx, bridgeRequest{Op: "activate", Selector: selector, Index: index})
	return err
}

func (b *HTTPBridge) Focus(ctx context.Context, selector string) error {
	_, err := b.do(ctx, bridgeRequest{Op: "focus", Selector: selector})
	return err
}

func (b *HTTPBridge) SetText(ctx context.Context, selector string, text string) error {
	_, err := b.do(ctx, bridgeRequest{Op: "set_text", Selector: selector, Text: text})
	return err
}

func (b *HTTPBridge) ReadText(ctx context.Context, selector string) (string, error) {
	resp, err := b.do(ctx, bridgeRequest{Op: "read_text", Selector: selector})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (b *HTTPBridge) IsEnabled(ctx context.Context, selector string) (bool, error) {
	resp, err := b.do(ctx, bridgeRequest{Op: "is_enabled", Selector: selector})
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (b *HTTPBridge) IsVisible(ctx context.Context, selector string) (bool, error) {
	resp, err := b.do(ctx, bridgeRequest{Op: "is_visible", Selector: selector})
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (b *HTTPBridge) Trigger(ctx context.Context, selector string) error {
	_, err := b.do(ctx, bridgeRequest{Op: "trigger", Selector: selector})
	return err
}

func (b *HTTPBridge) do(ctx context.Context, breq bridgeRequest) (bridgeResponse, error) {
	body, err := json.Marshal(breq)
	if err != nil {
		return bridgeResponse{}, fmt.Errorf("failed to encode bridge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/op", bytes.NewReader(body))
	if err != nil {
		return bridgeResponse{}, fmt.Errorf("failed to build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := b.client.Do(req)
	if err != nil {
		return bridgeResponse{}, fmt.Errorf("bridge %s failed: %w", breq.Op, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return bridgeResponse{}, fmt.Errorf("failed to read bridge response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return bridgeResponse{}, fmt.Errorf("bridge %s returned status %d", breq.Op, httpResp.StatusCode)
	}

	var resp bridgeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return bridgeResponse{}, fmt.Errorf("failed to decode bridge response: %w", err)
	}
	if resp.Error != "" {
		return bridgeResponse{}, fmt.Errorf("bridge %s: %s", breq.Op, resp.Error)
	}

	return resp, nil
}
