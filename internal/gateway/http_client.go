package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type HTTPClient struct {
	baseURL string
	token   string
	sender  string
	client  *http.Client
}

func NewHTTPClient(baseURL, token, sender string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		sender:  sender,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type sendRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

func (c *HTTPClient) SendMessage(ctx context.Context, recipient, payload string) (string, error) {
	reqBody, err := json.Marshal(sendRequest{
		To:   recipient,
		From: c.sender,
		Body: payload,
	})
	if err != nil {
		return "", err
	}

	body, err := c.do(ctx, http.MethodPost, "/v1/messages", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("gateway: failed to decode json: %w body=%q", err, string(body))
	}
	if sr.MessageID == "" {
		return "", fmt.Errorf("gateway: missing messageId in response body=%q", string(body))
	}
	return sr.MessageID, nil
}

type templatesResponse struct {
	Templates []Template `json:"templates"`
}

func (c *HTTPClient) Templates(ctx context.Context) ([]Template, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/templates", "", nil)
	if err != nil {
		return nil, err
	}

	var tr templatesResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("gateway: failed to decode json: %w body=%q", err, string(body))
	}
	return tr.Templates, nil
}

type uploadResponse struct {
	MediaID string `json:"mediaId"`
}

func (c *HTTPClient) UploadMedia(ctx context.Context, contentType string, data []byte) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/v1/media", contentType, bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	var ur uploadResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return "", fmt.Errorf("gateway: failed to decode json: %w body=%q", err, string(body))
	}
	if ur.MediaID == "" {
		return "", fmt.Errorf("gateway: missing mediaId in response body=%q", string(body))
	}
	return ur.MediaID, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, contentType string, reqBody io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return nil, &Error{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
