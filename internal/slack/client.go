package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the Slack Web API with a bot token. It covers the three
// calls the relay needs: posting threaded messages, resolving a file ID to
// its download URL, and downloading the file itself.
type Client struct {
	baseURL  string
	botToken string
	client   *http.Client
}

// NewClient creates a new Client. baseURL defaults to the public Slack API.
func NewClient(baseURL, botToken string) *Client {
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &Client{
		baseURL:  baseURL,
		botToken: botToken,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// apiResponse is the common Slack envelope.
type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Text     string `json:"text"`
}

// PostMessage posts text into a channel, threaded under threadTS when set.
func (c *Client) PostMessage(ctx context.Context, channel, threadTS, text string) error {
	reqBody := postMessageRequest{
		Channel:  channel,
		ThreadTS: threadTS,
		Text:     text,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/chat.postMessage", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling slack API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("slack API error: %s", apiResp.Error)
	}

	return nil
}

type fileInfoResponse struct {
	apiResponse
	File struct {
		ID                 string `json:"id"`
		Name               string `json:"name"`
		URLPrivateDownload string `json:"url_private_download"`
	} `json:"file"`
}

// FetchFile resolves a file ID via files.info and downloads its bytes with
// the bot token.
func (c *Client) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	form := url.Values{}
	form.Set("file", fileID)

	endpoint := fmt.Sprintf("%s/files.info?%s", c.baseURL, form.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling slack API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("slack API error (status %d): %s", resp.StatusCode, string(body))
	}

	var infoResp fileInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&infoResp); err != nil {
		return nil, fmt.Errorf("decoding file info: %w", err)
	}
	if !infoResp.OK {
		return nil, fmt.Errorf("slack API error: %s", infoResp.Error)
	}
	if infoResp.File.URLPrivateDownload == "" {
		return nil, fmt.Errorf("file %s has no download URL", fileID)
	}

	return c.download(ctx, infoResp.File.URLPrivateDownload)
}

// download fetches a private Slack URL using the bot token for auth.
func (c *Client) download(ctx context.Context, downloadURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("slack download error (status %d): %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading file data: %w", err)
	}
	return data, nil
}
