// Package marketplace provides a client for the plugin marketplace API.
// It looks up the latest published version of a plugin and uploads new
// distributions to a release channel.
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultChannel is the stable release channel.
const DefaultChannel = "default"

var ErrNoToken = errors.New("marketplace token is not set")

// Client interfaces with the marketplace API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Update is one published plugin version
type Update struct {
	ID      int64  `json:"id"`
	Version string `json:"version"`
	Channel string `json:"channel"`
}

// NewClient creates a new marketplace API client
func NewClient(host, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(host, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// LatestVersion returns the newest version published to channel,
// or "" when the plugin has never been published there.
func (c *Client) LatestVersion(ctx context.Context, pluginID, channel string) (string, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	q := url.Values{}
	q.Set("channel", channel)
	q.Set("size", "1")

	endpoint := fmt.Sprintf("%s/api/plugins/%s/updates?%s", c.baseURL, url.PathEscape(pluginID), q.Encode())
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach marketplace: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("failed to list updates: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var updates []Update
	if err := json.NewDecoder(resp.Body).Decode(&updates); err != nil {
		return "", fmt.Errorf("failed to parse updates response: %w", err)
	}
	if len(updates) == 0 {
		return "", nil
	}
	return updates[0].Version, nil
}

// Upload publishes a distribution to channel
func (c *Client) Upload(ctx context.Context, pluginID, channel, artifact string) error {
	if c.token == "" {
		return ErrNoToken
	}
	if channel == "" {
		channel = DefaultChannel
	}

	f, err := os.Open(artifact)
	if err != nil {
		return err
	}
	defer f.Close()

	// Stream the archive instead of buffering it.
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := writeUpload(writer, pluginID, channel, filepath.Base(artifact), f)
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/plugin/uploadPlugin", pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", filepath.Base(artifact), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("failed to upload plugin: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return nil
}

func writeUpload(w *multipart.Writer, pluginID, channel, name string, r io.Reader) error {
	if err := w.WriteField("xmlId", pluginID); err != nil {
		return err
	}
	if err := w.WriteField("channel", channel); err != nil {
		return err
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return w.Close()
}
