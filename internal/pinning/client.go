// Package pinning provides the HTTP client for the Pinata pinning
// service: pin (upload), paginated listing, and unpin. All server-side
// credentials live here; nothing else talks to Pinata directly.
package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Damil001/pinata-image-api-sub000/internal/media"
	"github.com/Damil001/pinata-image-api-sub000/internal/metrics"
	"github.com/Damil001/pinata-image-api-sub000/internal/retry"
)

// ErrNotFound is returned when a hash is absent from the pin list.
var ErrNotFound = errors.New("pin not found")

// UpstreamError is a non-2xx response from the pinning service. It is
// never retried; the upstream detail is carried for logging.
type UpstreamError struct {
	Status int
	Detail string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("pinning service returned %d: %s", e.Status, e.Detail)
}

// Client talks to the Pinata API.
type Client struct {
	baseURL    string
	jwt        string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	retryCfg   retry.Config
}

// Config holds client configuration. Either JWT or APIKey+APISecret
// must be set.
type Config struct {
	BaseURL   string
	JWT       string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	Retry     retry.Config
}

// New creates a new pinning client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		jwt:       cfg.JWT,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryCfg: cfg.Retry,
	}
}

func (c *Client) applyAuth(req *http.Request) {
	if c.jwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.jwt)
		return
	}
	req.Header.Set("pinata_api_key", c.apiKey)
	req.Header.Set("pinata_secret_api_key", c.apiSecret)
}

// PinMetadata is the keyvalue metadata attached to a pin.
type PinMetadata struct {
	Name      string         `json:"name"`
	KeyValues map[string]any `json:"keyvalues"`
}

// PinRow is one row of the pin list as returned by the service.
type PinRow struct {
	IPFSPinHash string      `json:"ipfs_pin_hash"`
	Size        int64       `json:"size"`
	DatePinned  time.Time   `json:"date_pinned"`
	Metadata    PinMetadata `json:"metadata"`
}

// ListResult is one page of the pin list plus the server-reported
// total row count.
type ListResult struct {
	Count int      `json:"count"`
	Rows  []PinRow `json:"rows"`
}

// PinResult is the response to a successful pin.
type PinResult struct {
	IPFSHash  string    `json:"IpfsHash"`
	PinSize   int64     `json:"PinSize"`
	Timestamp time.Time `json:"Timestamp"`
}

// Record converts a pin row into a normalized media record. The loose
// metadata shapes (tags as list or comma string, visibility as bool or
// string) are resolved here, at the ingestion boundary.
func (p *PinRow) Record() media.Record {
	kv := p.Metadata.KeyValues
	r := media.Record{
		ContentHash: p.IPFSPinHash,
		Name:        p.Metadata.Name,
		SizeBytes:   p.Size,
		PinnedAt:    p.DatePinned,
		Tags:        media.ParseTags(kv["tags"]),
		Visible:     media.ParseVisible(kv["visibility"]),
		Kind:        media.KindForName(p.Metadata.Name),
	}
	r.Description, _ = kv["description"].(string)
	r.Category, _ = kv["category"].(string)
	r.Location, _ = kv["location"].(string)
	r.Artist, _ = kv["artist"].(string)
	r.ThumbnailHash, _ = kv["thumbnailHash"].(string)
	return r
}

// ListPins fetches one page of pinned files. page is 1-based.
func (c *Client) ListPins(ctx context.Context, page, limit int) (*ListResult, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("status", "pinned")
	q.Set("pageLimit", strconv.Itoa(limit))
	q.Set("pageOffset", strconv.Itoa((page-1)*limit))

	var result ListResult
	err := c.getJSON(ctx, "list", "/data/pinList?"+q.Encode(), &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPin fetches a single pin by exact hash.
func (c *Client) GetPin(ctx context.Context, hash string) (*PinRow, error) {
	q := url.Values{}
	q.Set("status", "pinned")
	q.Set("hashContains", hash)
	q.Set("pageLimit", "1")

	var result ListResult
	if err := c.getJSON(ctx, "get", "/data/pinList?"+q.Encode(), &result); err != nil {
		return nil, err
	}
	for i := range result.Rows {
		if result.Rows[i].IPFSPinHash == hash {
			return &result.Rows[i], nil
		}
	}
	return nil, ErrNotFound
}

// PinFile uploads content to the pinning service with the given
// metadata. The body is consumed once, so pin requests are not retried.
func (c *Client) PinFile(ctx context.Context, filename string, content io.Reader, meta PinMetadata) (*PinResult, error) {
	start := time.Now()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	n, err := io.Copy(fw, content)
	if err != nil {
		return nil, fmt.Errorf("read upload content: %w", err)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal pin metadata: %w", err)
	}
	if err := mw.WriteField("pinataMetadata", string(metaJSON)); err != nil {
		return nil, fmt.Errorf("write pinataMetadata: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		c.baseURL+"/pinning/pinFileToIPFS", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordPinOperation("pin", time.Since(start), false)
		return nil, fmt.Errorf("pin request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordPinOperation("pin", time.Since(start), false)
		return nil, upstreamError(resp)
	}

	var result PinResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.RecordPinOperation("pin", time.Since(start), false)
		return nil, fmt.Errorf("decode pin response: %w", err)
	}

	metrics.RecordPinOperation("pin", time.Since(start), true)
	metrics.RecordPinnedBytes(n)
	return &result, nil
}

// Unpin removes a pin. The file disappears from future listings; no
// tombstone is kept.
func (c *Client) Unpin(ctx context.Context, hash string) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, "DELETE",
		c.baseURL+"/pinning/unpin/"+hash, nil)
	if err != nil {
		return err
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordPinOperation("unpin", time.Since(start), false)
		return fmt.Errorf("unpin request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordPinOperation("unpin", time.Since(start), false)
		return upstreamError(resp)
	}

	metrics.RecordPinOperation("unpin", time.Since(start), true)
	return nil
}

// getJSON performs a GET with transient-network retry. Upstream non-2xx
// responses are terminal and never retried.
func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	start := time.Now()

	err := retry.Do(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
		if err != nil {
			return err
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Network-level failure: worth retrying.
			return retry.Retryable(fmt.Errorf("pinning service request: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return upstreamError(resp)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})

	metrics.RecordPinOperation(op, time.Since(start), err == nil)
	return err
}

func upstreamError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &UpstreamError{Status: resp.StatusCode, Detail: string(detail)}
}
