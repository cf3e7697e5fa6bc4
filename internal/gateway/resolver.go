// Package gateway resolves content hashes to working gateway URLs.
// Any single IPFS gateway is unreliable; the resolver walks a fixed
// priority list (dedicated gateway first, public gateways after) with
// a per-attempt timeout and returns the first URL that actually serves
// the content.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/Damil001/pinata-image-api-sub000/internal/media"
	"github.com/Damil001/pinata-image-api-sub000/internal/metrics"
)

var (
	// ErrInvalidHash means the hash failed the structural check; no
	// network call was made.
	ErrInvalidHash = errors.New("invalid content hash")
	// ErrExhausted means every gateway in the list failed. Terminal:
	// nothing is retried until an explicit retry.
	ErrExhausted = errors.New("all gateways failed")
)

// Image probes fully decode the response; cap how much we pull.
const maxProbeBytes = 32 << 20 // 32MB

// Resolver probes gateways for content availability.
type Resolver struct {
	gateways []string
	timeout  time.Duration
	client   *http.Client
}

// New creates a resolver over an ordered gateway list. Each base URL
// is addressed as base + "/" + hash.
func New(gateways []string, probeTimeout time.Duration) *Resolver {
	if probeTimeout == 0 {
		probeTimeout = 12 * time.Second
	}
	return &Resolver{
		gateways: gateways,
		timeout:  probeTimeout,
		client: &http.Client{
			// Per-attempt deadlines come from the probe context.
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// Gateways returns the configured priority list.
func (r *Resolver) Gateways() []string {
	return r.gateways
}

// ValidHash reports whether a hash is structurally plausible: CIDv0
// ("Qm" + 44 base58 chars) or lowercase base32 CIDv1 ("b" prefix).
func ValidHash(hash string) bool {
	if len(hash) == 46 && strings.HasPrefix(hash, "Qm") {
		return isBase58(hash[2:])
	}
	if len(hash) >= 50 && strings.HasPrefix(hash, "b") {
		return isBase32Lower(hash[1:])
	}
	return false
}

func isBase58(s string) bool {
	for _, c := range s {
		switch {
		case c >= '1' && c <= '9',
			c >= 'A' && c <= 'H', c >= 'J' && c <= 'N', c >= 'P' && c <= 'Z',
			c >= 'a' && c <= 'k', c >= 'm' && c <= 'z':
		default:
			return false
		}
	}
	return true
}

func isBase32Lower(s string) bool {
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < '2' || c > '7') {
			return false
		}
	}
	return true
}

// Resolve walks the gateway list in order and returns the first URL
// that serves the hash. Attempts are strictly sequential: attempt i+1
// only begins after attempt i has concluded. A timeout counts as a
// failure and advances to the next gateway. Exhausting the list
// returns ErrExhausted.
func (r *Resolver) Resolve(ctx context.Context, hash string, kind media.Kind) (string, error) {
	if !ValidHash(hash) {
		return "", ErrInvalidHash
	}

	for _, gw := range r.gateways {
		u := gw + "/" + hash
		if err := r.probe(ctx, u, kind); err != nil {
			metrics.RecordGatewayProbe(gw, false)
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		metrics.RecordGatewayProbe(gw, true)
		metrics.RecordGatewayResolution(true)
		return u, nil
	}

	metrics.RecordGatewayResolution(false)
	return "", ErrExhausted
}

// probe checks one gateway URL within the attempt timeout. Images must
// actually decode; PDFs and unknown kinds get an existence check.
func (r *Resolver) probe(ctx context.Context, url string, kind media.Kind) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if kind == media.KindImage {
		return r.probeImage(ctx, url)
	}
	return r.probeExists(ctx, url)
}

func (r *Resolver) probeImage(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway status %d", resp.StatusCode)
	}

	if _, err := imaging.Decode(io.LimitReader(resp.Body, maxProbeBytes)); err != nil {
		return fmt.Errorf("image decode: %w", err)
	}
	return nil
}

// probeExists issues a HEAD; gateways that reject HEAD get a one-byte
// ranged GET instead.
func (r *Resolver) probeExists(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, "HEAD", url, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return nil
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		// Fall through to ranged GET below.
	default:
		return fmt.Errorf("gateway status %d", resp.StatusCode)
	}

	req, err = http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err = r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("gateway status %d", resp.StatusCode)
	}
	return nil
}
