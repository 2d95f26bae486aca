package liveness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// NodeProber checks the local content-network daemon. The tracker
// fails fast at start if the daemon is unreachable and degrades when
// a periodic probe fails.
type NodeProber interface {
	// Probe verifies the daemon is up and connected to peers.
	Probe(ctx context.Context) error
	// NodeID returns the daemon's node identifier.
	NodeID(ctx context.Context) (string, error)
}

// DefaultIPFSAPI is the stock kubo RPC endpoint.
const DefaultIPFSAPI = "http://127.0.0.1:5001"

// IPFSProber probes a local IPFS daemon over its HTTP RPC API, the
// programmatic equivalent of `ipfs swarm peers`.
type IPFSProber struct {
	baseURL string
	client  *http.Client
}

func NewIPFSProber(baseURL string) *IPFSProber {
	if baseURL == "" {
		baseURL = DefaultIPFSAPI
	}
	return &IPFSProber{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *IPFSProber) Probe(ctx context.Context) error {
	var out struct {
		Peers []json.RawMessage `json:"Peers"`
	}
	if err := p.post(ctx, "/api/v0/swarm/peers", &out); err != nil {
		return fmt.Errorf("ipfs daemon unreachable: %w", err)
	}
	if len(out.Peers) == 0 {
		return fmt.Errorf("ipfs daemon has no connected peers")
	}
	return nil
}

func (p *IPFSProber) NodeID(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"ID"`
	}
	if err := p.post(ctx, "/api/v0/id", &out); err != nil {
		return "", fmt.Errorf("ipfs id: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("ipfs daemon returned empty node id")
	}
	return out.ID, nil
}

// post calls a kubo RPC endpoint. The API is POST-only.
func (p *IPFSProber) post(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
