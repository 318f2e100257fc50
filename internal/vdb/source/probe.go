package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imroc/req/v3"
)

// Prober answers whether an optional source repository exists upstream before
// any clone is attempted. Absence is a legitimate state for optional entries,
// not an error.
type Prober struct {
	client *req.Client
}

// NewProber creates a prober with sane HTTP defaults
func NewProber() *Prober {
	client := req.C().
		SetUserAgent("vdbctl").
		SetTimeout(15 * time.Second).
		SetCommonRetryCount(2).
		SetCommonRetryFixedInterval(2 * time.Second)
	return &Prober{client: client}
}

// Exists probes the remote repository location. A 2xx response means the
// repository is reachable; 404/410 means it does not exist. Anything else is
// a probe failure the caller has to judge.
func (p *Prober) Exists(ctx context.Context, remoteURL string) (bool, error) {
	probeURL := strings.TrimSuffix(remoteURL, ".git")

	resp, err := p.client.R().SetContext(ctx).Get(probeURL)
	if err != nil {
		return false, fmt.Errorf("probe request failed: %w", err)
	}
	switch {
	case resp.IsSuccessState():
		return true, nil
	case resp.StatusCode == 404 || resp.StatusCode == 410:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected probe response %d for %s", resp.StatusCode, probeURL)
	}
}
