// Package source polls the gift vendor bridge for raw event batches and
// feeds them into the session pipeline.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"go.uber.org/zap"
)

// BatchProcessor consumes one poll batch of raw payloads.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, raws [][]byte)
}

// Poller fetches raw gift events on a fixed interval. It does no
// ordering or filtering itself; the session applies the time fence and
// timestamp sort.
type Poller struct {
	baseURL  string
	interval time.Duration
	http     *http.Client
	session  BatchProcessor
}

func NewPoller(baseURL string, interval time.Duration, session BatchProcessor) *Poller {
	return &Poller{
		baseURL:  baseURL,
		interval: interval,
		http:     &http.Client{Timeout: 10 * time.Second},
		session:  session,
	}
}

// Run polls until the context is cancelled. Fetch failures are logged
// and the next tick tries again; the vendor bridge is expected to be
// flaky.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logger.Info("Gift poller started",
		zap.String("url", p.baseURL),
		zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Gift poller stopped")
			return
		case <-ticker.C:
			raws, err := p.fetch(ctx)
			if err != nil {
				logger.Warn("Failed to fetch gift events", zap.Error(err))
				continue
			}
			if len(raws) > 0 {
				p.session.ProcessBatch(ctx, raws)
			}
		}
	}
}

func (p *Poller) fetch(ctx context.Context) ([][]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/events", nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("event source returned status %d", resp.StatusCode)
	}

	var result struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	raws := make([][]byte, len(result.Events))
	for i, ev := range result.Events {
		raws[i] = []byte(ev)
	}
	return raws, nil
}
