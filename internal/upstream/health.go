package upstream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/internal/config"
)

// HealthChecker actively probes the targets of one upstream and flips their
// health flags. One checker goroutine runs per upstream with health checking
// enabled; it takes the pool's read lock only to snapshot the target list and
// holds no lock while probing.
type HealthChecker struct {
	upstream string
	cfg      config.HealthCheckConfig
	targets  func() []*Target
	client   *http.Client
	logger   *zap.Logger
}

func NewHealthChecker(upstream string, cfg config.HealthCheckConfig, targets func() []*Target, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		upstream: upstream,
		cfg:      cfg,
		targets:  targets,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		logger: logger.Named("health").With(zap.String("upstream", upstream)),
	}
}

// Run probes until ctx is cancelled.
func (hc *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(hc.cfg.Interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.probeAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// probeAll checks every target concurrently and waits for the round to finish
// so that consecutive counters are only ever touched by one goroutine at a
// time per target.
func (hc *HealthChecker) probeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range hc.targets() {
		wg.Add(1)
		go func(t *Target) {
			defer wg.Done()
			hc.observe(t, hc.probe(ctx, t))
		}(t)
	}
	wg.Wait()
}

// probe reports whether one GET against the target counts as "up".
func (hc *HealthChecker) probe(ctx context.Context, t *Target) bool {
	url := fmt.Sprintf("http://%s%s", t.Addr(), hc.cfg.Path)

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(hc.cfg.Timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := hc.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

func (hc *HealthChecker) observe(t *Target, up bool) {
	if up {
		t.consecutiveUp++
		t.consecutiveDown = 0
		if !t.Healthy() && t.consecutiveUp >= hc.cfg.HealthyThreshold {
			t.SetHealthy(true)
			t.consecutiveUp = 0
			t.consecutiveDown = 0
			hc.logger.Info("target recovered", zap.String("target", t.Addr()))
		}
	} else {
		t.consecutiveDown++
		t.consecutiveUp = 0
		if t.Healthy() && t.consecutiveDown >= hc.cfg.UnhealthyThreshold {
			t.SetHealthy(false)
			t.consecutiveUp = 0
			t.consecutiveDown = 0
			hc.logger.Warn("target marked unhealthy", zap.String("target", t.Addr()))
		}
	}
}
