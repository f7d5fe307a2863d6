package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/httputil"
	"github.com/redis/go-redis/v9"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	statusUp       = "up"
	statusDown     = "down"
	statusDegraded = "degraded"

	notConfigured = "not configured"
	healthVersion = "1.0.0"
)

// QueueProbe is what the health checker needs from the queue.
type QueueProbe interface {
	Ping(ctx context.Context) error
	GetQueueStats(ctx context.Context) (domain.QueueStats, error)
}

// s3Header is the slice of the S3 client used to probe the archive bucket.
type s3Header interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// degraded marks a probe result that works but needs attention.
type degraded string

func (d degraded) Error() string { return string(d) }

// probe is one named component check. run returns the success message.
type probe struct {
	name    string
	timeout time.Duration
	slow    time.Duration // 0 never reports slowness
	failAs  string        // status on error
	run     func(ctx context.Context) (string, error)
}

func (p probe) check(ctx context.Context) ComponentCheck {
	if p.run == nil {
		return ComponentCheck{Status: statusDown, Message: notConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	msg, err := p.run(ctx)
	latency := time.Since(start)

	c := ComponentCheck{Status: statusUp, Latency: latency.String(), Message: msg}
	var d degraded
	switch {
	case errors.As(err, &d):
		c.Status, c.Message = statusDegraded, d.Error()
	case err != nil:
		c.Status, c.Message = p.failAs, err.Error()
	case p.slow > 0 && latency > p.slow:
		c.Status, c.Message = statusDegraded, fmt.Sprintf("slow response (%s)", latency)
	}
	return c
}

// HealthChecker reports on the queue store (critical) and the optional
// Redis connection and S3 archive bucket.
type HealthChecker struct {
	queue     QueueProbe
	redis     redis.UniversalClient
	s3        s3Header
	s3Bucket  string
	paused    func() bool
	startTime time.Time
}

// NewHealthChecker creates a new HealthChecker. Optional dependencies are
// attached with the With* methods; a missing one reports "not configured".
func NewHealthChecker(queue QueueProbe) *HealthChecker {
	return &HealthChecker{
		queue:     queue,
		startTime: time.Now(),
	}
}

func (hc *HealthChecker) WithRedis(c redis.UniversalClient) *HealthChecker {
	hc.redis = c
	return hc
}

func (hc *HealthChecker) WithS3(c s3Header, bucket string) *HealthChecker {
	hc.s3 = c
	hc.s3Bucket = bucket
	return hc
}

// WithBackpressure reports the backlog as degraded while paused returns true.
func (hc *HealthChecker) WithBackpressure(paused func() bool) *HealthChecker {
	hc.paused = paused
	return hc
}

// HandleHealth returns the health status of all components.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())

	// Always 200; the status field conveys health. Use /health/ready for
	// probes that need HTTP 503 on failure.
	httputil.OK(w, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness always returns 200 while the process is running.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness returns 200 only when the queue store is reachable.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	ready := overall != "unhealthy"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]interface{}{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) probes() []probe {
	ps := []probe{
		{name: "queue", timeout: 3 * time.Second, slow: time.Second, failAs: statusDown},
		{name: "backlog", timeout: 3 * time.Second, failAs: statusDegraded},
		{name: "redis", timeout: 2 * time.Second, slow: 500 * time.Millisecond, failAs: statusDown},
		{name: "s3", timeout: 3 * time.Second, failAs: statusDown},
	}
	if hc.queue != nil {
		ps[0].run = hc.pingQueue
		ps[1].run = hc.backlog
	}
	if hc.redis != nil {
		ps[2].run = hc.pingRedis
	}
	if hc.s3 != nil && hc.s3Bucket != "" {
		ps[3].run = hc.headBucket
	}
	return ps
}

// runAllChecks runs every probe concurrently.
func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	ps := hc.probes()
	checks := make(map[string]ComponentCheck, len(ps))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range ps {
		wg.Add(1)
		go func(p probe) {
			defer wg.Done()
			c := p.check(ctx)
			mu.Lock()
			checks[p.name] = c
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return checks
}

func (hc *HealthChecker) pingQueue(ctx context.Context) (string, error) {
	if err := hc.queue.Ping(ctx); err != nil {
		return "", fmt.Errorf("ping failed: %w", err)
	}
	return "connected", nil
}

// backlog reports pending jobs, degraded while backpressure is on.
func (hc *HealthChecker) backlog(ctx context.Context) (string, error) {
	stats, err := hc.queue.GetQueueStats(ctx)
	if err != nil {
		return "", fmt.Errorf("stats failed: %w", err)
	}
	if hc.paused != nil && hc.paused() {
		return "", degraded(fmt.Sprintf("backpressure on: %d pending", stats.Pending()))
	}
	return fmt.Sprintf("%d pending, %d active", stats.Pending(), stats.Active), nil
}

func (hc *HealthChecker) pingRedis(ctx context.Context) (string, error) {
	if err := hc.redis.Ping(ctx).Err(); err != nil {
		return "", fmt.Errorf("ping failed: %w", err)
	}
	return "connected", nil
}

func (hc *HealthChecker) headBucket(ctx context.Context) (string, error) {
	if _, err := hc.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &hc.s3Bucket}); err != nil {
		return "", fmt.Errorf("HeadBucket failed: %w", err)
	}
	return fmt.Sprintf("bucket %q accessible", hc.s3Bucket), nil
}

// determineOverallStatus derives the aggregate status from individual checks.
//
// Rules:
//   - "unhealthy" if the queue store is down (critical dependency)
//   - "degraded"  if any check is degraded or a configured optional check is down
//   - "healthy"   otherwise
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if q, ok := checks["queue"]; ok && q.Status == statusDown {
		return "unhealthy"
	}
	for _, c := range checks {
		if c.Status == statusDegraded {
			return "degraded"
		}
		if c.Status == statusDown && c.Message != notConfigured {
			return "degraded"
		}
	}
	return "healthy"
}

// formatUptime produces a human-readable uptime string like "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
