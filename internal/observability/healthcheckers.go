package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// LLMHealthChecker probes a configured LLM endpoint (CHAOS_LLM_HEALTH_URL) so
// the proxy can report readiness against the upstream it is fronting. When
// CHAOS_LLM_HEALTH_SKIP is set the checker always reports healthy without
// making a network call, for environments where the upstream has no
// unauthenticated health route.
type LLMHealthChecker struct {
	name   string
	url    string
	skip   bool
	client *http.Client
}

// NewLLMHealthChecker creates a checker for the given URL. If url is empty the
// checker is a no-op healthy check (no upstream configured to probe).
func NewLLMHealthChecker(url string, skip bool) *LLMHealthChecker {
	return &LLMHealthChecker{
		name:   "llm_upstream",
		url:    url,
		skip:   skip,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Name returns the name of the health checker.
func (c *LLMHealthChecker) Name() string {
	return c.name
}

// HealthCheck performs an HTTP GET against the configured LLM health URL.
func (c *LLMHealthChecker) HealthCheck(ctx context.Context) error {
	if c.skip || c.url == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("llm health probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("llm health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// ReadinessCheck mirrors HealthCheck: an unreachable LLM upstream means the
// proxy cannot usefully forward LLM_API traffic.
func (c *LLMHealthChecker) ReadinessCheck(ctx context.Context) error {
	return c.HealthCheck(ctx)
}

var _ HealthChecker = (*LLMHealthChecker)(nil)
var _ ReadinessChecker = (*LLMHealthChecker)(nil)
