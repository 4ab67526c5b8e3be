// Package health checks whether the downstream dependencies the stages need
// currently answer a trivial probe.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/rosterbuild/internal/llm"
)

// DefaultTimeout bounds each probe.
const DefaultTimeout = 5 * time.Second

// Probe returns nil when the dependency answers.
type Probe func(ctx context.Context) error

// Report is the result of one check. It carries pass/fail only.
type Report struct {
	Status    map[string]bool `json:"status"`
	Available []string        `json:"available_models"`
}

// Checker runs named probes concurrently.
type Checker struct {
	mu      sync.RWMutex
	probes  map[string]Probe
	order   []string
	timeout time.Duration
}

// NewChecker creates a checker. timeout <= 0 means DefaultTimeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{probes: make(map[string]Probe), timeout: timeout}
}

// Add registers or replaces a probe.
func (c *Checker) Add(name string, p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.probes[name]; !exists {
		c.order = append(c.order, name)
	}
	c.probes[name] = p
}

// ProviderSource lists and resolves model providers. *llm.Registry implements it.
type ProviderSource interface {
	Names() []string
	Get(name string) (llm.Provider, error)
}

// AddProviders registers one probe per provider. A provider that cannot be
// built (missing key) fails its probe.
func (c *Checker) AddProviders(src ProviderSource) {
	for _, name := range src.Names() {
		name := name
		c.Add(name, func(ctx context.Context) error {
			p, err := src.Get(name)
			if err != nil {
				return err
			}
			return p.Probe(ctx)
		})
	}
}

// Names returns probe names in registration order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Check runs every probe and reports pass/fail per name.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	names := append([]string(nil), c.order...)
	probes := make(map[string]Probe, len(c.probes))
	for k, v := range c.probes {
		probes[k] = v
	}
	c.mu.RUnlock()

	results := make([]bool, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			results[i] = c.run(ctx, p)
		}(i, probes[name])
	}
	wg.Wait()

	report := Report{Status: make(map[string]bool, len(names)), Available: []string{}}
	for i, name := range names {
		report.Status[name] = results[i]
		if results[i] {
			report.Available = append(report.Available, name)
		}
	}
	return report
}

// run executes one probe under the checker timeout. A panicking probe fails.
func (c *Checker) run(ctx context.Context, p Probe) (ok bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- context.Canceled
			}
		}()
		done <- p(ctx)
	}()

	select {
	case err := <-done:
		return err == nil
	case <-ctx.Done():
		return false
	}
}
