// internal/probe/pinger.go - ICMP reachability probing
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ping/ping"
)

const (
	DefaultAttempts = 3
	DefaultTimeout  = 5 * time.Second
)

// Result is the outcome of one probe cycle against a host. A host counts as
// responded when any attempt got an echo back; Latency is the round trip of
// the fastest successful attempt.
type Result struct {
	Timestamp time.Time
	Responded bool
	Latency   *time.Duration
	Successes int
	Attempts  int
}

// LatencyMs returns the fastest round trip in milliseconds, nil when no
// attempt succeeded.
func (r *Result) LatencyMs() *float64 {
	if r.Latency == nil {
		return nil
	}
	ms := float64(r.Latency.Microseconds()) / 1000.0
	return &ms
}

// Pinger probes hosts over ICMP. An unreachable host is a normal outcome,
// not an error; Probe only fails for an invalid or unresolvable address.
type Pinger struct {
	attempts   int
	timeout    time.Duration
	privileged bool
}

// New returns a Pinger running up to attempts echo requests per probe, each
// bounded by timeout. Non-positive values fall back to the defaults.
// privileged selects raw ICMP sockets over UDP ping.
func New(attempts int, timeout time.Duration, privileged bool) *Pinger {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pinger{
		attempts:   attempts,
		timeout:    timeout,
		privileged: privileged,
	}
}

// Probe runs the configured number of attempts against address and reports
// the combined outcome. Attempts keep going after a success so the result
// carries a meaningful success count alongside the fastest latency.
func (p *Pinger) Probe(ctx context.Context, address string) (*Result, error) {
	result := &Result{
		Timestamp: time.Now().UTC(),
		Attempts:  p.attempts,
	}

	for i := 0; i < p.attempts; i++ {
		if ctx.Err() != nil {
			break
		}

		rtt, ok, err := p.attempt(ctx, address)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		result.Successes++
		if result.Latency == nil || rtt < *result.Latency {
			latency := rtt
			result.Latency = &latency
		}
	}

	result.Responded = result.Successes > 0
	return result, nil
}

func (p *Pinger) attempt(ctx context.Context, address string) (time.Duration, bool, error) {
	pinger, err := ping.NewPinger(address)
	if err != nil {
		return 0, false, fmt.Errorf("invalid probe address %q: %w", address, err)
	}

	pinger.Count = 1
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(p.privileged)

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return 0, false, nil
	case err := <-done:
		// Socket-level failures count as no response: the host did not
		// answer within the attempt, whatever the reason.
		if err != nil {
			return 0, false, nil
		}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, false, nil
	}
	return stats.MinRtt, true, nil
}
