// Package proxypool implements the proxy pool manager: a
// process-wide, shared-across-workers repository that fetches endpoints
// from a vendor API, persists them to disk, tracks per-endpoint health,
// enforces round-robin selection and per-IP scan caps, cooperates across
// workers that may share or not share their pool, and recovers from vendor
// outages.
//
// Selection and refill use a mutex-guarded slice with a background
// fetch/check loop: a cursor-based round robin with prune, promote and
// bounded refill retries, solving pool hygiene rather than weighted load
// balancing.
package proxypool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grishkovelli/phonewatch/internal/endpoint"
)

// Protocol selects how the pool's endpoints are dialed.
type Protocol int

const (
	SOCKS5 Protocol = iota
	HTTPHTTPS
)

// ErrExhausted is returned by NextEndpoint when the refill retry budget
// is spent without finding a usable endpoint.
var ErrExhausted = errors.New("proxypool: exhausted")

// DefaultCapacity bounds the number of endpoints a pool holds.
const DefaultCapacity = 5000

// refillRetries bounds consecutive empty or failed vendor fetches.
const refillRetries = 5

// ExtractionStats mirrors the vendor count endpoint's remaining-quota
// payload.
type ExtractionStats struct {
	ExpireAt          time.Time
	RemainingProducts int
	RemainingConnects int
	RemainingExtracts int
	Available         bool
}

// Config parameterizes a Pool (mirrors proxy_config.json).
type Config struct {
	Target        string
	CountTarget   string
	Protocol      Protocol
	Share         bool
	PerFetch      int
	FetchInterval time.Duration
	Capacity      int
	OwnerThread   string
	WebID         uint32
}

// Pool is the shared, mutable collection of endpoints belonging to one
// worker thread (possibly shared with siblings via ShareMessage).
type Pool struct {
	mu sync.Mutex

	cfg     Config
	fetcher *Fetcher

	endpoints []*endpoint.Endpoint
	cursor    int

	extraction ExtractionStats
	errorFlag  bool
	totalUsed  uint64

	shared *Broker // non-nil when cfg.Share is enabled
}

// New builds a Pool backed by fetcher, loading any persisted endpoints for
// cfg.Protocol from disk.
func New(cfg Config, fetcher *Fetcher, shared *Broker) *Pool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	p := &Pool{cfg: cfg, fetcher: fetcher, shared: shared}
	p.endpoints = loadPersisted(cfg.Protocol)

	if shared != nil {
		shared.Register(cfg.WebID, cfg.Protocol, p)
	}
	return p
}

// ErrorFlag reports whether the last refill failed to parse vendor output.
func (p *Pool) ErrorFlag() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errorFlag
}

// TotalUsed returns the cumulative number of endpoints handed out by this
// pool's refills.
func (p *Pool) TotalUsed() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalUsed
}

// SetTotalUsed overwrites the cumulative hand-out counter, used when
// restoring a pool's accounting from persisted task state.
func (p *Pool) SetTotalUsed(n uint64) {
	p.mu.Lock()
	p.totalUsed = n
	p.mu.Unlock()
}

// Len reports the current number of endpoints held (for invariant 3: size
// never exceeds configured capacity).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// NextEndpoint returns the next usable endpoint: advance
// the cursor looking for an Active endpoint, wrap once, promote an expired
// Waiting endpoint, or refill.
func (p *Pool) NextEndpoint(ctx context.Context) (*endpoint.Endpoint, error) {
	if e := p.scanForActive(); e != nil {
		return e, nil
	}

	// 3. prune non-Active/non-Waiting entries; try to promote a Waiting one.
	if e := p.pruneAndPromote(); e != nil {
		return e, nil
	}

	// 4. refill, retrying up to refillRetries times.
	for attempt := 0; attempt < refillRetries; attempt++ {
		if err := p.refill(ctx); err != nil {
			return nil, err
		}
		if e := p.scanForActive(); e != nil {
			return e, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.cfg.FetchInterval):
		}
	}

	return nil, ErrExhausted
}

// scanForActive advances the cursor forward (wrapping once) looking for
// an Active endpoint.
func (p *Pool) scanForActive() *endpoint.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	if n == 0 {
		return nil
	}
	if p.cursor > n {
		p.cursor = 0
	}

	for i := p.cursor; i < n; i++ {
		if p.endpoints[i].State() == endpoint.Active {
			p.cursor = i + 1
			return p.endpoints[i]
		}
	}
	for i := 0; i < p.cursor && i < n; i++ {
		if p.endpoints[i].State() == endpoint.Active {
			p.cursor = i + 1
			return p.endpoints[i]
		}
	}
	return nil
}

// pruneAndPromote drops prunable entries, and if a
// Waiting entry has waited out its cooldown, promote and return it.
func (p *Pool) pruneAndPromote() *endpoint.Endpoint {
	p.mu.Lock()
	kept := p.endpoints[:0:0]
	for _, e := range p.endpoints {
		if e.Prunable() {
			continue
		}
		kept = append(kept, e)
	}
	p.endpoints = kept
	if p.cursor > len(p.endpoints) {
		p.cursor = 0
	}
	p.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.endpoints {
		if e.ReadyToPromote() {
			e.Promote()
			p.cursor = i + 1
			return e
		}
	}
	return nil
}

// refill checks remaining extractions, submits a fetch, parses endpoints,
// trims to capacity, and publishes a share message.
func (p *Pool) refill(ctx context.Context) error {
	if p.cfg.CountTarget != "" {
		stats, err := p.fetchRemainingCount(ctx)
		if err == nil {
			p.mu.Lock()
			p.extraction = stats
			p.mu.Unlock()
			if !stats.Available {
				return nil // skip the fetch, caller enters the retry-sleep
			}
		}
	}

	body, err := p.fetcher.Fetch(ctx, p.cfg.Target)
	if err != nil {
		return nil // vendor outage: caller retries/sleeps, not a hard failure
	}

	added, err := parseEndpoints(body, p.cfg.Protocol)
	if err != nil {
		p.mu.Lock()
		p.errorFlag = true
		p.mu.Unlock()
		return fmt.Errorf("proxypool: refill parse: %w", err)
	}
	if len(added) == 0 {
		return nil
	}

	p.mu.Lock()
	if len(p.endpoints)+len(added) > p.cfg.Capacity {
		trim := len(p.endpoints) + len(added) - p.cfg.Capacity
		if trim > len(p.endpoints) {
			trim = len(p.endpoints)
		}
		p.endpoints = p.endpoints[trim:]
		if p.cursor > trim {
			p.cursor -= trim
		} else {
			p.cursor = 0
		}
	}
	p.endpoints = append(p.endpoints, added...)
	p.totalUsed += uint64(len(added))
	p.mu.Unlock()

	persist(p.cfg.Protocol, added)

	if p.cfg.Share && p.shared != nil {
		p.shared.Publish(ShareMessage{
			SourceWebID: p.cfg.WebID,
			Protocol:    p.cfg.Protocol,
			Endpoints:   added,
		})
	}

	return nil
}

// AddMore merges a peer's ShareMessage into this pool: applied
// only if the caller (Broker) already confirmed protocol match, distinct
// web_id, and headroom below capacity.
func (p *Pool) AddMore(msg ShareMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	room := p.cfg.Capacity - len(p.endpoints)
	if room <= 0 {
		return
	}
	add := msg.Endpoints
	if len(add) > room {
		add = add[:room]
	}
	p.endpoints = append(p.endpoints, add...)
}

// parseEndpoints parses "ip:port [user] [pass]" lines from a vendor fetch
// body. A line that fails to parse aborts the whole refill.
func parseEndpoints(body []byte, proto Protocol) ([]*endpoint.Endpoint, error) {
	text := strings.ReplaceAll(string(body), "\\", "\n")
	lines := strings.Split(text, "\n")

	out := make([]*endpoint.Endpoint, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		hostPort := strings.SplitN(fields[0], ":", 2)
		if len(hostPort) != 2 {
			return nil, fmt.Errorf("proxypool: malformed endpoint line %q", line)
		}
		port, err := strconv.Atoi(hostPort[1])
		if err != nil {
			return nil, fmt.Errorf("proxypool: malformed port in %q: %w", line, err)
		}

		var creds *endpoint.Credentials
		if len(fields) >= 3 {
			creds = &endpoint.Credentials{User: fields[1], Pass: fields[2]}
		}
		out = append(out, endpoint.New(hostPort[0], port, creds))
	}
	return out, nil
}
