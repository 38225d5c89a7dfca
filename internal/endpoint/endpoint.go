// Package endpoint implements the per-proxy mutable record: address,
// optional credentials, health state, scan count and
// last-use time. Only the worker currently holding an Endpoint mutates its
// state, scan count or last-used time; the pool mutates it only during
// prune, which never touches a borrowed record.
package endpoint

import (
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"time"
)

// State is one node of the endpoint health state machine.
type State int

const (
	Active State = iota
	Blocked
	MaxedOut
	Waiting
	Unresponsive
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Blocked:
		return "blocked"
	case MaxedOut:
		return "maxed_out"
	case Waiting:
		return "waiting"
	case Unresponsive:
		return "unresponsive"
	default:
		return "unknown"
	}
}

// WaitCooldown is the fixed cooldown after which a Waiting endpoint may be
// promoted back to Active.
const WaitCooldown = 10 * time.Minute

// Credentials holds optional proxy auth (RFC 1929 style for SOCKS5, Basic
// for HTTP-proxy mode).
type Credentials struct {
	User string
	Pass string
}

// Endpoint is one proxy server usable by the probe workers.
type Endpoint struct {
	mu sync.Mutex

	Host  string
	Port  int
	Creds *Credentials

	state        State
	scannedCount uint32
	lastUsed     time.Time
	unresponsive int // consecutive connect-timeout count
}

// New builds an Active endpoint for host:port, with optional credentials.
func New(host string, port int, creds *Credentials) *Endpoint {
	return &Endpoint{Host: host, Port: port, Creds: creds, state: Active}
}

// Addr returns the endpoint's dial address.
func (e *Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// State returns the endpoint's current health state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetState transitions the endpoint; transitioning to Waiting also stamps
// LastUsed so the pool can compute the 10-minute cooldown.
func (e *Endpoint) SetState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
	if s == Waiting {
		e.lastUsed = time.Now()
	}
}

// ReadyToPromote reports whether a Waiting endpoint has waited out its
// cooldown and may be promoted to Active during selection.
func (e *Endpoint) ReadyToPromote() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Waiting && time.Since(e.lastUsed) >= WaitCooldown
}

// Promote transitions a Waiting endpoint to Active.
func (e *Endpoint) Promote() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Waiting {
		e.state = Active
	}
}

// Prunable reports whether the endpoint's state makes it eligible for
// pruning on cursor wrap-around: Blocked,
// Unresponsive or MaxedOut.
func (e *Endpoint) Prunable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Blocked || e.state == Unresponsive || e.state == MaxedOut
}

// Touch records one hand-out: bumps the scan count and last-used time. The
// holder calls this before issuing a request against the endpoint.
func (e *Endpoint) Touch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scannedCount++
	e.lastUsed = time.Now()
}

// ScannedCount returns the cumulative number of probes sent through this
// endpoint.
func (e *Endpoint) ScannedCount() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scannedCount
}

// AtCap reports whether the endpoint has reached the per-IP scan cap
//.
func (e *Endpoint) AtCap(cap uint32) bool {
	if cap == 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scannedCount >= cap
}

// NoteConnectTimeout records a connect timeout; once it has happened
// MaxRetries+1 times in a row the endpoint becomes Unresponsive.
func (e *Endpoint) NoteConnectTimeout(maxRetries int) (unresponsive bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unresponsive++
	if e.unresponsive > maxRetries {
		e.state = Unresponsive
		return true
	}
	return false
}

// NoteConnectSuccess resets the connect-timeout streak.
func (e *Endpoint) NoteConnectSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unresponsive = 0
}

// MarshalJSON reports a snapshot suitable for the dashboard, copying the
// locked fields into an anonymous struct so marshaling does not recurse.
func (e *Endpoint) MarshalJSON() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return json.Marshal(struct {
		Host    string `json:"host"`
		Port    int    `json:"port"`
		State   string `json:"state"`
		Scanned uint32 `json:"scanned"`
	}{
		Host:    e.Host,
		Port:    e.Port,
		State:   e.state.String(),
		Scanned: e.scannedCount,
	})
}
