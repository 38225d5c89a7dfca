// Package probe implements the per-connection probe worker:
//
//	Idle → AcquireProxy → Connect → Handshake(SOCKS5) → (Handshake TLS)? →
//	Send → Receive → Classify → {Send next | AcquireProxy}
package probe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/grishkovelli/phonewatch/internal/adapter"
	"github.com/grishkovelli/phonewatch/internal/endpoint"
	"github.com/grishkovelli/phonewatch/internal/metrics"
	"github.com/grishkovelli/phonewatch/internal/numstream"
	"github.com/grishkovelli/phonewatch/internal/proxypool"
	"github.com/grishkovelli/phonewatch/internal/socks5"
)

// maxResponseBody bounds how much of a response we read into memory; the
// sites this probes return small JSON/JSONP payloads.
const maxResponseBody = 1 << 20

func bodyReader(b []byte) io.Reader {
	if len(b) == 0 {
		return nil
	}
	return bytes.NewReader(b)
}

func readAll(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
}

// Config carries the worker's per-operation timeouts and caps.
type Config struct {
	ScansPerIP     uint32 // 0 = unlimited
	MaxRetries     int    // connect-retry budget per endpoint
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig is 5s connect/write, 20s read, two connect retries per endpoint.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    20 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// Classification is what a worker reports for one number; a RequestStop
// signal is delivered through OnStop instead and carries no file routing.
type Classification struct {
	Number  string
	Outcome adapter.Outcome
}

// Worker drives one connection state machine against a shared pool and
// number stream: one transport, one current number in flight at a time.
type Worker struct {
	ID       int
	Pool     *proxypool.Pool
	Numbers  *numstream.Stream
	Site     adapter.Adapter
	Protocol proxypool.Protocol
	Cfg      Config

	// OnClassify is invoked for every non-RequestStop outcome; the task
	// executor uses it to route to a sink file and bump a counter.
	OnClassify func(Classification)
	// OnStop is invoked when an HTTP 400 response signals RequestStop, and
	// when the pool fails to supply an endpoint while ctx is still live;
	// the caller propagates it to the task executor.
	OnStop func()

	current *endpoint.Endpoint
}

// Run drives the worker's loop until ctx is cancelled or the number stream
// is drained. A number in flight when the loop exits is always pushed back
// to Numbers first.
func (w *Worker) Run(ctx context.Context) {
	var number string
	haveNumber := false

	metrics.IncInFlightWorkers()
	defer metrics.DecInFlightWorkers()

	for {
		if ctx.Err() != nil {
			if haveNumber {
				w.Numbers.PushBack(number)
			}
			return
		}

		if w.current == nil || w.current.AtCap(w.Cfg.ScansPerIP) {
			if w.current != nil {
				w.current.SetState(endpoint.MaxedOut)
			}
			ep, err := w.Pool.NextEndpoint(ctx)
			if err != nil {
				if haveNumber {
					w.Numbers.PushBack(number)
				}
				// Exhaustion and a refill that failed to parse both halt
				// probing; a cancelled context is an operator stop, not a
				// pool failure.
				if w.OnStop != nil && ctx.Err() == nil {
					w.OnStop()
				}
				return
			}
			w.current = ep
		}

		if !haveNumber {
			n, err := w.Numbers.Get()
			if err != nil { // numstream.ErrEmpty: A drained
				return
			}
			number = n
			haveNumber = true
		}

		status, body, err := w.probeOnce(ctx, number)
		if err != nil {
			if w.current.NoteConnectTimeout(w.Cfg.MaxRetries) {
				w.current = nil
			}
			continue
		}
		w.current.NoteConnectSuccess()

		switch {
		case status/100 == 3:
			w.current.SetState(endpoint.Blocked)
			w.current = nil
			// same number, acquire a new endpoint next iteration.

		case status == 400:
			w.Numbers.PushBack(number)
			if w.OnStop != nil {
				w.OnStop()
			}
			return

		default:
			outcome := w.Site.Classify(status, body)
			if outcome.Retry {
				applySignal(w.current, outcome.Signal)
				w.current = nil
				// same number, acquire a new endpoint next iteration.
				continue
			}
			if w.OnClassify != nil {
				w.OnClassify(Classification{Number: number, Outcome: outcome})
			}
			haveNumber = false
		}
	}
}

func applySignal(ep *endpoint.Endpoint, sig adapter.EndpointSignal) {
	switch sig {
	case adapter.SignalWaiting:
		ep.SetState(endpoint.Waiting)
	case adapter.SignalBlocked:
		ep.SetState(endpoint.Blocked)
	}
}

// probeOnce issues one request against the current endpoint, retrying once
// with an authentication header on HTTP 407.
func (w *Worker) probeOnce(ctx context.Context, number string) (status int, body []byte, err error) {
	auth := ""
	for attempt := 0; attempt < 2; attempt++ {
		w.current.Touch()
		req := w.Site.PrepareRequest(number, auth)

		start := time.Now()
		if w.Protocol == proxypool.HTTPHTTPS {
			status, body, err = w.sendHTTPProxy(ctx, req)
		} else {
			status, body, err = w.sendSOCKS5(ctx, req)
		}
		metrics.ObserveProbeLatency(time.Since(start).Seconds())
		if err != nil {
			return 0, nil, err
		}
		if status == http.StatusProxyAuthRequired && attempt == 0 && w.current.Creds != nil {
			auth = basicAuth(w.current.Creds.User, w.current.Creds.Pass)
			continue
		}
		return status, body, nil
	}
	return status, body, nil
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

// sendSOCKS5 dials the current endpoint via the SOCKS5 transport,
// issues req and parses the response.
func (w *Worker) sendSOCKS5(ctx context.Context, req adapter.Request) (int, []byte, error) {
	dialCtx, cancel := context.WithTimeout(ctx, w.Cfg.ConnectTimeout)
	defer cancel()

	port := 80
	scheme := "http"
	if req.TLS {
		port, scheme = 443, "https"
	}

	conn, err := socks5.Dial(dialCtx, &net.Dialer{}, socks5.Options{
		ProxyAddr: w.current.Addr(),
		Target:    req.Host,
		Port:      port,
		Creds:     socks5Creds(w.current),
		TLS:       req.TLS,
	})
	if err != nil {
		return 0, nil, err
	}
	defer socks5.CloseQuiet(conn)

	httpReq, err := http.NewRequest(req.Method, scheme+"://"+req.Host+req.Path, bodyReader(req.Body))
	if err != nil {
		return 0, nil, fmt.Errorf("probe: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Host = req.Host

	if err := conn.SetWriteDeadline(time.Now().Add(w.Cfg.WriteTimeout)); err != nil {
		return 0, nil, err
	}
	if err := httpReq.Write(conn); err != nil {
		return 0, nil, fmt.Errorf("probe: write request: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(w.Cfg.ReadTimeout)); err != nil {
		return 0, nil, err
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("probe: read response: %w", err)
	}
	defer resp.Body.Close()

	body, err := readAll(resp)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// sendHTTPProxy issues req through the proxy in HTTP-proxy mode: the proxy
// terminates TLS and no SOCKS handshake occurs.
func (w *Worker) sendHTTPProxy(ctx context.Context, req adapter.Request) (int, []byte, error) {
	proxyURL := &url.URL{Scheme: "http", Host: w.current.Addr()}

	client := &http.Client{
		Timeout: w.Cfg.ConnectTimeout + w.Cfg.ReadTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
	}

	scheme := "http"
	if req.TLS {
		scheme = "https"
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, scheme+"://"+req.Host+req.Path, bodyReader(req.Body))
	if err != nil {
		return 0, nil, fmt.Errorf("probe: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := readAll(resp)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func socks5Creds(ep *endpoint.Endpoint) *socks5.Credentials {
	if ep.Creds == nil {
		return nil
	}
	return &socks5.Credentials{User: ep.Creds.User, Pass: ep.Creds.Pass}
}
