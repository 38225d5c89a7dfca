package probe

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	. "github.com/bsm/ginkgo/v2"
	. "github.com/bsm/gomega"

	"github.com/grishkovelli/phonewatch/internal/adapter"
	"github.com/grishkovelli/phonewatch/internal/endpoint"
	"github.com/grishkovelli/phonewatch/internal/numstream"
	"github.com/grishkovelli/phonewatch/internal/proxypool"
)

func TestProbe(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "probe")
}

// fakeAdapter lets each test control classification without a real site.
type fakeAdapter struct {
	classify func(status int, body []byte) adapter.Outcome
}

func (f fakeAdapter) PrepareRequest(number string, useAuth string) adapter.Request {
	return adapter.Request{Method: "GET", Path: "/check?n=" + number, Host: "example.test"}
}

func (f fakeAdapter) Classify(status int, body []byte) adapter.Outcome {
	return f.classify(status, body)
}

// plainSocks5Server accepts connections, completes a no-auth handshake on
// each, then serves one HTTP request/response exchange per connection; the
// worker dials a fresh connection per probe attempt, so a 407 retry arrives
// as a second connection with its own handshake.
func plainSocks5Server(respond func(r *http.Request) *http.Response) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()

				head := make([]byte, 2)
				io.ReadFull(conn, head)
				methods := make([]byte, int(head[1]))
				io.ReadFull(conn, methods)
				conn.Write([]byte{0x05, 0x00})

				connectHead := make([]byte, 5)
				io.ReadFull(conn, connectHead)
				domainLen := int(connectHead[4])
				rest := make([]byte, domainLen+2)
				io.ReadFull(conn, rest)
				conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})

				req, err := http.ReadRequest(bufio.NewReader(conn))
				if err != nil {
					return
				}
				respond(req).Write(conn)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func endpointAt(addr string) *endpoint.Endpoint {
	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}
	return endpoint.New(host, port, nil)
}

func newPool(endpoints ...*endpoint.Endpoint) *proxypool.Pool {
	f := proxypool.NewFetcher(time.Millisecond)
	go f.Run(context.Background())
	p := proxypool.New(proxypool.Config{Capacity: 10}, f, nil)
	p.AddMore(proxypool.ShareMessage{Endpoints: endpoints})
	return p
}

func tempNumbersFile(numbers []string) string {
	f, err := os.CreateTemp("", "probe-numbers")
	if err != nil {
		panic(err)
	}
	defer f.Close()
	for _, n := range numbers {
		f.WriteString(n + "\n")
	}
	return f.Name()
}

func httpResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

var _ = Describe("Worker.Run", func() {
	It("classifies a response and stops once the number stream is drained", func() {
		addr := plainSocks5Server(func(r *http.Request) *http.Response {
			return httpResponse(200, `{"ok":true}`)
		})

		stream, err := numstream.Open(tempNumbersFile([]string{"8610000000"}))
		Expect(err).NotTo(HaveOccurred())

		var got []Classification
		w := &Worker{
			Pool:    newPool(endpointAt(addr)),
			Numbers: stream,
			Site:    fakeAdapter{classify: func(status int, body []byte) adapter.Outcome { return adapter.Outcome{Kind: adapter.NotRegistered} }},
			Cfg:     DefaultConfig(),
			OnClassify: func(c Classification) {
				got = append(got, c)
			},
		}
		w.Cfg.ConnectTimeout = time.Second

		w.Run(context.Background())

		Expect(got).To(HaveLen(1))
		Expect(got[0].Number).To(Equal("8610000000"))
		Expect(got[0].Outcome.Kind).To(Equal(adapter.NotRegistered))
	})

	It("propagates RequestStop on HTTP 400 and pushes the number back", func() {
		addr := plainSocks5Server(func(r *http.Request) *http.Response {
			return httpResponse(400, "")
		})

		stream, err := numstream.Open(tempNumbersFile([]string{"8610000001"}))
		Expect(err).NotTo(HaveOccurred())

		stopped := false
		w := &Worker{
			Pool:    newPool(endpointAt(addr)),
			Numbers: stream,
			Site:    fakeAdapter{classify: func(int, []byte) adapter.Outcome { return adapter.Outcome{Kind: adapter.Unknown} }},
			Cfg:     DefaultConfig(),
			OnStop:  func() { stopped = true },
		}
		w.Cfg.ConnectTimeout = time.Second

		w.Run(context.Background())

		Expect(stopped).To(BeTrue())
		n, err := stream.Get()
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal("8610000001"))
	})

	It("retries once with an auth header after a 407 and then classifies", func() {
		first := true
		addr := plainSocks5Server(func(r *http.Request) *http.Response {
			if first {
				first = false
				return httpResponse(407, "")
			}
			return httpResponse(200, `{"ok":true}`)
		})

		stream, err := numstream.Open(tempNumbersFile([]string{"8610000002"}))
		Expect(err).NotTo(HaveOccurred())

		ep := endpointAt(addr)
		ep.Creds = &endpoint.Credentials{User: "alice", Pass: "secret"}

		var got []Classification
		w := &Worker{
			Pool:    newPool(ep),
			Numbers: stream,
			Site:    fakeAdapter{classify: func(status int, body []byte) adapter.Outcome { return adapter.Outcome{Kind: adapter.Registered} }},
			Cfg:     DefaultConfig(),
			OnClassify: func(c Classification) {
				got = append(got, c)
			},
		}
		w.Cfg.ConnectTimeout = time.Second

		w.Run(context.Background())

		Expect(got).To(HaveLen(1))
		Expect(got[0].Outcome.Kind).To(Equal(adapter.Registered))
	})

	It("marks the endpoint Waiting and gives up when Classify signals Retry and no peer exists", func() {
		addr := plainSocks5Server(func(r *http.Request) *http.Response {
			return httpResponse(200, `{"errCode":21017}`)
		})

		stream, err := numstream.Open(tempNumbersFile([]string{"8610000003"}))
		Expect(err).NotTo(HaveOccurred())

		ep := endpointAt(addr)
		pool := newPool(ep)

		w := &Worker{
			Pool:    pool,
			Numbers: stream,
			Site:    fakeAdapter{classify: func(int, []byte) adapter.Outcome { return adapter.Outcome{Retry: true, Signal: adapter.SignalWaiting} }},
			Cfg:     DefaultConfig(),
		}
		w.Cfg.ConnectTimeout = time.Second

		w.Run(context.Background())

		n, err := stream.Get()
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal("8610000003"))
		Expect(ep.State()).To(Equal(endpoint.Waiting))
	})
})
