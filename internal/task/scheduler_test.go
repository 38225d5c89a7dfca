package task

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/grishkovelli/phonewatch/internal/adapter"
	"github.com/grishkovelli/phonewatch/internal/endpoint"
	"github.com/grishkovelli/phonewatch/internal/probe"
	"github.com/grishkovelli/phonewatch/internal/proxypool"
)

type fakeUploads struct {
	paths map[uint32]string
}

func (f *fakeUploads) UploadPath(id uint32) (string, error) {
	p, ok := f.paths[id]
	if !ok {
		return "", os.ErrNotExist
	}
	return p, nil
}

func writeUpload(dir string, name string, lines ...string) string {
	path := filepath.Join(dir, name)
	f, _ := os.Create(path)
	defer f.Close()
	for _, l := range lines {
		f.WriteString(l + "\n")
	}
	return path
}

type stubAdapter struct{ kind adapter.OutcomeKind }

func (s stubAdapter) PrepareRequest(number, useAuth string) adapter.Request {
	return adapter.Request{Method: "GET", Path: "/c?n=" + number, Host: "example.test"}
}
func (s stubAdapter) Classify(status int, body []byte) adapter.Outcome {
	return adapter.Outcome{Kind: s.kind}
}

// fakeProxyServer completes one no-auth SOCKS5 handshake and answers every
// HTTP request over that connection with a fixed 200 response.
func fakeProxyServer() string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		greet := make([]byte, 3)
		conn.Read(greet)
		conn.Write([]byte{0x05, 0x00})

		head := make([]byte, 5)
		conn.Read(head)
		rest := make([]byte, int(head[4])+2)
		conn.Read(rest)
		conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})

		reader := bufio.NewReader(conn)
		http.ReadRequest(reader)
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 11\r\nContent-Type: application/json\r\n\r\n{\"ok\":true}"))
	}()
	return ln.Addr().String()
}

var _ = Describe("Scheduler", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "phonewatch-scheduler")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("materializes a Fresh task's uploads and refuses an empty result", func() {
		uploads := &fakeUploads{paths: map[uint32]string{
			1: writeUpload(dir, "a.txt", "13000000001"),
			2: writeUpload(dir, "b.txt", "13000000002"),
		}}
		sink := &fakeSink{}
		s := NewScheduler(sink, uploads, func(t AtomicTask) (*Executor, error) {
			return &Executor{Workers: 0}, nil
		})

		path, err := s.materializeInput([]uint32{1, 2})
		Expect(err).NotTo(HaveOccurred())
		body, _ := os.ReadFile(path)
		Expect(string(body)).To(Equal("13000000001\n13000000002\n"))

		_, err = s.materializeInput([]uint32{99})
		Expect(err).To(HaveOccurred())

		uploads.paths[3] = writeUpload(dir, "empty.txt")
		_, err = s.materializeInput([]uint32{3})
		Expect(err).To(MatchError(ContainSubstring("is empty")))
	})

	It("runs a Fresh task end to end against a fake SOCKS5 endpoint", func() {
		addr := fakeProxyServer()
		host, portStr, err := net.SplitHostPort(addr)
		Expect(err).NotTo(HaveOccurred())
		port := 0
		for _, c := range portStr {
			port = port*10 + int(c-'0')
		}

		uploads := &fakeUploads{paths: map[uint32]string{
			1: writeUpload(dir, "nums.txt", "13000000009"),
		}}
		sink := &fakeSink{}

		s := NewScheduler(sink, uploads, func(t AtomicTask) (*Executor, error) {
			pool := proxypool.New(proxypool.Config{Capacity: 5}, proxypool.NewFetcher(time.Millisecond), nil)
			pool.AddMore(proxypool.ShareMessage{Endpoints: []*endpoint.Endpoint{endpoint.New(host, port, nil)}})

			cfg := probe.DefaultConfig()
			cfg.ConnectTimeout = time.Second

			return &Executor{
				SiteAlias: "site",
				SinkRoot:  dir,
				Site:      stubAdapter{kind: adapter.NotRegistered},
				Pool:      pool,
				Workers:   1,
				ProbeCfg:  cfg,
			}, nil
		})

		task := AtomicTask{Kind: Fresh, TaskID: 1, Total: 1, NumberIDs: []uint32{1}}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.dispatch(ctx, task)

		Expect(sink.completed).To(ContainElement(uint32(1)))
	})

	It("Stop reports false when no task is running", func() {
		s := NewScheduler(&fakeSink{}, &fakeUploads{}, nil)
		Expect(s.Stop(123, false)).To(BeFalse())
	})

	It("Stop routes to the executor currently assigned to that task id", func() {
		s := NewScheduler(&fakeSink{}, &fakeUploads{}, nil)
		ex := &Executor{}
		var cancelled bool
		ex.cancel = func() { cancelled = true }
		s.setCurrent(55, ex)

		Expect(s.Stop(55, true)).To(BeTrue())
		Expect(cancelled).To(BeTrue())
		Expect(ex.savingOnStop).To(BeTrue())
	})
})
