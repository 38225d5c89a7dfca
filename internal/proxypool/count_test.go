package proxypool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/bsm/ginkgo/v2"
	. "github.com/bsm/gomega"
)

var _ = Describe("flexInt", func() {
	It("decodes a JSON number", func() {
		var f flexInt
		Expect(f.UnmarshalJSON([]byte("42"))).To(Succeed())
		Expect(f).To(Equal(flexInt(42)))
	})

	It("decodes a JSON string", func() {
		var f flexInt
		Expect(f.UnmarshalJSON([]byte(`"42"`))).To(Succeed())
		Expect(f).To(Equal(flexInt(42)))
	})

	It("treats an empty string as zero", func() {
		var f flexInt
		Expect(f.UnmarshalJSON([]byte(`""`))).To(Succeed())
		Expect(f).To(Equal(flexInt(0)))
	})
})

var _ = Describe("Pool.fetchRemainingCount", func() {
	It("parses a successful count response", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code":200,"data":[{"expire_time":"2027-01-01 00:00:00","is_available":true,"remain_connect":"10","remain_extract":5,"remain":100}]}`))
		}))
		defer srv.Close()

		f := NewFetcher(time.Millisecond)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go f.Run(ctx)

		p := &Pool{cfg: Config{CountTarget: srv.URL}, fetcher: f}
		stats, err := p.fetchRemainingCount(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Available).To(BeTrue())
		Expect(stats.RemainingConnects).To(Equal(10))
		Expect(stats.RemainingExtracts).To(Equal(5))
		Expect(stats.RemainingProducts).To(Equal(100))
	})

	It("errors when the vendor reports a non-200 code", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code":403,"data":[]}`))
		}))
		defer srv.Close()

		f := NewFetcher(time.Millisecond)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go f.Run(ctx)

		p := &Pool{cfg: Config{CountTarget: srv.URL}, fetcher: f}
		_, err := p.fetchRemainingCount(context.Background())
		Expect(err).To(HaveOccurred())
	})

	It("marks Available false when remain is exhausted", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code":200,"data":[{"is_available":true,"remain":0}]}`))
		}))
		defer srv.Close()

		f := NewFetcher(time.Millisecond)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go f.Run(ctx)

		p := &Pool{cfg: Config{CountTarget: srv.URL}, fetcher: f}
		stats, err := p.fetchRemainingCount(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Available).To(BeFalse())
	})
})
