package proxypool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/bsm/ginkgo/v2"
	. "github.com/bsm/gomega"
)

var _ = Describe("Fetcher", func() {
	It("returns the vendor body on success", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("10.0.0.1:1080"))
		}))
		defer srv.Close()

		f := NewFetcher(time.Millisecond)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go f.Run(ctx)

		body, err := f.Fetch(context.Background(), srv.URL)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("10.0.0.1:1080"))
	})

	It("surfaces FetchFailed on a non-200 response", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		f := NewFetcher(time.Millisecond)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go f.Run(ctx)

		_, err := f.Fetch(context.Background(), srv.URL)
		Expect(err).To(Equal(ErrFetchFailed))
	})

	It("serializes consecutive fetches by at least the configured interval", func() {
		var times []time.Time
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			times = append(times, time.Now())
			w.Write([]byte("ok"))
		}))
		defer srv.Close()

		interval := 50 * time.Millisecond
		f := NewFetcher(interval)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go f.Run(ctx)

		_, _ = f.Fetch(context.Background(), srv.URL)
		_, _ = f.Fetch(context.Background(), srv.URL)

		Expect(times).To(HaveLen(2))
		Expect(times[1].Sub(times[0])).To(BeNumerically(">=", interval-5*time.Millisecond))
	})
})
