package proxypool

import (
	"os"
	"time"

	. "github.com/bsm/ginkgo/v2"
	. "github.com/bsm/gomega"

	"github.com/grishkovelli/phonewatch/internal/endpoint"
)

var _ = Describe("persistence", func() {
	var dir, prevWd string

	BeforeEach(func() {
		var err error
		prevWd, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		dir, err = os.MkdirTemp("", "proxypool-persist")
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(dir)).To(Succeed())
	})

	AfterEach(func() {
		os.Chdir(prevWd)
		os.RemoveAll(dir)
	})

	It("returns nothing when no cache file exists", func() {
		Expect(loadPersisted(SOCKS5)).To(BeEmpty())
	})

	It("loads endpoints written by persist", func() {
		persist(SOCKS5, []*endpoint.Endpoint{
			endpoint.New("10.0.0.1", 1080, &endpoint.Credentials{User: "alice", Pass: "secret"}),
			endpoint.New("10.0.0.2", 1080, nil),
		})

		got := loadPersisted(SOCKS5)
		Expect(got).To(HaveLen(2))
		Expect(got[0].Addr()).To(Equal("10.0.0.1:1080"))
		Expect(got[0].Creds.User).To(Equal("alice"))
		Expect(got[1].Creds).To(BeNil())
	})

	It("deduplicates lines already present on disk", func() {
		e := endpoint.New("10.0.0.1", 1080, nil)
		persist(SOCKS5, []*endpoint.Endpoint{e})
		persist(SOCKS5, []*endpoint.Endpoint{e})

		got := loadPersisted(SOCKS5)
		Expect(got).To(HaveLen(1))
	})

	It("skips and deletes a stale cache file", func() {
		path := persistPath(SOCKS5)
		Expect(os.WriteFile(path, []byte("10.0.0.1:1080\n"), 0o644)).To(Succeed())

		old := time.Now().Add(-2 * staleAfter)
		Expect(os.Chtimes(path, old, old)).To(Succeed())

		Expect(loadPersisted(SOCKS5)).To(BeEmpty())
		_, err := os.Stat(path)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("keeps socks5 and http caches in separate files", func() {
		persist(SOCKS5, []*endpoint.Endpoint{endpoint.New("10.0.0.1", 1080, nil)})
		persist(HTTPHTTPS, []*endpoint.Endpoint{endpoint.New("10.0.0.2", 8080, nil)})

		Expect(loadPersisted(SOCKS5)).To(HaveLen(1))
		Expect(loadPersisted(HTTPHTTPS)).To(HaveLen(1))
	})
})
