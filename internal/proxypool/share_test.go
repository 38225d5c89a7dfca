package proxypool

import (
	. "github.com/bsm/ginkgo/v2"
	. "github.com/bsm/gomega"

	"github.com/grishkovelli/phonewatch/internal/endpoint"
)

var _ = Describe("Broker", func() {
	It("merges into a matching-protocol peer with capacity", func() {
		b := NewBroker(0)
		src := &Pool{cfg: Config{WebID: 1, Protocol: SOCKS5, Capacity: 5}}
		dst := &Pool{cfg: Config{WebID: 2, Protocol: SOCKS5, Capacity: 5}}
		b.Register(src.cfg.WebID, SOCKS5, src)
		b.Register(dst.cfg.WebID, SOCKS5, dst)

		b.Publish(ShareMessage{
			SourceWebID: 1,
			Protocol:    SOCKS5,
			Endpoints:   []*endpoint.Endpoint{endpoint.New("9.9.9.9", 1, nil)},
		})

		Expect(dst.endpoints).To(HaveLen(1))
	})

	It("does not merge into a peer with a different protocol", func() {
		b := NewBroker(0)
		src := &Pool{cfg: Config{WebID: 1, Protocol: SOCKS5, Capacity: 5}}
		dst := &Pool{cfg: Config{WebID: 2, Protocol: HTTPHTTPS, Capacity: 5}}
		b.Register(src.cfg.WebID, SOCKS5, src)
		b.Register(dst.cfg.WebID, HTTPHTTPS, dst)

		b.Publish(ShareMessage{
			SourceWebID: 1,
			Protocol:    SOCKS5,
			Endpoints:   []*endpoint.Endpoint{endpoint.New("9.9.9.9", 1, nil)},
		})

		Expect(dst.endpoints).To(BeEmpty())
	})

	It("bounds fan-out to the configured number of peers", func() {
		b := NewBroker(1)
		src := &Pool{cfg: Config{WebID: 1, Protocol: SOCKS5, Capacity: 5}}
		b.Register(src.cfg.WebID, SOCKS5, src)

		peers := make([]*Pool, 3)
		for i := range peers {
			peers[i] = &Pool{cfg: Config{WebID: uint32(i + 2), Protocol: SOCKS5, Capacity: 5}}
			b.Register(peers[i].cfg.WebID, SOCKS5, peers[i])
		}

		b.Publish(ShareMessage{
			SourceWebID: 1,
			Protocol:    SOCKS5,
			Endpoints:   []*endpoint.Endpoint{endpoint.New("9.9.9.9", 1, nil)},
		})

		got := 0
		for _, peer := range peers {
			if len(peer.endpoints) == 1 {
				got++
			}
		}
		Expect(got).To(Equal(1))
	})

	It("resolves a deterministic Owner for a key once pools are registered", func() {
		b := NewBroker(0)
		b.Register(1, SOCKS5, &Pool{})
		b.Register(2, SOCKS5, &Pool{})

		owner1, ok := b.Owner("task-42")
		Expect(ok).To(BeTrue())
		owner2, _ := b.Owner("task-42")
		Expect(owner1).To(Equal(owner2))
	})
})
