package proxypool

import (
	"sync"

	"github.com/dgryski/go-rendezvous"

	"github.com/grishkovelli/phonewatch/internal/endpoint"
)

// ShareMessage is published by a pool whose refill completes and whose
// configuration enables sharing. Peer pools that have a
// different web_id not yet in sharedWith, match Protocol, and have
// capacity below the cap, merge the endpoints and add their web_id to the
// set.
type ShareMessage struct {
	SourceWebID uint32
	Protocol    Protocol
	Endpoints   []*endpoint.Endpoint
	sharedWith  map[uint32]bool
}

// Broker fans out ShareMessages between the pools of a process. A naive
// peer-to-peer broadcast is O(n²) with many concurrent pools, so the
// Broker uses rendezvous hashing over the live web_id set to pick a
// bounded subset of canonical recipients per message. That narrows who
// gets notified first, not whether a chosen peer merges, which the
// per-peer rule above still governs.
type Broker struct {
	mu    sync.Mutex
	pools map[uint32]*Pool
	proto map[uint32]Protocol
	hash  *rendezvous.Rendezvous
	// fanout bounds how many peers a single share message reaches
	// directly; the rest still see the endpoints on their own next fetch.
	fanout int
}

// NewBroker builds a Broker fanning each share message out to at most
// fanout peers (0 means no bound: broadcast to every matching peer).
func NewBroker(fanout int) *Broker {
	return &Broker{
		pools:  map[uint32]*Pool{},
		proto:  map[uint32]Protocol{},
		fanout: fanout,
	}
}

// Register enrolls a pool under webID so it can receive future share
// messages from sibling pools.
func (b *Broker) Register(webID uint32, proto Protocol, p *Pool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pools[webID] = p
	b.proto[webID] = proto
	b.rebuildHash()
}

// Owner returns the web_id of the pool that rendezvous-hashing assigns as
// the canonical owner of key among currently registered pools, used to
// pick a single deterministic recipient (e.g. when deciding which sibling
// pool should perform a count-endpoint check on behalf of the group).
func (b *Broker) Owner(key string) (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hash == nil {
		return 0, false
	}
	return idOf(b.hash.Lookup(key)), true
}

func idOf(key string) uint32 {
	var n uint32
	for _, c := range key[1:] {
		n = n*10 + uint32(c-'0')
	}
	return n
}

// Unregister removes a pool, e.g. when its owning task completes.
func (b *Broker) Unregister(webID uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.pools, webID)
	delete(b.proto, webID)
	b.rebuildHash()
}

func (b *Broker) rebuildHash() {
	ids := make([]string, 0, len(b.pools))
	for id := range b.pools {
		ids = append(ids, keyOf(id))
	}
	if len(ids) == 0 {
		b.hash = nil
		return
	}
	b.hash = rendezvous.New(ids, hashString)
}

// Publish delivers msg to the peers selected for SourceWebID's message.
func (b *Broker) Publish(msg ShareMessage) {
	b.mu.Lock()
	recipients := b.recipients(msg.SourceWebID, msg.Protocol)
	b.mu.Unlock()

	msg.sharedWith = map[uint32]bool{msg.SourceWebID: true}

	for _, id := range recipients {
		b.mu.Lock()
		peer, ok := b.pools[id]
		b.mu.Unlock()
		if !ok || msg.sharedWith[id] {
			continue
		}

		peer.mu.Lock()
		room := peer.cfg.Capacity - len(peer.endpoints)
		sameProto := peer.cfg.Protocol == msg.Protocol
		peer.mu.Unlock()

		if !sameProto || room <= 0 {
			continue
		}
		peer.AddMore(msg)
		msg.sharedWith[id] = true
	}
}

// recipients picks the canonical peers for a share message originating at
// sourceWebID: every peer matching protocol, ranked by rendezvous weight
// for this message's key and truncated to b.fanout (0 = unbounded). The
// single-owner case (b.hash.Lookup) is what go-rendezvous exposes
// directly; ranking the top-N re-scores candidates the same way the
// library's Lookup does internally, since the library itself only
// surfaces the single best match.
func (b *Broker) recipients(sourceWebID uint32, proto Protocol) []uint32 {
	candidates := make([]uint32, 0, len(b.pools))
	for id, p := range b.proto {
		if id == sourceWebID || p != proto {
			continue
		}
		candidates = append(candidates, id)
	}
	if b.fanout <= 0 || len(candidates) <= b.fanout {
		return candidates
	}

	key := keyOf(sourceWebID)
	type scored struct {
		id     uint32
		weight uint64
	}
	ranked := make([]scored, len(candidates))
	for i, id := range candidates {
		ranked[i] = scored{id: id, weight: hashString(keyOf(id) + key)}
	}
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].weight > ranked[j-1].weight; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	out := make([]uint32, 0, b.fanout)
	for i := 0; i < b.fanout && i < len(ranked); i++ {
		out = append(out, ranked[i].id)
	}
	return out
}

func keyOf(id uint32) string {
	return "w" + itoa(id)
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func hashString(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
