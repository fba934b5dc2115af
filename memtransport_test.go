package riptide

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rcarmo/go-riptide/message"
	"github.com/rcarmo/go-riptide/transport"
)

// The tests drive peers over an in-memory hub: deterministic loss with a
// seeded RNG, per-direction blocking and per-tag send counters, with no real
// sockets or sleeps involved.

type memAddr string

func (memAddr) Network() string  { return "mem" }
func (a memAddr) String() string { return string(a) }

type memHub struct {
	mu   sync.Mutex
	eps  map[string]*memTransport
	rng  *rand.Rand
	loss float64

	// block drops every datagram from -> to when it returns true.
	block func(from, to string) bool
}

func newMemHub(seed int64) *memHub {
	return &memHub{
		eps: make(map[string]*memTransport),
		rng: rand.New(rand.NewSource(seed)),
	}
}

func (h *memHub) transport(name string) *memTransport {
	t := &memTransport{
		hub:       h,
		name:      name,
		sentByTag: make(map[message.Header]int),
	}
	h.mu.Lock()
	h.eps[name] = t
	h.mu.Unlock()
	return t
}

func (h *memHub) setLoss(rate float64) {
	h.mu.Lock()
	h.loss = rate
	h.mu.Unlock()
}

func (h *memHub) setBlock(f func(from, to string) bool) {
	h.mu.Lock()
	h.block = f
	h.mu.Unlock()
}

type memTransport struct {
	hub  *memHub
	name string

	mu        sync.Mutex
	queue     []transport.Datagram
	sentByTag map[message.Header]int
	err       error
}

func (t *memTransport) failWith(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func (t *memTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *memTransport) Bind(string) error { return nil }

func (t *memTransport) Resolve(address string) (net.Addr, error) {
	return memAddr(address), nil
}

func (t *memTransport) Send(data []byte, to net.Addr) error {
	if tag, ok := message.PeekHeader(data); ok {
		t.mu.Lock()
		t.sentByTag[tag]++
		t.mu.Unlock()
	}

	h := t.hub
	h.mu.Lock()
	if h.block != nil && h.block(t.name, to.String()) {
		h.mu.Unlock()
		return nil
	}
	if h.loss > 0 && h.rng.Float64() < h.loss {
		h.mu.Unlock()
		return nil
	}
	dst := h.eps[to.String()]
	h.mu.Unlock()
	if dst == nil {
		return nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	dst.mu.Lock()
	dst.queue = append(dst.queue, transport.Datagram{Data: buf, From: memAddr(t.name)})
	dst.mu.Unlock()
	return nil
}

func (t *memTransport) Receive() (transport.Datagram, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return transport.Datagram{}, false
	}
	d := t.queue[0]
	t.queue = t.queue[1:]
	return d, true
}

func (t *memTransport) sent(tag message.Header) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentByTag[tag]
}

func (t *memTransport) Close(net.Addr) {}

func (t *memTransport) Shutdown() error { return nil }

// fakeClock lets the tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
