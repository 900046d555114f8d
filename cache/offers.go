package cache

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"bmcdhcp/dhcp"
)

// ClientState tracks where a client is in the DISCOVER/REQUEST exchange.
type ClientState int

const (
	NoOffer ClientState = iota
	Offered
	Acknowledged
)

func (s ClientState) String() string {
	switch s {
	case NoOffer:
		return "no-offer"
	case Offered:
		return "offered"
	case Acknowledged:
		return "acknowledged"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type CacheNode struct {
	created time.Time
	state   ClientState
	offer   *dhcp.ResponseMessage
}

// OfferStore keeps the last offer made to each hardware address. There is
// at most one record per address; a new offer replaces the old one.
type OfferStore struct {
	mu      sync.Mutex
	nodes   backend
	ttl     time.Duration
	nowFunc func() time.Time
}

type StoreOption func(*OfferStore) error

// WithTTL expires records ttl after they were last offered. Zero keeps
// records for the lifetime of the process.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *OfferStore) error {
		if ttl < 0 {
			return fmt.Errorf("negative offer ttl %s", ttl)
		}
		s.ttl = ttl
		return nil
	}
}

// WithCapacity bounds the store, evicting the least recently used record
// when full. Zero leaves the store unbounded.
func WithCapacity(size int) StoreOption {
	return func(s *OfferStore) error {
		if size < 0 {
			return fmt.Errorf("negative offer store capacity %d", size)
		}
		if size == 0 {
			return nil
		}
		b, err := newLRUBackend(size)
		if err != nil {
			return err
		}
		s.nodes = b
		return nil
	}
}

func withClock(now func() time.Time) StoreOption {
	return func(s *OfferStore) error {
		s.nowFunc = now
		return nil
	}
}

func NewOfferStore(opts ...StoreOption) (*OfferStore, error) {
	s := &OfferStore{
		nodes:   newMapBackend(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	slog.Debug("Creating offer store", "ttl", s.ttl, "bounded", s.nodes.bounded())
	return s, nil
}

// Put stores offer for mac, replacing any earlier record.
func (s *OfferStore) Put(mac net.HardwareAddr, offer *dhcp.ResponseMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes.add(mac.String(), &CacheNode{
		created: s.nowFunc(),
		state:   Offered,
		offer:   offer,
	})
	slog.Debug("Stored offer", "mac", mac.String(), "ip", offer.OfferedIP.String())
}

// Get returns the stored offer for mac, or nil.
func (s *OfferStore) Get(mac net.HardwareAddr) *dhcp.ResponseMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.live(mac.String())
	if node == nil {
		return nil
	}
	return node.offer
}

// State reports the client's position in the exchange.
func (s *OfferStore) State(mac net.HardwareAddr) ClientState {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.live(mac.String())
	if node == nil {
		return NoOffer
	}
	return node.state
}

// Acknowledge marks the stored offer as acknowledged and returns it as a
// DHCPACK. The record stays in the store.
func (s *OfferStore) Acknowledge(mac net.HardwareAddr) (*dhcp.ResponseMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.live(mac.String())
	if node == nil {
		return nil, false
	}
	node.state = Acknowledged
	return node.offer.AsAck(), true
}

func (s *OfferStore) Remove(mac net.HardwareAddr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nodes.remove(mac.String())
}

func (s *OfferStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nodes.len()
}

// live returns the node for key, dropping it first if it has expired.
// Callers hold s.mu.
func (s *OfferStore) live(key string) *CacheNode {
	node, ok := s.nodes.get(key)
	if !ok {
		return nil
	}
	if s.expired(node) {
		s.nodes.remove(key)
		return nil
	}
	return node
}

func (s *OfferStore) expired(node *CacheNode) bool {
	return s.ttl > 0 && s.nowFunc().Sub(node.created) > s.ttl
}

// Clean drops every expired record and returns how many were removed.
func (s *OfferStore) Clean() int {
	if s.ttl == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range s.nodes.keys() {
		node, ok := s.nodes.get(key)
		if ok && s.expired(node) {
			slog.Debug("Cleaning offer", "mac", key)
			s.nodes.remove(key)
			removed++
		}
	}
	return removed
}

// CleanJob runs Clean every frequency until ctx is done.
func (s *OfferStore) CleanJob(ctx context.Context, frequency time.Duration) {
	ticker := time.NewTicker(frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Clean(); n > 0 {
				slog.Debug("Cleaned offer store", "removed", n)
			}
		}
	}
}
