package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

type backend interface {
	get(key string) (*CacheNode, bool)
	add(key string, node *CacheNode)
	remove(key string) bool
	keys() []string
	len() int
	bounded() bool
}

type mapBackend map[string]*CacheNode

func newMapBackend() mapBackend {
	return make(mapBackend)
}

func (m mapBackend) get(key string) (*CacheNode, bool) {
	node, ok := m[key]
	return node, ok
}

func (m mapBackend) add(key string, node *CacheNode) {
	m[key] = node
}

func (m mapBackend) remove(key string) bool {
	_, ok := m[key]
	delete(m, key)
	return ok
}

func (m mapBackend) keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	return keys
}

func (m mapBackend) len() int {
	return len(m)
}

func (m mapBackend) bounded() bool {
	return false
}

type lruBackend struct {
	cache *lru.Cache
}

func newLRUBackend(size int) (*lruBackend, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru offer store: %w", err)
	}
	return &lruBackend{cache: c}, nil
}

func (l *lruBackend) get(key string) (*CacheNode, bool) {
	v, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*CacheNode), true
}

func (l *lruBackend) add(key string, node *CacheNode) {
	l.cache.Add(key, node)
}

func (l *lruBackend) remove(key string) bool {
	return l.cache.Remove(key)
}

func (l *lruBackend) keys() []string {
	raw := l.cache.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(string))
	}
	return keys
}

func (l *lruBackend) len() int {
	return l.cache.Len()
}

func (l *lruBackend) bounded() bool {
	return true
}
