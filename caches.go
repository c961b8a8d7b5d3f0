package dbus

import (
	"errors"
	"fmt"
	"sync"
)

// errNotFound is returned by cache.Get when the key has no entry yet,
// distinguishing "not computed" from "computed and failed".
var errNotFound = errors.New("not found in cache")

// cache memoizes the result (or error) of an expensive, pure
// computation keyed by K. It is used to avoid re-deriving the same
// Signature, EncoderFunc or DecoderFunc for a reflect.Type every time
// one is needed.
//
// The zero cache is ready to use.
type cache[K comparable, V any] struct {
	m sync.Map // K -> cacheEntry[V]
}

type cacheEntry[V any] struct {
	val V
	err error
}

// Get returns the cached value for k. If k has no entry, Get returns
// errNotFound. If the cached entry is an error recorded by SetErr, Get
// returns that error.
func (c *cache[K, V]) Get(k K) (V, error) {
	v, ok := c.m.Load(k)
	if !ok {
		var zero V
		return zero, errNotFound
	}
	ent, ok := v.(cacheEntry[V])
	if !ok {
		panic(fmt.Sprintf("mystery value %v (%T) in cache", v, v))
	}
	return ent.val, ent.err
}

// Set records val as the result for k.
func (c *cache[K, V]) Set(k K, val V) {
	c.m.Store(k, cacheEntry[V]{val: val})
}

// SetErr records err as the (permanent) result for k.
func (c *cache[K, V]) SetErr(k K, err error) {
	c.m.Store(k, cacheEntry[V]{err: err})
}
