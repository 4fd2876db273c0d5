// internal/cache/keys.go
package cache

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	jsoniter "github.com/json-iterator/go"
)

var (
	ErrLookupTableAlreadySet = errors.New("lookup table address already set")
)

// KeySet is a set of account keys, typically the contents of a lookup table.
type KeySet map[solana.PublicKey]struct{}

func NewKeySet(keys ...solana.PublicKey) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s KeySet) Has(k solana.PublicKey) bool {
	_, ok := s[k]
	return ok
}

// KeyCache counts how often each account key was referenced by sampled
// routes and remembers the lookup table built for those keys.
//
// Keys keep their first-insertion order, including across a JSON round trip.
// A KeyCache is not safe for concurrent use.
type KeyCache struct {
	table  *solana.PublicKey
	order  []solana.PublicKey
	counts map[solana.PublicKey]uint64
}

func NewKeyCache() *KeyCache {
	return &KeyCache{counts: make(map[solana.PublicKey]uint64)}
}

// Record increments the count of every key, inserting new keys with 1.
// Duplicates inside keys are counted as separate observations.
func (c *KeyCache) Record(keys ...solana.PublicKey) {
	for _, k := range keys {
		if _, ok := c.counts[k]; !ok {
			c.order = append(c.order, k)
		}
		c.counts[k]++
	}
}

// Track inserts the keys that are not cached yet with a count of 1 and
// leaves known keys untouched. It returns how many keys were added.
func (c *KeyCache) Track(keys ...solana.PublicKey) int {
	added := 0
	for _, k := range keys {
		if _, ok := c.counts[k]; ok {
			continue
		}
		c.order = append(c.order, k)
		c.counts[k] = 1
		added++
	}
	return added
}

// DiffAgainstTable returns the cached keys missing from table, in insertion order.
func (c *KeyCache) DiffAgainstTable(table KeySet) []solana.PublicKey {
	missing := make([]solana.PublicKey, 0)
	for _, k := range c.order {
		if !table.Has(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// Keys returns a copy of the cached keys in insertion order.
func (c *KeyCache) Keys() []solana.PublicKey {
	out := make([]solana.PublicKey, len(c.order))
	copy(out, c.order)
	return out
}

func (c *KeyCache) Count(k solana.PublicKey) uint64 {
	return c.counts[k]
}

func (c *KeyCache) Len() int {
	return len(c.order)
}

// LookupTable returns the table address, if one was assigned.
func (c *KeyCache) LookupTable() (solana.PublicKey, bool) {
	if c.table == nil {
		return solana.PublicKey{}, false
	}
	return *c.table, true
}

// SetLookupTable assigns the table address once. Setting the same address
// again is a no-op; any other address is rejected.
func (c *KeyCache) SetLookupTable(addr solana.PublicKey) error {
	if c.table != nil {
		if c.table.Equals(addr) {
			return nil
		}
		return fmt.Errorf("%w: have %s, got %s", ErrLookupTableAlreadySet, c.table, addr)
	}
	c.table = &addr
	return nil
}

const (
	fieldLookupTable = "addressLookupTable"
	fieldKeys        = "keys"
)

// MarshalJSON writes {"addressLookupTable": "...", "keys": {"<key>": n}} with
// keys in insertion order.
func (c *KeyCache) MarshalJSON() ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteObjectStart()
	if c.table != nil {
		stream.WriteObjectField(fieldLookupTable)
		stream.WriteString(c.table.String())
		stream.WriteMore()
	}
	stream.WriteObjectField(fieldKeys)
	stream.WriteObjectStart()
	for i, k := range c.order {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(k.String())
		stream.WriteUint64(c.counts[k])
	}
	stream.WriteObjectEnd()
	stream.WriteObjectEnd()

	if stream.Error != nil {
		return nil, stream.Error
	}
	out := make([]byte, len(stream.Buffer()))
	copy(out, stream.Buffer())
	return out, nil
}

// UnmarshalJSON replaces the cache contents, preserving document key order.
func (c *KeyCache) UnmarshalJSON(data []byte) error {
	fresh := NewKeyCache()
	var decodeErr error

	iter := jsoniter.ParseBytes(json, data)
	iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		switch field {
		case fieldLookupTable:
			if it.WhatIsNext() == jsoniter.NilValue {
				it.Skip()
				return true
			}
			raw := it.ReadString()
			if raw == "" {
				return true
			}
			addr, err := solana.PublicKeyFromBase58(raw)
			if err != nil {
				decodeErr = fmt.Errorf("lookup table address %q: %w", raw, err)
				return false
			}
			fresh.table = &addr
		case fieldKeys:
			it.ReadObjectCB(func(kit *jsoniter.Iterator, rawKey string) bool {
				key, err := solana.PublicKeyFromBase58(rawKey)
				if err != nil {
					decodeErr = fmt.Errorf("cached key %q: %w", rawKey, err)
					return false
				}
				n := kit.ReadUint64()
				if n == 0 {
					return true
				}
				if _, ok := fresh.counts[key]; !ok {
					fresh.order = append(fresh.order, key)
				}
				fresh.counts[key] += n
				return true
			})
		default:
			it.Skip()
		}
		return decodeErr == nil
	})

	if decodeErr != nil {
		return decodeErr
	}
	if iter.Error != nil {
		return fmt.Errorf("decode key cache: %w", iter.Error)
	}

	*c = *fresh
	return nil
}

// LoadKeyCache returns the named cache, or an empty one when it does not exist.
func LoadKeyCache(s Store, name string) (*KeyCache, error) {
	c := NewKeyCache()
	if _, err := s.Load(name, c); err != nil {
		return nil, err
	}
	return c, nil
}
