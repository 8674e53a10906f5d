// Copyright 2026 The hashtables Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hashtables provides Map, a mutable in-memory hash table that maps
// keys to values using open addressing with linear probing. It trades memory
// overhead and occasional long-latency resizes for the fastest possible
// lookup and insert paths.
//
// # Layout
//
// A Map keeps its slots in three flat, co-indexed stores: a hash-code store,
// a key store, and a value store. The struct-of-arrays split keeps the code
// store dense, so a probe scan touches only one word per slot until a
// candidate match forces a full key comparison. The code store doubles as
// the slot state:
//
//	empty:     0  (never occupied, or vacated by a resize)
//	tombstone: 1  (previously occupied, now deleted)
//	occupied:  the adapted hash of the slot's key, always >= 2
//
// Raw hashes are adapted so they never collide with the two markers: a raw
// hash of 0 or 1 becomes 2 (see adaptHash). The stored code serves as a
// cheap pre-comparison before key equality is checked, and is reused during
// resize, which rebuilds the table without rehashing a single key.
//
// The code store is physically padded past the logical capacity to the next
// cache-line multiple of words so batched line reads near the logical end
// never go out of bounds. Padded cells are always empty and are never
// reported as slots; all wraparound arithmetic and all key/value indexing is
// taken modulo the logical capacity.
//
// # Probing
//
// Collisions are resolved by scanning forward circularly from the key's home
// bucket, hash mod capacity. An empty slot terminates a probe as "absent";
// tombstones do not terminate a probe but are remembered, so an insertion
// reclaims the first one on its path rather than consuming a fresh empty
// slot. After every insertion the load factor (live slots over capacity) is
// at most 82/100; exceeding it triggers a synchronous full rehash into a
// table of twice the capacity. Capacity only grows, never shrinks.
package hashtables

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
)

const (
	debug = false

	// A cache line is 64 bytes and a code cell is one 8-byte word, so a
	// batched scan reads codeLineWords codes at a time.
	cacheLineBytes = 64
	codeLineWords  = cacheLineBytes / 8

	// Slot state markers in the code store. Occupied slots hold the
	// adapted hash of their key, which is >= codeFirstLive by
	// construction.
	codeEmpty     uint64 = 0
	codeTombstone uint64 = 1
	codeFirstLive uint64 = 2

	// Resize triggers when the live count exceeds maxLoadNum/maxLoadDen
	// of capacity.
	maxLoadNum = 82
	maxLoadDen = 100

	// Expected element count used by New.
	defaultExpected = 8

	// Fixed per-table bookkeeping words charged by Overhead.
	tableOverheadWords = 8
)

// Map is an unordered map from keys to values with Put, Get, Delete, All,
// and Fold operations. By default a Map[K,V] hashes keys with hash/maphash
// under a per-table seed; a different hash function can be specified using
// the WithHash option.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	// The hash function for keys of type K.
	hash HashFunc[K]
	// The allocator to use for the code, key, and value stores.
	allocator Allocator[K, V]
	// codes is the hash-code store. Its physical length is the logical
	// capacity padded to the next cache-line multiple (see paddedLen);
	// the padded cells are always codeEmpty and never correspond to a
	// slot.
	codes []uint64
	// keys and values are capacity in length and co-indexed with codes.
	keys   []K
	values []V
	// The total number of slots (always a power of 2, so capacity-1 is
	// usable as an index mask).
	capacity int
	// The number of occupied, non-tombstoned slots.
	live int
}

// Table is the uniform contract shared by interchangeable table backends.
// Code written against Table can swap *Map for an alternative strategy
// without changes. Fold is absent because its accumulator type parameter
// cannot appear on a method.
type Table[K comparable, V any] interface {
	Put(key K, value V)
	Get(key K) (V, bool)
	Delete(key K)
	Len() int
	All(yield func(key K, value V) bool)
	ForEach(f func(key K, value V))
	Overhead() float64
}

var _ Table[int, int] = (*Map[int, int])(nil)

// New constructs an empty Map sized for a small default expected element
// count. The zero value for a Map is not usable.
func New[K comparable, V any](options ...option[K, V]) *Map[K, V] {
	return NewSized[K, V](defaultExpected, options...)
}

// NewSized constructs an empty Map sized so that expected elements can be
// inserted without a resize: the capacity is the smallest power of 2 that is
// >= ceil(expected / maxLoad).
func NewSized[K comparable, V any](expected int, options ...option[K, V]) *Map[K, V] {
	m := &Map[K, V]{
		hash:      defaultHashFunc[K](),
		allocator: defaultAllocator[K, V]{},
	}
	for _, op := range options {
		op.apply(m)
	}

	capacity := capacityFor(expected)
	m.codes = m.allocator.AllocCodes(paddedLen(capacity))
	m.keys = m.allocator.AllocKeys(capacity)
	m.values = m.allocator.AllocValues(capacity)
	m.capacity = capacity

	m.checkInvariants()
	return m
}

// capacityFor returns the capacity to allocate for an expected element
// count: the smallest power of 2 that keeps the table within the maximum
// load factor once expected elements are live, and never less than one full
// code line.
func capacityFor(expected int) int {
	if expected < 1 {
		expected = 1
	}
	target := (expected*maxLoadDen + maxLoadNum - 1) / maxLoadNum
	capacity := 1 << bits.Len(uint(target-1))
	if capacity < codeLineWords {
		capacity = codeLineWords
	}
	return capacity
}

// paddedLen returns the physical length of the code store for a logical
// capacity: rounded up to the next cache-line multiple of words, strictly
// greater than capacity, so that a full line read starting at any slot index
// stays in bounds.
func paddedLen(capacity int) int {
	return (capacity/codeLineWords + 1) * codeLineWords
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists.
func (m *Map[K, V]) Put(key K, value V) {
	code := adaptHash(m.hash(key))
	if debug {
		fmt.Printf("put(%v): code=%d bucket=%d\n", key, code, int(code)&(m.capacity-1))
	}

	i, found := m.findSlot(code, key, false)
	if found {
		// Overwriting: findSlot has already released the previous
		// mapping, unless the found slot is the placement slot itself,
		// which the write below replaces wholesale.
		m.live--
	}
	m.codes[i] = code
	m.keys[i] = key
	m.values[i] = value
	m.live++

	if m.live*maxLoadDen > m.capacity*maxLoadNum {
		m.resize(2 * m.capacity)
	}
	m.checkInvariants()
}

// Delete deletes the entry corresponding to the specified key from the map.
// It is a noop to delete a non-existent key.
func (m *Map[K, V]) Delete(key K) {
	code := adaptHash(m.hash(key))
	if debug {
		fmt.Printf("delete(%v): code=%d bucket=%d\n", key, code, int(code)&(m.capacity-1))
	}

	if _, found := m.findSlot(code, key, true); found {
		m.live--
	}
	m.checkInvariants()
}

// Get retrieves the value from the map for the specified key, returning
// ok=false if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	code := adaptHash(m.hash(key))
	mask := m.capacity - 1
	pos := int(code) & mask

	// The probe scans codes a cache line at a time. The padding makes the
	// full line read in bounds at any slot index, but the cells past the
	// logical capacity are always empty and must not terminate the probe:
	// the match window is clamped to capacity-pos and the scan wraps to
	// slot 0 instead.
	for n := 0; n < m.capacity; {
		line := m.codes[pos : pos+codeLineWords]
		window := m.capacity - pos
		if window > codeLineWords {
			window = codeLineWords
		}
		for j := 0; j < window; j++ {
			switch line[j] {
			case codeEmpty:
				return value, false
			case code:
				if i := pos + j; m.keys[i] == key {
					return m.values[i], true
				}
				// Code collision without key equality: keep
				// probing.
			}
		}
		n += window
		pos = (pos + window) & mask
	}
	// A full cycle without an empty slot: the table is saturated with
	// tombstones and the key is absent.
	return value, false
}

// findSlot is the placement routine shared by Put and Delete. It probes from
// code's home bucket with the terminal set {code, empty, tombstone},
// remembering the first tombstone encountered as the preferred placement
// slot.
//
// If the key is absent, found is false and slot is where a fresh mapping
// belongs: the first tombstone on the probe path if one was seen, else the
// terminating empty slot. Reclaiming the tombstone keeps churn from
// appending new entries past an ever-growing tombstone run.
//
// If the key is present, found is true. The found slot is cleared to a
// tombstone, releasing its key and value, unless it is itself the placement
// slot, in which case clearing is skipped and the caller overwrites it in
// place. clearFound forces the clear even then, which is what Delete wants.
func (m *Map[K, V]) findSlot(code uint64, key K, clearFound bool) (slot int, found bool) {
	mask := m.capacity - 1
	i := int(code) & mask
	firstFree := -1

	for n := 0; n < m.capacity; n++ {
		switch c := m.codes[i]; {
		case c == codeEmpty:
			if firstFree >= 0 {
				return firstFree, false
			}
			return i, false
		case c == codeTombstone:
			if firstFree < 0 {
				firstFree = i
			}
		case c == code && m.keys[i] == key:
			if clearFound || firstFree >= 0 {
				m.clearSlot(i)
			}
			if firstFree >= 0 {
				return firstFree, true
			}
			return i, true
		}
		i = (i + 1) & mask
	}

	// A full cycle without a match or an empty slot: the key is absent
	// and every slot is occupied or tombstoned. The load bound keeps
	// occupancy strictly below capacity, so a tombstone was recorded.
	return firstFree, false
}

// clearSlot transitions slot i away from occupied, resetting its key and
// value cells so the references they held are released rather than left
// dangling.
func (m *Map[K, V]) clearSlot(i int) {
	var zeroK K
	var zeroV V
	m.codes[i] = codeTombstone
	m.keys[i] = zeroK
	m.values[i] = zeroV
}

// resize rebuilds the table at newCapacity. It runs synchronously inside the
// Put that tripped the load bound and blocks until every live entry has been
// replaced into the new stores; its latency is proportional to the live
// count. The stored codes already carry each key's adapted hash, so no key
// is rehashed. The old table held at most one slot per key and the new
// stores hold no tombstones, so placement only needs the first empty slot in
// probe order.
func (m *Map[K, V]) resize(newCapacity int) {
	oldCodes, oldKeys, oldValues := m.codes, m.keys, m.values
	oldCapacity := m.capacity

	m.codes = m.allocator.AllocCodes(paddedLen(newCapacity))
	m.keys = m.allocator.AllocKeys(newCapacity)
	m.values = m.allocator.AllocValues(newCapacity)
	m.capacity = newCapacity

	if debug {
		fmt.Printf("resize: capacity=%d->%d live=%d\n", oldCapacity, newCapacity, m.live)
	}

	mask := newCapacity - 1
	for i := 0; i < oldCapacity; i++ {
		c := oldCodes[i]
		if c == codeEmpty || c == codeTombstone {
			continue
		}
		j := int(c) & mask
		for m.codes[j] != codeEmpty {
			j = (j + 1) & mask
		}
		m.codes[j] = c
		m.keys[j] = oldKeys[i]
		m.values[j] = oldValues[i]
	}

	m.allocator.FreeCodes(oldCodes)
	m.allocator.FreeKeys(oldKeys)
	m.allocator.FreeValues(oldValues)
}

// All calls yield sequentially for each key and value present in the map, in
// slot order. Slot order is an artifact of placement and changes across
// resizes; it bears no relation to insertion order. If yield returns false,
// iteration stops. Mutating the map from within yield is unsupported and its
// effects are unspecified.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	for i := 0; i < m.capacity; i++ {
		if m.codes[i] >= codeFirstLive {
			if !yield(m.keys[i], m.values[i]) {
				return
			}
		}
	}
}

// ForEach applies f to each key and value present in the map, in slot order.
// The same mutation restriction as All applies.
func (m *Map[K, V]) ForEach(f func(key K, value V)) {
	m.All(func(k K, v V) bool {
		f(k, v)
		return true
	})
}

// Fold reduces a map to a single value by applying f to an accumulator and
// each mapping in turn, in slot order, starting from seed. Fold is a
// package-level function rather than a method because the accumulator type
// is independent of the map's key and value types.
func Fold[K comparable, V, A any](m *Map[K, V], seed A, f func(acc A, key K, value V) A) A {
	acc := seed
	m.All(func(k K, v V) bool {
		acc = f(acc, k, v)
		return true
	})
	return acc
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.live
}

// Overhead estimates the number of machine words of overhead per live
// mapping, beyond the two words intrinsically needed to reference a key and
// a value. The three co-indexed stores cost three words per slot, or 3/k
// words per mapping at load factor k, plus a fixed per-table bookkeeping
// share. An empty map reports +Inf: with no mappings there is no meaningful
// per-mapping figure.
func (m *Map[K, V]) Overhead() float64 {
	if m.live == 0 {
		return math.Inf(1)
	}
	k := float64(m.live) / float64(m.capacity)
	return tableOverheadWords/float64(m.capacity) + (3/k - 2)
}

// Clear removes all entries from the map, retaining its current capacity.
func (m *Map[K, V]) Clear() {
	clear(m.codes)
	clear(m.keys)
	clear(m.values)
	m.live = 0
	m.checkInvariants()
}

// Close releases the backing stores to the configured allocator. It is
// unnecessary to close a map using the default allocator. It is invalid to
// use a Map after it has been closed, though Close itself is idempotent.
func (m *Map[K, V]) Close() {
	if m.allocator == nil {
		return
	}
	m.allocator.FreeCodes(m.codes)
	m.allocator.FreeKeys(m.keys)
	m.allocator.FreeValues(m.values)
	m.codes, m.keys, m.values = nil, nil, nil
	m.capacity = 0
	m.live = 0
	m.allocator = nil
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if m.capacity&(m.capacity-1) != 0 {
			panic(fmt.Sprintf("invariant failed: capacity %d is not a power of 2", m.capacity))
		}
		if len(m.keys) != m.capacity || len(m.values) != m.capacity {
			panic(fmt.Sprintf("invariant failed: key/value stores %d/%d, capacity %d",
				len(m.keys), len(m.values), m.capacity))
		}
		if len(m.codes) != paddedLen(m.capacity) {
			panic(fmt.Sprintf("invariant failed: code store %d, want padded %d",
				len(m.codes), paddedLen(m.capacity)))
		}
		for i := m.capacity; i < len(m.codes); i++ {
			if m.codes[i] != codeEmpty {
				panic(fmt.Sprintf("invariant failed: padded cell %d is %d, not empty\n%s",
					i, m.codes[i], m.debugString()))
			}
		}

		// For every occupied slot, verify the stored code matches the
		// key's adapted hash and that the key is reachable via Get.
		var live int
		for i := 0; i < m.capacity; i++ {
			c := m.codes[i]
			if c < codeFirstLive {
				continue
			}
			live++
			if want := adaptHash(m.hash(m.keys[i])); c != want {
				panic(fmt.Sprintf("invariant failed: slot(%d): code=%d, adapted hash=%d\n%s",
					i, c, want, m.debugString()))
			}
			if _, ok := m.Get(m.keys[i]); !ok {
				panic(fmt.Sprintf("invariant failed: slot(%d): %v not found\n%s",
					i, m.keys[i], m.debugString()))
			}
		}
		if live != m.live {
			panic(fmt.Sprintf("invariant failed: found %d live slots, but live count is %d\n%s",
				live, m.live, m.debugString()))
		}
		if m.live*maxLoadDen > m.capacity*maxLoadNum {
			panic(fmt.Sprintf("invariant failed: load %d/%d exceeds %d/%d\n%s",
				m.live, m.capacity, maxLoadNum, maxLoadDen, m.debugString()))
		}
	}
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  live=%d\n", m.capacity, m.live)
	for i := 0; i < len(m.codes); i++ {
		switch c := m.codes[i]; {
		case c == codeEmpty:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case c == codeTombstone:
			fmt.Fprintf(&buf, "  %4d: tombstone\n", i)
		case i >= m.capacity:
			fmt.Fprintf(&buf, "  %4d: [padding, code=%d]\n", i, c)
		default:
			fmt.Fprintf(&buf, "  %4d: %v [code=%d]\n", i, m.keys[i], c)
		}
	}
	return buf.String()
}
