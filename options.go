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

package hashtables

// option provides an interface to do work on Map while it is being created.
type option[K comparable, V any] interface {
	apply(m *Map[K, V])
}

type hashOption[K comparable, V any] struct {
	hash HashFunc[K]
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[K,V].
func WithHash[K comparable, V any](hash HashFunc[K]) option[K, V] {
	return hashOption[K, V]{hash}
}

// Allocator specifies an interface for allocating and releasing the backing
// stores of a Map. The default allocator utilizes Go's builtin make() and
// allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that the stores
// be freed then Map.Close must be called in order to ensure the Free methods
// run for the final backing stores.
type Allocator[K comparable, V any] interface {
	// AllocCodes should return a slice equivalent to make([]uint64, n).
	AllocCodes(n int) []uint64

	// AllocKeys should return a slice equivalent to make([]K, n).
	AllocKeys(n int) []K

	// AllocValues should return a slice equivalent to make([]V, n).
	AllocValues(n int) []V

	// FreeCodes can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocCodes.
	FreeCodes(v []uint64)

	// FreeKeys can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocKeys.
	FreeKeys(v []K)

	// FreeValues can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocValues.
	FreeValues(v []V)
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) AllocCodes(n int) []uint64 {
	return make([]uint64, n)
}

func (defaultAllocator[K, V]) AllocKeys(n int) []K {
	return make([]K, n)
}

func (defaultAllocator[K, V]) AllocValues(n int) []V {
	return make([]V, n)
}

func (defaultAllocator[K, V]) FreeCodes(v []uint64) {
}

func (defaultAllocator[K, V]) FreeKeys(v []K) {
}

func (defaultAllocator[K, V]) FreeValues(v []V) {
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specifying the Allocator to use for a
// Map[K,V].
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}
