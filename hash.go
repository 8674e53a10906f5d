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

import (
	"hash/maphash"

	"github.com/cespare/xxhash/v2"
)

// HashFunc hashes keys of type K. An implementation must be consistent with
// key equality: equal keys must yield equal hashes. Collisions between
// unequal keys are permitted and only cost extra key comparisons. An
// inconsistent HashFunc is not detected at runtime and manifests as
// duplicate or lost mappings.
type HashFunc[K comparable] func(key K) uint64

// defaultHashFunc builds a HashFunc backed by hash/maphash with a fresh
// seed, so hash values differ between tables and between process runs.
func defaultHashFunc[K comparable]() HashFunc[K] {
	seed := maphash.MakeSeed()
	return func(key K) uint64 {
		return maphash.Comparable(seed, key)
	}
}

// XXHashString is a HashFunc for string keys backed by xxhash. Unlike the
// default hash it is seedless: hash values are stable across tables and
// across process runs.
func XXHashString(key string) uint64 {
	return xxhash.Sum64String(key)
}

// adaptHash maps a raw hash into the code domain, steering clear of the two
// slot state markers: a raw hash that would collide with codeEmpty or
// codeTombstone becomes codeFirstLive. Equal keys still map to equal codes.
func adaptHash(h uint64) uint64 {
	if h < codeFirstLive {
		return codeFirstLive
	}
	return h
}
