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
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

func BenchmarkMapIter(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapIter[int64], genKeys[int64]))
	})
	b.Run("impl=hashtables", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkMapIter[int64], genKeys[int64]))
	})
}

func BenchmarkMapGetHit(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapGetHit[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetHit[string], genKeys[string]))
	})
	b.Run("impl=hashtables", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkMapGetHit[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkMapGetHit[string], genKeys[string]))
	})
}

func BenchmarkMapGetMiss(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapGetMiss[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetMiss[string], genKeys[string]))
	})
	b.Run("impl=hashtables", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkMapGetMiss[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkMapGetMiss[string], genKeys[string]))
	})
}

func BenchmarkMapPutGrow(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutGrow[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapPutGrow[string], genKeys[string]))
	})
	b.Run("impl=hashtables", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkMapPutGrow[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkMapPutGrow[string], genKeys[string]))
	})
}

func BenchmarkMapPutDelete(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutDelete[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapPutDelete[string], genKeys[string]))
	})
	b.Run("impl=hashtables", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkMapPutDelete[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkMapPutDelete[string], genKeys[string]))
	})
}

type benchTypes interface {
	int64 | string
}

func benchSizes[T benchTypes](
	f func(b *testing.B, n int, genKeys func(start, end int) []T), genKeys func(start, end int) []T,
) func(*testing.B) {
	var cases = []int{16, 128, 1024, 8192, 1 << 16}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n, genKeys) })
		}
	}
}

func genKeys[T benchTypes](start, end int) []T {
	var t T
	switch any(t).(type) {
	case int64:
		keys := make([]int64, end-start)
		for i := range keys {
			keys[i] = int64(start + i)
		}
		return any(keys).([]T)
	case string:
		keys := make([]string, end-start)
		for i := range keys {
			keys[i] = strconv.Itoa(start + i)
		}
		return any(keys).([]T)
	default:
		panic("not reached")
	}
}

func benchmarkRuntimeMapIter[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := make(map[T]T, n)
	for _, k := range genKeys(0, n) {
		m[k] = k
	}
	perfbench.Open(b)
	b.ResetTimer()
	var count int
	for i := 0; i < b.N; i++ {
		for range m {
			count++
		}
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, count)
}

func benchmarkMapIter[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := NewSized[T, T](n)
	for _, k := range genKeys(0, n) {
		m.Put(k, k)
	}
	perfbench.Open(b)
	b.ResetTimer()
	var count int
	for i := 0; i < b.N; i++ {
		m.All(func(k, v T) bool {
			count++
			return true
		})
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, count)
}

func benchmarkRuntimeMapGetHit[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := make(map[T]T, n)
	for _, k := range genKeys(0, n) {
		m[k] = k
	}

	// Go's builtin map has an optimization to avoid string comparisons if
	// there is pointer equality. Regenerate the keys to defeat it and get
	// an apples-to-apples comparison.
	keys := genKeys(0, n)

	perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[keys[i&(n-1)]]
	}
}

func benchmarkMapGetHit[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := NewSized[T, T](n)
	for _, k := range genKeys(0, n) {
		m.Put(k, k)
	}
	keys := genKeys(0, n)

	perfbench.Open(b)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(keys[i&(n-1)])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapGetMiss[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := make(map[T]T, n)
	for _, k := range genKeys(0, n) {
		m[k] = k
	}
	miss := genKeys(-n, 0)

	perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[miss[i%len(miss)]]
	}
}

func benchmarkMapGetMiss[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := NewSized[T, T](n)
	for _, k := range genKeys(0, n) {
		m.Put(k, k)
	}
	miss := genKeys(-n, 0)

	perfbench.Open(b)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(miss[i%len(miss)])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapPutGrow[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	keys := genKeys(0, n)
	perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := make(map[T]T)
		for _, k := range keys {
			m[k] = k
		}
	}
}

func benchmarkMapPutGrow[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	keys := genKeys(0, n)
	perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := New[T, T]()
		for _, k := range keys {
			m.Put(k, k)
		}
	}
}

func benchmarkRuntimeMapPutDelete[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % n
		delete(m, keys[j])
		m[keys[j]] = keys[j]
	}
}

func benchmarkMapPutDelete[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := NewSized[T, T](n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Put(k, k)
	}
	perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % n
		m.Delete(keys[j])
		m.Put(keys[j], keys[j])
	}
}
