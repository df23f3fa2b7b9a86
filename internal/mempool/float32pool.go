// Package mempool pools the slices allocated once per analyzed frame, such
// as the input tensors of the face model.
package mempool

import (
	"sync"
)

// sizeStep is the granularity of size classes.
const sizeStep = 1024

// sizeClass rounds n up to the next multiple of sizeStep, at least sizeStep.
func sizeClass(n int) int {
	if n <= sizeStep {
		return sizeStep
	}
	return (n + sizeStep - 1) / sizeStep * sizeStep
}

// Pool hands out slices bucketed by size class. The zero value is ready.
type Pool[T any] struct {
	classes sync.Map // size class -> *sync.Pool
}

func (p *Pool[T]) class(cls int) *sync.Pool {
	if sp, ok := p.classes.Load(cls); ok {
		return sp.(*sync.Pool)
	}
	sp, _ := p.classes.LoadOrStore(cls, &sync.Pool{New: func() any { return make([]T, cls) }})
	return sp.(*sync.Pool)
}

// Get returns a slice of length n. Contents are not zeroed.
func (p *Pool[T]) Get(n int) []T {
	if n < 0 {
		n = 0
	}
	cls := sizeClass(n)
	buf, ok := p.class(cls).Get().([]T)
	if !ok || cap(buf) < cls {
		buf = make([]T, cls)
	}
	return buf[:n]
}

// Put returns buf for reuse. Nil slices and slices that did not come from a
// Get are ignored.
func (p *Pool[T]) Put(buf []T) {
	if cap(buf) < sizeStep || cap(buf)%sizeStep != 0 {
		return
	}
	p.class(cap(buf)).Put(buf[:cap(buf)]) //nolint:staticcheck
}

var float32s Pool[float32]

// GetFloat32 retrieves a []float32 of length n from the shared pool. The
// caller returns it with PutFloat32 once nothing references it.
func GetFloat32(n int) []float32 { return float32s.Get(n) }

// PutFloat32 returns a buffer to the shared pool. It is safe to pass nil.
func PutFloat32(buf []float32) { float32s.Put(buf) }
