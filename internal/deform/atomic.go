package deform

import (
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/born-ml/deform/internal/tensor"
)

// atomicAdd adds v to *p with a compare-and-swap loop on the element's bit pattern.
func atomicAdd[T tensor.Float](p *T, v T) {
	switch ptr := any(p).(type) {
	case *float32:
		addr := (*uint32)(unsafe.Pointer(ptr))
		for {
			old := atomic.LoadUint32(addr)
			next := math.Float32bits(math.Float32frombits(old) + float32(v))
			if atomic.CompareAndSwapUint32(addr, old, next) {
				return
			}
		}
	case *float64:
		addr := (*uint64)(unsafe.Pointer(ptr))
		for {
			old := atomic.LoadUint64(addr)
			next := math.Float64bits(math.Float64frombits(old) + float64(v))
			if atomic.CompareAndSwapUint64(addr, old, next) {
				return
			}
		}
	}
}
