//go:build windows

package webgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// maxPoolSize is the maximum number of idle buffers kept per usage.
const maxPoolSize = 16

// pooledBuffer wraps a GPU buffer with metadata.
type pooledBuffer struct {
	buffer *wgpu.Buffer
	size   uint64
}

// BufferPool keeps released buffers for reuse, keyed by usage flags.
// It only serves buffers whose contents are fully overwritten before they are read,
// such as read-back staging buffers.
type BufferPool struct {
	device *wgpu.Device
	idle   map[wgpu.BufferUsage][]pooledBuffer
	mu     sync.Mutex

	// Statistics
	totalAllocated uint64
	poolHits       uint64
}

// NewBufferPool creates a new buffer pool for the given device.
func NewBufferPool(device *wgpu.Device) *BufferPool {
	return &BufferPool{
		device: device,
		idle:   make(map[wgpu.BufferUsage][]pooledBuffer),
	}
}

// Acquire returns an idle buffer of at least size bytes with the given usage, or creates one.
// The returned size is the buffer's actual size.
func (p *BufferPool) Acquire(size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pool := p.idle[usage]
	for i, pb := range pool {
		if pb.size >= size {
			p.idle[usage] = append(pool[:i], pool[i+1:]...)
			p.poolHits++
			return pb.buffer, pb.size
		}
	}

	p.totalAllocated++
	buffer := p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: usage,
		Size:  size,
	})
	return buffer, size
}

// Release returns a buffer to the pool. If the pool is full, the buffer is released.
func (p *BufferPool) Release(buffer *wgpu.Buffer, size uint64, usage wgpu.BufferUsage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle[usage]) >= maxPoolSize {
		buffer.Release()
		return
	}
	p.idle[usage] = append(p.idle[usage], pooledBuffer{buffer: buffer, size: size})
}

// Clear releases all pooled buffers.
func (p *BufferPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for usage, pool := range p.idle {
		for _, pb := range pool {
			pb.buffer.Release()
		}
		delete(p.idle, usage)
	}
}

// Stats returns the number of buffers created, pool hits and currently idle buffers.
func (p *BufferPool) Stats() (allocated, hits uint64, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pool := range p.idle {
		idle += len(pool)
	}
	return p.totalAllocated, p.poolHits, idle
}
