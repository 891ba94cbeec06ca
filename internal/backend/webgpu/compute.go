//go:build windows

package webgpu

import (
	"fmt"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
)

// placeholderSize backs bindings a pass does not use (mask of an unmodulated footprint).
const placeholderSize = 16

// compileShader compiles WGSL shader code into a ShaderModule.
// Results are cached in the Backend's shaders map.
func (b *Backend) compileShader(name, code string) *wgpu.ShaderModule {
	b.mu.RLock()
	if shader, exists := b.shaders[name]; exists {
		b.mu.RUnlock()
		return shader
	}
	b.mu.RUnlock()

	shader := b.device.CreateShaderModuleWGSL(code)

	b.mu.Lock()
	b.shaders[name] = shader
	b.mu.Unlock()

	return shader
}

// getOrCreatePipeline returns a cached ComputePipeline or creates a new one.
func (b *Backend) getOrCreatePipeline(name string, shader *wgpu.ShaderModule) *wgpu.ComputePipeline {
	b.mu.RLock()
	if pipeline, exists := b.pipelines[name]; exists {
		b.mu.RUnlock()
		return pipeline
	}
	b.mu.RUnlock()

	// Create compute pipeline with auto layout (nil layout)
	pipeline := b.device.CreateComputePipelineSimple(nil, shader, "main")

	b.mu.Lock()
	b.pipelines[name] = pipeline
	b.mu.Unlock()

	return pipeline
}

// createBuffer creates a GPU buffer holding data.
func (b *Backend) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))

	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mappedSlice, data)
	buffer.Unmap()

	return buffer
}

// readBuffer reads data back from a GPU buffer to CPU memory.
// Uses a pooled staging buffer since storage buffers can't be mapped directly.
func (b *Backend) readBuffer(srcBuffer *wgpu.Buffer, dst []byte) error {
	size := uint64(len(dst))
	usage := wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst
	stagingBuffer, stagingSize := b.bufferPool.Acquire(size, usage)
	defer b.bufferPool.Release(stagingBuffer, stagingSize, usage)

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(srcBuffer, 0, stagingBuffer, 0, size)
	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)

	if err := stagingBuffer.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("failed to map staging buffer: %w", err)
	}

	mappedPtr := stagingBuffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(dst, unsafe.Slice((*byte)(mappedPtr), size))
	stagingBuffer.Unmap()

	return nil
}

// kernelRun describes one dispatch: read-only inputs, zero-initialised outputs and the
// params uniform, bound in that order at bindings 0, 1, 2, ...
type kernelRun struct {
	name    string
	code    string
	units   int
	params  []byte
	inputs  [][]byte
	outputs [][]byte // filled with the results
}

// run executes k and copies every output buffer back into k.outputs.
func (b *Backend) run(k kernelRun) error {
	b.submit.Lock()
	defer b.submit.Unlock()

	shader := b.compileShader(k.name, k.code)
	pipeline := b.getOrCreatePipeline(k.name, shader)

	storage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst
	entries := make([]wgpu.BindGroupEntry, 0, len(k.inputs)+len(k.outputs)+1)
	outBuffers := make([]*wgpu.Buffer, len(k.outputs))

	binding := uint32(0)
	for _, data := range k.inputs {
		buf := b.createBuffer(data, storage)
		defer buf.Release()
		entries = append(entries, wgpu.BufferBindingEntry(binding, buf, 0, uint64(len(data))))
		binding++
	}
	for i, data := range k.outputs {
		buf := b.createBuffer(data, storage)
		defer buf.Release()
		outBuffers[i] = buf
		entries = append(entries, wgpu.BufferBindingEntry(binding, buf, 0, uint64(len(data))))
		binding++
	}

	paramsBuffer := b.createBuffer(k.params, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	defer paramsBuffer.Release()
	entries = append(entries, wgpu.BufferBindingEntry(binding, paramsBuffer, 0, uint64(len(k.params))))

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(bindGroupLayout, entries)
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)
	x, y := dispatchSize(k.units)
	computePass.DispatchWorkgroups(x, y, 1)
	computePass.End()

	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)

	for i, buf := range outBuffers {
		if err := b.readBuffer(buf, k.outputs[i]); err != nil {
			return fmt.Errorf("%s: %w", k.name, err)
		}
	}
	return nil
}
