// Package serialization stores named tensors in the SafeTensors format.
//
//	Format Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON, tensor name -> {dtype, shape, data_offsets}, plus "__metadata__"]
//	  [Tensor data: raw little-endian bytes, tensors in name order]
//
// The writer records a SHA-256 checksum of the data section in the metadata under
// ChecksumKey; the reader verifies it when present. Headers are validated before any tensor
// data is trusted: names, offsets and sizes are checked against the data section.
//
// Example usage:
//
//	err := serialization.WriteFile("layer.safetensors", map[string]*tensor.RawTensor{
//	    "weight": weight,
//	}, map[string]string{"format": "deformconv"})
//
//	tensors, meta, err := serialization.ReadFile("layer.safetensors")
package serialization
