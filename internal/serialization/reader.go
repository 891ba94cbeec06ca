package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/deform/internal/tensor"
)

// Read decodes a SafeTensors stream into CPU tensors and its metadata.
//
// The header is validated before the data is used. When the metadata carries ChecksumKey the
// data section must match it.
func Read(r io.Reader) (map[string]*tensor.RawTensor, map[string]string, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	entries, metadata, err := parseHeader(headerJSON)
	if err != nil {
		return nil, nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	metas := make([]TensorMeta, 0, len(entries))
	for name, h := range entries {
		if err := ValidateTensorName(name); err != nil {
			return nil, nil, err
		}
		metas = append(metas, TensorMeta{
			Name:   name,
			Offset: h.DataOffsets[0],
			Size:   h.DataOffsets[1] - h.DataOffsets[0],
		})
	}
	if err := ValidateTensorOffsets(metas, int64(len(data))); err != nil {
		return nil, nil, err
	}
	if sum, ok := metadata[ChecksumKey]; ok {
		if err := ValidateChecksum(data, sum); err != nil {
			return nil, nil, err
		}
	}

	tensors := make(map[string]*tensor.RawTensor, len(entries))
	for name, h := range entries {
		raw, err := decodeTensor(name, h, data)
		if err != nil {
			return nil, nil, err
		}
		tensors[name] = raw
	}
	return tensors, metadata, nil
}

// ReadFile reads a SafeTensors file from path.
func ReadFile(path string) (map[string]*tensor.RawTensor, map[string]string, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for loading
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return Read(bufio.NewReader(f))
}

// Lookup returns the named tensor, or an error wrapping ErrTensorNotFound.
func Lookup(tensors map[string]*tensor.RawTensor, name string) (*tensor.RawTensor, error) {
	raw, ok := tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return raw, nil
}

func parseHeader(headerJSON []byte) (map[string]TensorHeader, map[string]string, error) {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &rawMap); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}
	if len(rawMap) > MaxTensorCount+1 {
		return nil, nil, &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(rawMap)-1, MaxTensorCount),
		}
	}

	var metadata map[string]string
	entries := make(map[string]TensorHeader, len(rawMap))
	for key, value := range rawMap {
		if key == MetadataKey {
			if err := json.Unmarshal(value, &metadata); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
			continue
		}
		var h TensorHeader
		if err := json.Unmarshal(value, &h); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		entries[key] = h
	}
	return entries, metadata, nil
}

func decodeTensor(name string, h TensorHeader, data []byte) (*tensor.RawTensor, error) {
	dtype, err := stringToDtype(h.DType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	shape := tensor.Shape(h.Shape)
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	size := h.DataOffsets[1] - h.DataOffsets[0]
	if size != int64(shape.NumElements()*dtype.Size()) {
		return nil, &ValidationError{
			Type:    "size_mismatch",
			Tensor:  name,
			Details: fmt.Sprintf("%d bytes for shape %v of %s", size, h.Shape, h.DType),
		}
	}
	raw, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	copy(raw.Data(), data[h.DataOffsets[0]:h.DataOffsets[1]])
	return raw, nil
}
