package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/born-ml/deform/internal/tensor"
)

// Write encodes tensors and metadata to w in SafeTensors format.
//
// Tensors are written in alphabetical order by name. The checksum of the data section is
// added to the metadata under ChecksumKey, overriding any caller value.
func Write(w io.Writer, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := slices.Sorted(maps.Keys(tensors))

	header := make(map[string]any, len(names)+1)
	var data []byte
	for _, name := range names {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		raw := tensors[name]
		if raw == nil {
			return fmt.Errorf("tensor %s is nil", name)
		}
		dtype, err := dtypeToString(raw.DType())
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}

		start := int64(len(data))
		data = append(data, raw.Data()...)
		header[name] = TensorHeader{
			DType:       dtype,
			Shape:       raw.Shape().Clone(),
			DataOffsets: [2]int64{start, int64(len(data))},
		}
	}

	meta := maps.Clone(metadata)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta[ChecksumKey] = ComputeChecksum(data)
	header[MetadataKey] = meta

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	return nil
}

// WriteFile writes tensors to a SafeTensors file at path.
func WriteFile(path string, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	//nolint:gosec // G304: File path comes from user input, which is expected for saving
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	bw := bufio.NewWriter(f)
	if err := Write(bw, tensors, metadata); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
