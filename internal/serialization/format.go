package serialization

import (
	"fmt"

	"github.com/born-ml/deform/internal/tensor"
)

// Format constants.
const (
	HeaderSizeBytes = 8              // Little-endian uint64 length prefix.
	MetadataKey     = "__metadata__" // Reserved header entry.
	ChecksumKey     = "sha256"       // Metadata entry holding the hex data checksum.
)

// SafeTensors dtype strings.
const (
	DTypeF32 = "F32"
	DTypeF64 = "F64"
)

// TensorHeader is one tensor entry of the JSON header.
type TensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) within the data section.
}

// TensorMeta is a header entry flattened for validation.
type TensorMeta struct {
	Name   string
	Offset int64
	Size   int64
}

func dtypeToString(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return DTypeF32, nil
	case tensor.Float64:
		return DTypeF64, nil
	default:
		return "", fmt.Errorf("unsupported dtype %s", dt)
	}
}

func stringToDtype(s string) (tensor.DataType, error) {
	switch s {
	case DTypeF32:
		return tensor.Float32, nil
	case DTypeF64:
		return tensor.Float64, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", s)
	}
}
