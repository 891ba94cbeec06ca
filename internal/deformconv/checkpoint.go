package deformconv

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/born-ml/deform/internal/deform"
	"github.com/born-ml/deform/internal/parallel"
	"github.com/born-ml/deform/internal/serialization"
	"github.com/born-ml/deform/internal/tensor"
)

// Checkpoint metadata keys.
const (
	metaFormat = "format"
	metaConfig = "config"

	checkpointFormat = "deformconv/v1"
)

// checkpointConfig is the persisted part of Config. Parallelism is a property of the host,
// not of the layer, and is not stored.
type checkpointConfig struct {
	InChannels  int              `json:"in_channels"`
	OutChannels int              `json:"out_channels"`
	Footprint   deform.Footprint `json:"footprint"`
	Bias        bool             `json:"bias"`
}

// StateDict returns the layer parameters by name. The tensors are shared, not copied.
func (l *Layer) StateDict() map[string]*tensor.RawTensor {
	params := map[string]*tensor.RawTensor{"weight": l.weight}
	if l.bias != nil {
		params["bias"] = l.bias
	}
	return params
}

// Save writes the layer configuration and parameters to w in SafeTensors format.
func (l *Layer) Save(w io.Writer) error {
	cfg, err := json.Marshal(checkpointConfig{
		InChannels:  l.cfg.InChannels,
		OutChannels: l.cfg.OutChannels,
		Footprint:   l.cfg.Footprint,
		Bias:        l.cfg.Bias,
	})
	if err != nil {
		return fmt.Errorf("deformconv: %w", err)
	}
	meta := map[string]string{metaFormat: checkpointFormat, metaConfig: string(cfg)}
	if err := serialization.Write(w, l.StateDict(), meta); err != nil {
		return fmt.Errorf("deformconv: save: %w", err)
	}
	return nil
}

// Load reads a layer written by Save. Batch items of the restored layer fan out over every core.
func Load(r io.Reader, backend Resampler) (*Layer, error) {
	params, meta, err := serialization.Read(r)
	if err != nil {
		return nil, fmt.Errorf("deformconv: load: %w", err)
	}
	if meta[metaFormat] != checkpointFormat {
		return nil, fmt.Errorf("deformconv: load: unknown checkpoint format %q", meta[metaFormat])
	}

	var saved checkpointConfig
	if err := json.Unmarshal([]byte(meta[metaConfig]), &saved); err != nil {
		return nil, fmt.Errorf("deformconv: load: config: %w", err)
	}
	cfg := Config{
		InChannels:  saved.InChannels,
		OutChannels: saved.OutChannels,
		Footprint:   saved.Footprint,
		Bias:        saved.Bias,
		Parallel:    parallel.DefaultConfig(),
	}
	weight, err := serialization.Lookup(params, "weight")
	if err != nil {
		return nil, fmt.Errorf("deformconv: load: %w", err)
	}
	var bias *tensor.RawTensor
	if cfg.Bias {
		if bias, err = serialization.Lookup(params, "bias"); err != nil {
			return nil, fmt.Errorf("deformconv: load: %w", err)
		}
	}
	return New(cfg, weight, bias, backend)
}
