package model

import (
	"os"

	"github.com/openfluke/loom/nn"
	"github.com/pkg/errors"
)

const checkpointID = "best"

type netSwapper interface {
	swapNet(*nn.Network)
}

// SaveCheckpoint serializes the model and replaces path atomically: the
// blob is written to a temp file first and renamed over the target, so an
// interrupted run never sees a half-written checkpoint.
func SaveCheckpoint(m Model, path string) error {
	blob, err := m.Net().SaveModelToString(checkpointID)
	if err != nil {
		return errors.Wrap(err, "model: serialize checkpoint")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(blob), 0644); err != nil {
		return errors.Wrap(err, "model: write checkpoint")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "model: replace checkpoint")
	}
	return nil
}

// LoadCheckpoint restores a checkpointed network and rewraps it in the
// family wrapper cfg selects. Recurrent wrappers come back with no hidden
// state; the first use reinitializes it.
func LoadCheckpoint(path string, cfg Config) (Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "model: read checkpoint")
	}
	net, err := nn.LoadModelFromString(string(raw), checkpointID)
	if err != nil {
		return nil, errors.Wrap(err, "model: decode checkpoint")
	}
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	m.(netSwapper).swapNet(net)
	return m, nil
}

// Export writes the model's weights as a safetensors artifact for
// cross-runtime inference.
func Export(m Model, path string) error {
	return errors.Wrap(m.Net().SaveWeightsToSafetensors(path), "model: export safetensors")
}
