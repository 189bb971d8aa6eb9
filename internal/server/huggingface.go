package server

import (
	"context"
	"fmt"
	"path/filepath"

	"llamactl/internal/common/fsutil"
	"llamactl/internal/download"
)

// DefaultWorkingDir is where NewFromHuggingFace keeps the binary and weights.
const DefaultWorkingDir = "./llama"

// HFSpec names a model on HuggingFace and where to materialize it locally.
type HFSpec struct {
	// Repo like "Qwen/Qwen2-0.5B-Instruct-GGUF".
	Repo string
	// Filename like "qwen2-0_5b-instruct-q4_0.gguf".
	Filename string
	// WorkingDir for the binary and weights. "" means DefaultWorkingDir.
	WorkingDir string
}

// NewFromHuggingFace downloads the llama-server binary and the named model if
// they are not already in the working dir, then builds a Server with default
// sizing. For more control, download separately and call New.
func NewFromHuggingFace(ctx context.Context, spec HFSpec) (*Server, error) {
	wd := spec.WorkingDir
	if wd == "" {
		wd = DefaultWorkingDir
	}
	wd, err := fsutil.ExpandHome(wd)
	if err != nil {
		return nil, err
	}
	if spec.Filename == "" {
		return nil, fmt.Errorf("huggingface spec needs a filename")
	}
	bin := filepath.Join(wd, "llama-server")
	model := filepath.Join(wd, spec.Filename)
	if err := download.Binary(ctx, bin); err != nil {
		return nil, err
	}
	if err := download.Model(ctx, model, spec.Repo, spec.Filename); err != nil {
		return nil, err
	}
	return New(Config{BinaryPath: bin, ModelPath: model, ContBatching: true})
}
