package generation

import "context"

// PipelineResult is what a successful generation run produces.
type PipelineResult struct {
	Payload      map[string]any
	ArtifactPath string
}

// Pipeline is the external generation collaborator. Run blocks for the whole
// generation, which can take minutes; callers cancel via ctx. The worker
// deliberately imposes no timeout of its own on top.
type Pipeline interface {
	Run(ctx context.Context, request map[string]any) (PipelineResult, error)
}

// PipelineFunc adapts a function to the Pipeline interface.
type PipelineFunc func(ctx context.Context, request map[string]any) (PipelineResult, error)

func (f PipelineFunc) Run(ctx context.Context, request map[string]any) (PipelineResult, error) {
	return f(ctx, request)
}
