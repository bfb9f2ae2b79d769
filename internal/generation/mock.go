package generation

import "context"

// MockPipeline is a controllable Pipeline for tests.
type MockPipeline struct {
	RunFunc func(ctx context.Context, request map[string]any) (PipelineResult, error)
}

func (m *MockPipeline) Run(ctx context.Context, request map[string]any) (PipelineResult, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, request)
	}
	return PipelineResult{Payload: map[string]any{"ok": true}}, nil
}
