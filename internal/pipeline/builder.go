package pipeline

import (
	"fmt"

	"firestige.xyz/satchel/internal/capture"
	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
	"firestige.xyz/satchel/internal/reporter"
)

// Builder provides a fluent interface for building pipelines.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			BufferSize: 4096,
		},
	}
}

// WithGlobalConfig copies capture and session settings from cfg.
func (b *Builder) WithGlobalConfig(cfg *config.GlobalConfig) *Builder {
	b.config.Ports = cfg.Capture.PortRange
	b.config.BufferSize = cfg.Capture.BufferSize
	b.config.Session = cfg.Session
	b.config.IgnoredTTL = cfg.Session.IgnoredFlowTTL
	return b
}

// WithBackend sets the capture backend.
func (b *Builder) WithBackend(backend capture.Backend) *Builder {
	b.config.Backend = backend
	return b
}

// WithReporters sets the status reporters. Several are fanned out.
func (b *Builder) WithReporters(reporters ...reporter.Reporter) *Builder {
	switch len(reporters) {
	case 0:
		b.config.Reporter = nil
	case 1:
		b.config.Reporter = reporters[0]
	default:
		b.config.Reporter = reporter.Fanout(reporters)
	}
	return b
}

// WithRecorder dumps every captured frame.
func (b *Builder) WithRecorder(r *capture.Recorder) *Builder {
	b.config.Recorder = r
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if b.config.Backend == nil {
		return nil, fmt.Errorf("%w: pipeline requires a capture backend", core.ErrConfigInvalid)
	}
	pr := b.config.Ports
	if pr.Min == 0 || pr.Min > pr.Max {
		return nil, fmt.Errorf("%w: port range %d-%d is empty", core.ErrConfigInvalid, pr.Min, pr.Max)
	}
	return New(b.config), nil
}
