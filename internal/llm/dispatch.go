package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/metrics"
	"github.com/JakeFAU/starmark/internal/prompt"
)

const checkMessage = "echo test"

// Dispatcher builds a model per call, fits the messages into its token
// budget, and runs the completion.
type Dispatcher struct {
	registry  *Registry
	assembler *prompt.Assembler
	logger    *zap.Logger
}

// NewDispatcher wires a Dispatcher. Nil dependencies get defaults.
func NewDispatcher(registry *Registry, assembler *prompt.Assembler, logger *zap.Logger) *Dispatcher {
	if registry == nil {
		registry = NewDefaultRegistry(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if assembler == nil {
		assembler = prompt.NewAssembler(prompt.WithLogger(logger))
	}
	return &Dispatcher{
		registry:  registry,
		assembler: assembler,
		logger:    logger,
	}
}

func (d *Dispatcher) prepare(ctx context.Context, cfg ModelConfig, messages []prompt.Message) (Model, []prompt.Message, error) {
	model, err := d.registry.New(ctx, cfg)
	if err != nil {
		metrics.ObserveDispatch(cfg.Provider, "invalid")
		return nil, nil, err
	}
	fitted := d.assembler.Assemble(messages, prompt.ProfileFor(cfg.Model))
	return model, fitted, nil
}

// Generate runs a non-streaming completion.
func (d *Dispatcher) Generate(ctx context.Context, cfg ModelConfig, messages []prompt.Message) (string, error) {
	model, fitted, err := d.prepare(ctx, cfg, messages)
	if err != nil {
		return "", err
	}
	start := time.Now()
	text, err := model.Generate(ctx, fitted)
	d.observe(cfg, start, err)
	if err != nil {
		return "", fmt.Errorf("generate with %s/%s: %w", cfg.Provider, cfg.Model, err)
	}
	return text, nil
}

// Stream starts a streaming completion and returns immediately. done runs
// once with the full text, or with the error, before the stream closes.
// Only provider construction errors are returned directly.
func (d *Dispatcher) Stream(ctx context.Context, cfg ModelConfig, messages []prompt.Message, done Completion) (*TextStream, error) {
	model, fitted, err := d.prepare(ctx, cfg, messages)
	if err != nil {
		return nil, err
	}
	s := newTextStream()
	start := time.Now()
	observed := Completion{
		OnFinish: func(text string) {
			d.observe(cfg, start, nil)
			if done.OnFinish != nil {
				done.OnFinish(text)
			}
		},
		OnError: func(err error) {
			d.observe(cfg, start, err)
			d.logger.Warn("model stream failed",
				zap.String("provider", cfg.Provider),
				zap.String("model", cfg.Model),
				zap.Error(err))
			if done.OnError != nil {
				done.OnError(err)
			}
		},
	}
	go s.run(ctx, func(emit func(string) error) error {
		return model.Stream(ctx, fitted, emit)
	}, observed)
	return s, nil
}

// CheckModelSettings reports whether cfg can complete a trivial request.
func (d *Dispatcher) CheckModelSettings(ctx context.Context, cfg ModelConfig) bool {
	_, err := d.Generate(ctx, cfg, []prompt.Message{{Role: prompt.RoleUser, Content: checkMessage}})
	if err != nil {
		d.logger.Info("model settings check failed",
			zap.String("provider", cfg.Provider),
			zap.String("model", cfg.Model),
			zap.Error(err))
		return false
	}
	return true
}

func (d *Dispatcher) observe(cfg ModelConfig, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.ObserveDispatch(cfg.Provider, result)
	metrics.ObserveDispatchDuration(cfg.Provider, time.Since(start))
}
