package draft

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/render"
	"github.com/hazyhaar/docforge/sanitize"
)

// State is a step of the drafting state machine.
type State string

const (
	StateGenerating  State = "generating"
	StateSanitizing  State = "sanitizing"
	StateSerializing State = "serializing"
	StateValidating  State = "validating"
	StateDegrading   State = "degrading"
	StateDone        State = "done"
)

// Serializer turns sanitized markup into a package. *render.Renderer
// implements it.
type Serializer interface {
	Render(markup sanitize.SanitizedMarkup, tpl *docpipe.DocumentTemplate) render.Result
}

// StageTimer receives stage durations. *observability.MetricsManager
// implements it.
type StageTimer interface {
	Duration(stage string, d time.Duration)
}

// Outcome is the result of one pass through the state machine.
type Outcome struct {
	Markup   sanitize.SanitizedMarkup `json:"markup"`
	Package  []byte                   `json:"package"`
	Degraded bool                     `json:"degraded"`
	Reason   string                   `json:"reason,omitempty"`
	Trace    []State                  `json:"trace"`
}

// Orchestrator sequences generation, sanitizing, serialization and
// validation. It holds no per-call state.
type Orchestrator struct {
	gen     Generator
	ser     Serializer
	minSize int
	timer   StageTimer
	logger  *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSerializer replaces the default renderer.
func WithSerializer(s Serializer) OrchestratorOption {
	return func(o *Orchestrator) { o.ser = s }
}

// WithMinPackageSize sets the Validating threshold.
func WithMinPackageSize(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.minSize = n }
}

// WithStageTimer records how long each stage took.
func WithStageTimer(t StageTimer) OrchestratorOption {
	return func(o *Orchestrator) { o.timer = t }
}

// WithLogger sets the logger for transitions and degradations.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an orchestrator. gen may be nil when only Render
// is used.
func NewOrchestrator(gen Generator, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		gen:     gen,
		minSize: render.DefaultMinPackageSize,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.ser == nil {
		o.ser = render.New(render.Config{MinPackageSize: o.minSize, Logger: o.logger})
	}
	return o
}

// Run calls the generator, then Render on its output. The generator is
// called once. Its failure is the only error returned, wrapped in
// ErrExternalService.
func (o *Orchestrator) Run(ctx context.Context, req Request, tpl *docpipe.DocumentTemplate) (Outcome, error) {
	if o.gen == nil {
		return Outcome{}, fmt.Errorf("%w: no generator configured", ErrExternalService)
	}
	o.logger.Debug("draft: state", "state", StateGenerating)
	start := time.Now()
	resp, err := o.gen.Generate(ctx, req)
	o.observe(StateGenerating, start)
	if err != nil {
		return Outcome{Trace: []State{StateGenerating}}, fmt.Errorf("%w: %w", ErrExternalService, err)
	}
	out := o.Render(resp.Markup, tpl)
	out.Trace = append([]State{StateGenerating}, out.Trace...)
	return out, nil
}

// Render takes raw markup through Sanitizing, Serializing and Validating,
// degrading once if validation fails. It always reaches Done.
func (o *Orchestrator) Render(raw string, tpl *docpipe.DocumentTemplate) Outcome {
	var out Outcome
	step := func(s State) {
		out.Trace = append(out.Trace, s)
		o.logger.Debug("draft: state", "state", s)
	}

	step(StateSanitizing)
	start := time.Now()
	out.Markup = sanitize.Sanitize(raw)
	o.observe(StateSanitizing, start)

	step(StateSerializing)
	res := o.serialize(out.Markup, tpl)

	step(StateValidating)
	err := o.validate(res.Package)
	if err == nil {
		out.Package = res.Package
		if res.Fallback {
			out.Degraded = true
			out.Reason = res.Reason
		}
		step(StateDone)
		return out
	}
	out.Reason = err.Error()

	step(StateDegrading)
	o.logger.Warn("draft: degrading to plain paragraphs", "reason", out.Reason)
	out.Degraded = true
	out.Markup = sanitize.Degrade(out.Markup)

	step(StateSerializing)
	res = o.serialize(out.Markup, tpl)

	step(StateValidating)
	out.Package = res.Package
	if err := o.validate(res.Package); err != nil {
		out.Package = render.FallbackMarkup(out.Markup, margins(tpl))
	}
	step(StateDone)
	return out
}

func (o *Orchestrator) serialize(m sanitize.SanitizedMarkup, tpl *docpipe.DocumentTemplate) (res render.Result) {
	start := time.Now()
	defer o.observe(StateSerializing, start)
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("draft: serializer panic", "panic", p)
			res = render.Result{Reason: fmt.Sprintf("serializer panic: %v", p)}
		}
	}()
	return o.ser.Render(m, tpl)
}

func (o *Orchestrator) validate(pkg []byte) error {
	if len(pkg) < o.minSize {
		return fmt.Errorf("package too small: %d bytes (min %d)", len(pkg), o.minSize)
	}
	return nil
}

func (o *Orchestrator) observe(s State, start time.Time) {
	if o.timer != nil {
		o.timer.Duration(string(s), time.Since(start))
	}
}

func margins(tpl *docpipe.DocumentTemplate) docpipe.Margins {
	if tpl != nil && tpl.SectionMargins != (docpipe.Margins{}) {
		return tpl.SectionMargins
	}
	return docpipe.DefaultMargins
}
