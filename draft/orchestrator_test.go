package draft

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/render"
	"github.com/hazyhaar/docforge/sanitize"
)

func staticGen(markup string) Generator {
	return GeneratorFunc(func(context.Context, Request) (Response, error) {
		return Response{Markup: markup}, nil
	})
}

// scriptedSerializer returns canned results in order, then delegates to the
// real renderer.
type scriptedSerializer struct {
	results []render.Result
	calls   []sanitize.SanitizedMarkup
}

func (s *scriptedSerializer) Render(m sanitize.SanitizedMarkup, tpl *docpipe.DocumentTemplate) render.Result {
	s.calls = append(s.calls, m)
	if len(s.calls) <= len(s.results) {
		return s.results[len(s.calls)-1]
	}
	return render.New(render.Config{}).Render(m, tpl)
}

type panicSerializer struct{}

func (panicSerializer) Render(sanitize.SanitizedMarkup, *docpipe.DocumentTemplate) render.Result {
	panic("boom")
}

type timerRecorder struct {
	mu     sync.Mutex
	stages []string
}

func (r *timerRecorder) Duration(stage string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func extractBlocks(t *testing.T, pkg []byte) []docpipe.BlockNode {
	t.Helper()
	doc, err := docpipe.New(docpipe.Config{}).ExtractBytes(context.Background(), pkg)
	if err != nil {
		t.Fatalf("extract generated package: %v", err)
	}
	return doc.Blocks
}

func TestOrchestrator_Run(t *testing.T) {
	timer := &timerRecorder{}
	o := NewOrchestrator(staticGen("```html\n<h1>Title</h1><p>Body <b>bold</b></p><script>x()</script>\n```"), WithStageTimer(timer))

	out, err := o.Run(context.Background(), Request{UserPrompt: "p"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []State{StateGenerating, StateSanitizing, StateSerializing, StateValidating, StateDone}
	if !slices.Equal(out.Trace, want) {
		t.Errorf("trace = %v, want %v", out.Trace, want)
	}
	if out.Degraded || out.Reason != "" {
		t.Errorf("unexpected degradation: %q", out.Reason)
	}
	if out.Markup != "<div><h1>Title</h1><p>Body <b>bold</b></p></div>" {
		t.Errorf("markup = %q", out.Markup)
	}

	blocks := extractBlocks(t, out.Package)
	if len(blocks) != 2 || blocks[0].Kind != docpipe.KindHeading || blocks[1].Text != "Body bold" {
		t.Errorf("blocks = %+v", blocks)
	}
	if !slices.Contains(timer.stages, string(StateGenerating)) || !slices.Contains(timer.stages, string(StateSerializing)) {
		t.Errorf("timed stages = %v", timer.stages)
	}
}

func TestOrchestrator_GeneratorFailure(t *testing.T) {
	upstream := errors.New("quota exceeded")
	calls := 0
	gen := GeneratorFunc(func(context.Context, Request) (Response, error) {
		calls++
		return Response{}, upstream
	})

	out, err := NewOrchestrator(gen).Run(context.Background(), Request{}, nil)
	if !errors.Is(err, ErrExternalService) || !errors.Is(err, upstream) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("generator called %d times, want 1", calls)
	}
	if out.Package != nil {
		t.Error("no package expected after a generator failure")
	}
}

func TestOrchestrator_NoGenerator(t *testing.T) {
	if _, err := NewOrchestrator(nil).Run(context.Background(), Request{}, nil); !errors.Is(err, ErrExternalService) {
		t.Fatalf("err = %v", err)
	}
}

func TestOrchestrator_DegradesOnSmallPackage(t *testing.T) {
	ser := &scriptedSerializer{results: []render.Result{{Package: []byte("PK tiny")}}}
	o := NewOrchestrator(nil, WithSerializer(ser))

	raw := "<h1>Title</h1><ul><li>one</li><li>two</li></ul><table><tr><td>A</td><td>B</td></tr></table>"
	out := o.Render(raw, nil)

	want := []State{StateSanitizing, StateSerializing, StateValidating, StateDegrading, StateSerializing, StateValidating, StateDone}
	if !slices.Equal(out.Trace, want) {
		t.Fatalf("trace = %v, want %v", out.Trace, want)
	}
	if !out.Degraded || !strings.Contains(out.Reason, "too small") {
		t.Errorf("degraded=%v reason=%q", out.Degraded, out.Reason)
	}
	if out.Markup != "<div><p>Title</p><p>one</p><p>two</p><p>A B</p></div>" {
		t.Errorf("degraded markup = %q", out.Markup)
	}
	if len(ser.calls) != 2 || ser.calls[1] != out.Markup {
		t.Errorf("serializer calls = %q", ser.calls)
	}

	for _, b := range extractBlocks(t, out.Package) {
		if b.Kind != docpipe.KindParagraph {
			t.Errorf("degraded package has a %s block", b.Kind)
		}
	}
}

func TestOrchestrator_DegradingNeverFails(t *testing.T) {
	// Both passes produce nothing usable; the plain fallback still applies.
	ser := &scriptedSerializer{results: []render.Result{{}, {Package: []byte("x")}}}
	tpl := &docpipe.DocumentTemplate{SectionMargins: docpipe.Margins{Top: 720, Right: 720, Bottom: 720, Left: 720}}
	out := NewOrchestrator(nil, WithSerializer(ser)).Render("<p>still here</p>", tpl)

	if out.Trace[len(out.Trace)-1] != StateDone || !out.Degraded {
		t.Fatalf("outcome = %+v", out)
	}
	if len(out.Package) < render.DefaultMinPackageSize {
		t.Fatalf("package only %d bytes", len(out.Package))
	}
	blocks := extractBlocks(t, out.Package)
	if len(blocks) != 1 || blocks[0].Text != "still here" {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestOrchestrator_SerializerPanic(t *testing.T) {
	out := NewOrchestrator(nil, WithSerializer(panicSerializer{})).Render("<p>kept</p>", nil)
	if !out.Degraded || out.Trace[len(out.Trace)-1] != StateDone {
		t.Fatalf("outcome = %+v", out)
	}
	if len(out.Package) < render.DefaultMinPackageSize {
		t.Fatalf("package only %d bytes", len(out.Package))
	}
}

func TestOrchestrator_RendererFallbackMarksDegraded(t *testing.T) {
	ser := &scriptedSerializer{results: []render.Result{{
		Package:  render.Fallback([]string{"plain"}, docpipe.DefaultMargins),
		Fallback: true,
		Reason:   "invalid body xml",
	}}}
	out := NewOrchestrator(nil, WithSerializer(ser)).Render("<p>plain</p>", nil)
	if slices.Contains(out.Trace, StateDegrading) {
		t.Errorf("trace = %v", out.Trace)
	}
	if !out.Degraded || out.Reason != "invalid body xml" {
		t.Errorf("degraded=%v reason=%q", out.Degraded, out.Reason)
	}
}

func TestOrchestrator_AdversarialMarkup(t *testing.T) {
	o := NewOrchestrator(nil)
	inputs := []string{
		"",
		"<<<>>>",
		"<p>a<b>b</p>c</b>",
		"<table><tr><td><table><tr><td>nested</td></tr></table></td></tr></table>",
		strings.Repeat("<ul><li>", 50) + "deep",
		"\x00\x01 control &bogus; &amp; text",
	}
	for _, in := range inputs {
		out := o.Render(in, nil)
		if out.Trace[len(out.Trace)-1] != StateDone {
			t.Errorf("%q: trace = %v", in, out.Trace)
		}
		if len(out.Package) < render.DefaultMinPackageSize {
			t.Errorf("%q: package only %d bytes", in, len(out.Package))
		}
		extractBlocks(t, out.Package)
	}
}
