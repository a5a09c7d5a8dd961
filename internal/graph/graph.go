// Package graph builds the compositor's filter graph as labeled stages and
// checks the wiring before it is serialized for -filter_complex.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bobarin/captionreel/internal/errs"
)

// Stage is one filter chain: it reads zero or more pads, applies filters
// in order and writes exactly one labeled pad.
type Stage struct {
	Inputs  []string
	Filters []string
	Output  string
}

func (s Stage) String() string {
	var b strings.Builder
	for _, in := range s.Inputs {
		b.WriteString("[" + in + "]")
	}
	b.WriteString(strings.Join(s.Filters, ","))
	b.WriteString("[" + s.Output + "]")
	return b.String()
}

// Graph is an ordered list of stages. Pads named like "0:v" or "1:a" refer
// to compositor inputs; every other pad must be produced by an earlier stage
// and consumed exactly once, except the declared outputs.
type Graph struct {
	stages  []Stage
	outputs []string
}

func New() *Graph {
	return &Graph{}
}

// Add appends a stage.
func (g *Graph) Add(inputs []string, output string, filters ...string) *Graph {
	g.stages = append(g.stages, Stage{Inputs: inputs, Filters: filters, Output: output})
	return g
}

// MarkOutput declares a pad as a terminal output to be mapped.
func (g *Graph) MarkOutput(label string) *Graph {
	g.outputs = append(g.outputs, label)
	return g
}

func (g *Graph) Stages() []Stage {
	return append([]Stage(nil), g.stages...)
}

func (g *Graph) Outputs() []string {
	return append([]string(nil), g.outputs...)
}

// Stage returns the stage producing label.
func (g *Graph) Stage(label string) (Stage, bool) {
	for _, s := range g.stages {
		if s.Output == label {
			return s, true
		}
	}
	return Stage{}, false
}

// Validate rejects graphs the compositor would refuse or misinterpret:
// empty stages, duplicate labels, undefined or forward references, pads
// consumed more than once, and produced pads nobody consumes.
func (g *Graph) Validate() error {
	const op = "graph.validate"

	if len(g.outputs) == 0 {
		return errs.New(errs.KindPlan, op, "graph declares no outputs")
	}

	produced := make(map[string]bool)
	consumed := make(map[string]bool)
	for i, s := range g.stages {
		if len(s.Filters) == 0 {
			return errs.New(errs.KindPlan, op, fmt.Sprintf("stage %d has no filters", i))
		}
		if s.Output == "" {
			return errs.New(errs.KindPlan, op, fmt.Sprintf("stage %d has no output label", i))
		}
		for _, in := range s.Inputs {
			if isStreamRef(in) {
				continue
			}
			if !produced[in] {
				return errs.New(errs.KindPlan, op, fmt.Sprintf("stage %d reads undefined pad %q", i, in))
			}
			if consumed[in] {
				return errs.New(errs.KindPlan, op, fmt.Sprintf("pad %q consumed more than once", in))
			}
			consumed[in] = true
		}
		if produced[s.Output] || isStreamRef(s.Output) {
			return errs.New(errs.KindPlan, op, fmt.Sprintf("duplicate pad label %q", s.Output))
		}
		produced[s.Output] = true
	}

	terminal := make(map[string]bool)
	for _, out := range g.outputs {
		if !produced[out] {
			return errs.New(errs.KindPlan, op, fmt.Sprintf("output pad %q is never produced", out))
		}
		if consumed[out] {
			return errs.New(errs.KindPlan, op, fmt.Sprintf("output pad %q is also consumed", out))
		}
		terminal[out] = true
	}

	var dangling []string
	for label := range produced {
		if !consumed[label] && !terminal[label] {
			dangling = append(dangling, label)
		}
	}
	if len(dangling) > 0 {
		sort.Strings(dangling)
		return errs.New(errs.KindPlan, op, fmt.Sprintf("unconsumed pads: %s", strings.Join(dangling, ", ")))
	}
	return nil
}

// String serializes the graph in -filter_complex syntax.
func (g *Graph) String() string {
	parts := make([]string, len(g.stages))
	for i, s := range g.stages {
		parts[i] = s.String()
	}
	return strings.Join(parts, ";")
}

// isStreamRef reports whether label names a compositor input stream
// such as "0:v" or "1:a".
func isStreamRef(label string) bool {
	idx, kind, ok := strings.Cut(label, ":")
	if !ok || idx == "" || kind == "" {
		return false
	}
	for _, r := range idx {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
