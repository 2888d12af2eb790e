package agent

import (
	"errors"
	"fmt"
	"slices"
)

// ErrExpansion is matched by *ExpansionError.
var ErrExpansion = errors.New("invalid expansion input")

// ExpansionError reports a malformed instruction / context shape. It is
// raised before any branch is launched.
type ExpansionError struct {
	Field  string
	Reason string
}

func (e *ExpansionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("expansion: %s", e.Reason)
	}
	return fmt.Sprintf("expansion: %s: %s", e.Field, e.Reason)
}

func (e *ExpansionError) Unwrap() error { return ErrExpansion }

// Input is a scalar-or-sequence value. The zero value is the scalar nil.
type Input struct {
	values []any
	seq    bool
}

// One wraps a scalar.
func One(v any) Input {
	return Input{values: []any{v}}
}

// Many wraps an ordered sequence. A sequence of one element behaves like a
// scalar; an empty sequence is rejected by Expand.
func Many(vs ...any) Input {
	return Input{values: slices.Clone(vs), seq: true}
}

// Strings is Many for string slices.
func Strings(ss ...string) Input {
	vs := make([]any, len(ss))
	for i, s := range ss {
		vs[i] = s
	}
	return Input{values: vs, seq: true}
}

// Len returns the number of elements (1 for a scalar).
func (in Input) Len() int {
	if !in.seq {
		return 1
	}
	return len(in.values)
}

// IsMany reports whether the input holds more than one element.
func (in Input) IsMany() bool { return in.Len() > 1 }

// Values returns the elements in order.
func (in Input) Values() []any {
	if !in.seq && len(in.values) == 0 {
		return []any{nil}
	}
	return slices.Clone(in.values)
}

// Policy is the expansion strategy derived from the input shapes.
type Policy int

const (
	// PolicyReplicate: one instruction, one context.
	PolicyReplicate Policy = iota
	// PolicyInstructions: many instructions against one context.
	PolicyInstructions
	// PolicyContexts: one instruction against many contexts.
	PolicyContexts
	// PolicyCross: many instructions x many contexts, full product.
	PolicyCross
	// PolicyZip: many instructions paired positionally with many contexts.
	PolicyZip
)

func (p Policy) String() string {
	switch p {
	case PolicyReplicate:
		return "replicate"
	case PolicyInstructions:
		return "instructions"
	case PolicyContexts:
		return "contexts"
	case PolicyCross:
		return "cross"
	case PolicyZip:
		return "zip"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// PolicyFor derives the policy once from the input shapes.
func PolicyFor(instruction, context Input, explode bool) (Policy, error) {
	if instruction.Len() == 0 {
		return 0, &ExpansionError{Field: "instruction", Reason: "empty sequence"}
	}
	if context.Len() == 0 {
		return 0, &ExpansionError{Field: "context", Reason: "empty sequence"}
	}

	switch {
	case instruction.IsMany() && context.IsMany():
		if explode {
			return PolicyCross, nil
		}
		return PolicyZip, nil
	case instruction.IsMany():
		return PolicyInstructions, nil
	case context.IsMany():
		return PolicyContexts, nil
	default:
		return PolicyReplicate, nil
	}
}

// Descriptor is one unit of planned work. Slot is the result position.
type Descriptor struct {
	Slot        int
	Instruction any
	Context     any
	Replica     int
}

// Expand turns the inputs into an ordered plan. Pairs are ordered
// instruction-major, context-minor; every pair is expanded into replicas
// consecutive descriptors. Zipped sequences are truncated to the shorter one.
func Expand(instruction, context Input, replicas int, explode bool) ([]Descriptor, error) {
	if replicas < 1 {
		return nil, &ExpansionError{Field: "replicas", Reason: fmt.Sprintf("must be >= 1, got %d", replicas)}
	}

	policy, err := PolicyFor(instruction, context, explode)
	if err != nil {
		return nil, err
	}

	ins, ctxs := instruction.Values(), context.Values()

	type pair struct{ instruction, context any }
	var pairs []pair

	switch policy {
	case PolicyReplicate:
		pairs = []pair{{ins[0], ctxs[0]}}
	case PolicyInstructions:
		for _, in := range ins {
			pairs = append(pairs, pair{in, ctxs[0]})
		}
	case PolicyContexts:
		for _, c := range ctxs {
			pairs = append(pairs, pair{ins[0], c})
		}
	case PolicyCross:
		for _, in := range ins {
			for _, c := range ctxs {
				pairs = append(pairs, pair{in, c})
			}
		}
	case PolicyZip:
		n := min(len(ins), len(ctxs))
		for i := 0; i < n; i++ {
			pairs = append(pairs, pair{ins[i], ctxs[i]})
		}
	}

	plan := make([]Descriptor, 0, len(pairs)*replicas)
	for _, p := range pairs {
		for r := 0; r < replicas; r++ {
			plan = append(plan, Descriptor{
				Slot:        len(plan),
				Instruction: p.instruction,
				Context:     p.context,
				Replica:     r,
			})
		}
	}
	return plan, nil
}
