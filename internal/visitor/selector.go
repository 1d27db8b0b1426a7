package visitor

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Selector decides which documents of a type are re-fed. A nil program
// selects everything.
type Selector struct {
	expr string
	prg  cel.Program
}

var selectionEnv = func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// NewSelector compiles a CEL selection over the variable `doc`. An empty
// expression matches every document.
func NewSelector(expr string) (*Selector, error) {
	if expr == "" {
		return &Selector{}, nil
	}
	env, err := selectionEnv()
	if err != nil {
		return nil, fmt.Errorf("CEL environment error: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation error: %w", err)
	}
	return &Selector{expr: expr, prg: prg}, nil
}

// Match evaluates the selection against a document.
func (s *Selector) Match(doc map[string]any) (bool, error) {
	if s.prg == nil {
		return true, nil
	}
	out, _, err := s.prg.Eval(map[string]any{"doc": doc})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}
	match, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("selection must return boolean, got %T", out.Value())
	}
	return match, nil
}

// String returns the source expression.
func (s *Selector) String() string {
	return s.expr
}
