package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/reujab/ramon/internal/event"
	"github.com/reujab/ramon/internal/vars"
)

// Op is an atom's comparison operator.
type Op int

const (
	// OpMember tests variable membership: `var = expr`.
	OpMember Op = iota
	// OpGT and friends compare a numeric field against a threshold.
	OpGT
	OpLT
	OpGE
	OpLE
)

// Atom is one clause of a conjunctive condition: either a (possibly
// negated) variable membership test, or a numeric threshold on a context
// field.
type Atom struct {
	// Ref is the variable name (membership) or field name (threshold).
	Ref     string
	Negated bool
	Op      Op
	// Operand is the interpolated membership operand (OpMember only).
	Operand *Template
	// Threshold is the numeric bound (threshold ops only).
	Threshold float64

	src string
}

// Condition is the conjunction of its atoms. There is no OR or grouping;
// a monitor needing disjunction declares multiple action blocks.
type Condition struct {
	Atoms []Atom
}

// operator tokens, longest first so ">=" is not split as ">" + "=".
var opTokens = []struct {
	token string
	op    Op
}{
	{">=", OpGE},
	{"<=", OpLE},
	{">", OpGT},
	{"<", OpLT},
	{"=", OpMember},
}

// ParseCondition parses a list of atom expressions into a conjunction.
func ParseCondition(exprs []string) (*Condition, error) {
	if len(exprs) == 0 {
		return nil, nil
	}

	c := &Condition{Atoms: make([]Atom, 0, len(exprs))}
	for _, expr := range exprs {
		atom, err := parseAtom(expr)
		if err != nil {
			return nil, err
		}
		c.Atoms = append(c.Atoms, atom)
	}
	return c, nil
}

func parseAtom(expr string) (Atom, error) {
	atom := Atom{src: expr}

	s := strings.TrimSpace(expr)
	if strings.HasPrefix(s, "!") {
		atom.Negated = true
		s = strings.TrimSpace(s[1:])
	}

	var token string
	idx := -1
	for _, t := range opTokens {
		if i := strings.Index(s, t.token); i >= 0 {
			token = t.token
			atom.Op = t.op
			idx = i
			break
		}
	}
	if idx < 0 {
		return Atom{}, fmt.Errorf("invalid condition %q: no operator (=, >, <, >=, <=)", expr)
	}

	atom.Ref = strings.TrimSpace(s[:idx])
	operand := strings.TrimSpace(s[idx+len(token):])
	if atom.Ref == "" || operand == "" {
		return Atom{}, fmt.Errorf("invalid condition %q: want <ref> <op> <operand>", expr)
	}

	if atom.Op == OpMember {
		tmpl, err := ParseTemplate(operand)
		if err != nil {
			return Atom{}, fmt.Errorf("invalid condition %q: %w", expr, err)
		}
		atom.Operand = tmpl
		return atom, nil
	}

	if atom.Negated {
		return Atom{}, fmt.Errorf("invalid condition %q: negation applies to membership tests only", expr)
	}
	threshold, err := strconv.ParseFloat(operand, 64)
	if err != nil {
		return Atom{}, fmt.Errorf("invalid condition %q: threshold %q is not numeric", expr, operand)
	}
	atom.Threshold = threshold
	return atom, nil
}

// Vars returns the variable names referenced by membership atoms, for
// load-time validation against the declared variable table.
func (c *Condition) Vars() []string {
	if c == nil {
		return nil
	}
	var names []string
	for _, atom := range c.Atoms {
		if atom.Op == OpMember {
			names = append(names, atom.Ref)
		}
	}
	return names
}

// Eval evaluates the conjunction against a match context and the variable
// store. A nil condition is unconditionally true.
func (c *Condition) Eval(ctx *event.MatchContext, store *vars.Store) bool {
	if c == nil {
		return true
	}
	for _, atom := range c.Atoms {
		if !atom.eval(ctx, store) {
			return false
		}
	}
	return true
}

func (a *Atom) eval(ctx *event.MatchContext, store *vars.Store) bool {
	if a.Op == OpMember {
		contained := store.Contains(a.Ref, a.Operand.Render(ctx))
		if a.Negated {
			return !contained
		}
		return contained
	}

	raw, ok := ctx.Get(a.Ref)
	if !ok {
		return false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		// Non-numeric field: the atom is false, not an error.
		return false
	}

	switch a.Op {
	case OpGT:
		return value > a.Threshold
	case OpLT:
		return value < a.Threshold
	case OpGE:
		return value >= a.Threshold
	case OpLE:
		return value <= a.Threshold
	default:
		return false
	}
}

// String returns the atom's source expression.
func (a Atom) String() string {
	return a.src
}
