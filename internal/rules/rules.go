// Package rules evaluates boolean promotion rule trees against a cart/user
// context. Trees are immutable once built; evaluation is purely functional and
// safe for unrestricted concurrent use.
package rules

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownOperator is returned when a condition uses an operator outside the table.
	ErrUnknownOperator = errors.New("rules: unknown operator")
	// ErrUnknownGroupOperator is returned for a group operator other than AND/OR.
	ErrUnknownGroupOperator = errors.New("rules: unknown group operator")
	// ErrCyclicTree is returned when a group appears inside its own subtree.
	ErrCyclicTree = errors.New("rules: rule tree contains a cycle")
	// ErrNilNode is returned when a group contains a nil child.
	ErrNilNode = errors.New("rules: nil node in rule tree")
)

// Operator identifies a leaf comparison.
type Operator string

const (
	OpEq       Operator = "="
	OpNe       Operator = "!="
	OpGt       Operator = ">"
	OpLt       Operator = "<"
	OpGe       Operator = ">="
	OpLe       Operator = "<="
	OpIn       Operator = "in"
	OpNotIn    Operator = "not_in"
	OpContains Operator = "contains"
)

func (o Operator) valid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpLt, OpGe, OpLe, OpIn, OpNotIn, OpContains:
		return true
	}
	return false
}

// negative reports whether the operator succeeds trivially on a missing field.
// This is the documented missing-field policy: absent context paths never match
// any operator except != and not_in, so optional fields cannot silently deny a
// promotion guarded by a negative condition.
func (o Operator) negative() bool {
	return o == OpNe || o == OpNotIn
}

// GroupOp combines the results of a group's children.
type GroupOp string

const (
	And GroupOp = "AND"
	Or  GroupOp = "OR"
)

// Node is either a Condition leaf or a *Group.
type Node interface {
	isNode()
}

// Condition is a leaf comparing one context field against a literal value.
type Condition struct {
	Field string
	Op    Operator
	Value Value
}

func (Condition) isNode() {}

// Group combines child nodes under AND or OR.
type Group struct {
	Op       GroupOp
	Children []Node
}

func (*Group) isNode() {}

// NewGroup builds a validated group. Construction fails on unknown operators,
// nil children, or when a child group already appears higher in the tree.
func NewGroup(op GroupOp, children ...Node) (*Group, error) {
	g := &Group{Op: op, Children: children}
	if err := Validate(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate walks the tree rejecting unknown operators, nil nodes, and cycles.
// A promotion whose tree fails validation never applies.
func Validate(n Node) error {
	return validate(n, map[*Group]bool{})
}

func validate(n Node, seen map[*Group]bool) error {
	switch t := n.(type) {
	case nil:
		return ErrNilNode
	case Condition:
		if !t.Op.valid() {
			return fmt.Errorf("%w: %q", ErrUnknownOperator, t.Op)
		}
		if strings.TrimSpace(t.Field) == "" {
			return errors.New("rules: condition field is required")
		}
		return nil
	case *Group:
		if t == nil {
			return ErrNilNode
		}
		if t.Op != And && t.Op != Or {
			return fmt.Errorf("%w: %q", ErrUnknownGroupOperator, t.Op)
		}
		if seen[t] {
			return ErrCyclicTree
		}
		seen[t] = true
		for _, child := range t.Children {
			if err := validate(child, seen); err != nil {
				return err
			}
		}
		delete(seen, t)
		return nil
	default:
		return fmt.Errorf("rules: unsupported node type %T", n)
	}
}

// Evaluate resolves the tree against the context. An empty AND group is true
// and an empty OR group is false, by convention. Evaluation never errors; a
// malformed node simply evaluates to false.
func Evaluate(n Node, ctx map[string]any) bool {
	switch t := n.(type) {
	case Condition:
		return evalCondition(t, ctx)
	case *Group:
		if t == nil {
			return false
		}
		switch t.Op {
		case And:
			for _, child := range t.Children {
				if !Evaluate(child, ctx) {
					return false
				}
			}
			return true
		case Or:
			for _, child := range t.Children {
				if Evaluate(child, ctx) {
					return true
				}
			}
			return false
		}
		return false
	default:
		return false
	}
}

func evalCondition(c Condition, ctx map[string]any) bool {
	raw, found := Lookup(ctx, c.Field)
	if !found {
		return c.Op.negative()
	}
	actual, ok := FromAny(raw)
	if !ok {
		return c.Op.negative()
	}
	return compare(actual, c.Op, c.Value)
}

// Lookup walks a dotted path ("order.total") through nested maps. The second
// return reports whether the full path resolved.
func Lookup(ctx map[string]any, path string) (any, bool) {
	if ctx == nil || path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current any = ctx
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func compare(actual Value, op Operator, expected Value) bool {
	switch op {
	case OpEq:
		return actual.equal(expected)
	case OpNe:
		return !actual.equal(expected)
	case OpGt, OpLt, OpGe, OpLe:
		return ordered(actual, op, expected)
	case OpIn:
		return membership(actual, expected)
	case OpNotIn:
		if expected.Kind != KindList {
			// Malformed definition fails closed.
			return false
		}
		return !membership(actual, expected)
	case OpContains:
		return contains(actual, expected)
	}
	return false
}

func ordered(actual Value, op Operator, expected Value) bool {
	var cmp int
	switch {
	case actual.Kind == KindNumber && expected.Kind == KindNumber:
		switch {
		case actual.Num < expected.Num:
			cmp = -1
		case actual.Num > expected.Num:
			cmp = 1
		}
	case actual.Kind == KindString && expected.Kind == KindString:
		cmp = strings.Compare(actual.Str, expected.Str)
	default:
		return false
	}
	switch op {
	case OpGt:
		return cmp > 0
	case OpLt:
		return cmp < 0
	case OpGe:
		return cmp >= 0
	case OpLe:
		return cmp <= 0
	}
	return false
}

func membership(actual, expected Value) bool {
	if expected.Kind != KindList {
		return false
	}
	for _, candidate := range expected.List {
		if actual.equal(candidate) {
			return true
		}
	}
	return false
}

func contains(actual, expected Value) bool {
	switch actual.Kind {
	case KindString:
		return expected.Kind == KindString && strings.Contains(actual.Str, expected.Str)
	case KindList:
		for _, candidate := range actual.List {
			if candidate.equal(expected) {
				return true
			}
		}
	}
	return false
}
