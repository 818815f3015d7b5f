package rules

import (
	"encoding/json"
	"fmt"
)

// Wire format shared with the promotion catalog: a group is an object with
// "operator" (AND/OR) and "children"; anything else is a condition leaf with
// "field", "operator", "value".

type groupJSON struct {
	Operator string            `json:"operator"`
	Children []json.RawMessage `json:"children"`
}

type conditionJSON struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// DecodeTree parses and validates a rule tree from its catalog JSON form.
func DecodeTree(raw []byte) (Node, error) {
	node, err := decodeNode(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(node); err != nil {
		return nil, err
	}
	return node, nil
}

func decodeNode(raw []byte) (Node, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("rules: decode node: %w", err)
	}
	if _, isGroup := probe["children"]; isGroup {
		var g groupJSON
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("rules: decode group: %w", err)
		}
		children := make([]Node, 0, len(g.Children))
		for _, childRaw := range g.Children {
			child, err := decodeNode(childRaw)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return &Group{Op: GroupOp(g.Operator), Children: children}, nil
	}
	var c conditionJSON
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("rules: decode condition: %w", err)
	}
	value, ok := FromAny(c.Value)
	if !ok {
		return nil, fmt.Errorf("rules: unsupported value type for field %q", c.Field)
	}
	return Condition{Field: c.Field, Op: Operator(c.Operator), Value: value}, nil
}

// EncodeTree serialises a rule tree back into its catalog JSON form.
func EncodeTree(n Node) ([]byte, error) {
	encoded, err := encodeNode(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(encoded)
}

func encodeNode(n Node) (any, error) {
	switch t := n.(type) {
	case Condition:
		return conditionJSON{Field: t.Field, Operator: string(t.Op), Value: valueToAny(t.Value)}, nil
	case *Group:
		children := make([]json.RawMessage, 0, len(t.Children))
		for _, child := range t.Children {
			encoded, err := encodeNode(child)
			if err != nil {
				return nil, err
			}
			raw, err := json.Marshal(encoded)
			if err != nil {
				return nil, err
			}
			children = append(children, raw)
		}
		return groupJSON{Operator: string(t.Op), Children: children}, nil
	default:
		return nil, fmt.Errorf("rules: unsupported node type %T", n)
	}
}

func valueToAny(v Value) any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindList:
		items := make([]any, 0, len(v.List))
		for _, item := range v.List {
			items = append(items, valueToAny(item))
		}
		return items
	}
	return nil
}
