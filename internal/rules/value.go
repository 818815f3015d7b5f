package rules

// ValueKind tags the closed set of condition value variants.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
	KindList
)

// Value is a tagged union over the types a condition may carry. Keeping the
// set closed lets the operator table be checked exhaustively instead of
// switching on an open any.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	List []Value
}

// String builds a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number builds a numeric value.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Boolean builds a boolean value.
func Boolean(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// List builds a list value.
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }

// FromAny coerces a dynamic context value into the closed variant set. The
// second return is false for types outside the set (structs, maps, nil).
func FromAny(v any) (Value, bool) {
	switch t := v.(type) {
	case string:
		return String(t), true
	case bool:
		return Boolean(t), true
	case float64:
		return Number(t), true
	case float32:
		return Number(float64(t)), true
	case int:
		return Number(float64(t)), true
	case int32:
		return Number(float64(t)), true
	case int64:
		return Number(float64(t)), true
	case uint:
		return Number(float64(t)), true
	case uint32:
		return Number(float64(t)), true
	case uint64:
		return Number(float64(t)), true
	case []any:
		items := make([]Value, 0, len(t))
		for _, raw := range t {
			item, ok := FromAny(raw)
			if !ok {
				return Value{}, false
			}
			items = append(items, item)
		}
		return List(items...), true
	case []string:
		items := make([]Value, 0, len(t))
		for _, s := range t {
			items = append(items, String(s))
		}
		return List(items...), true
	default:
		return Value{}, false
	}
}

func (v Value) equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == other.Str
	case KindNumber:
		return v.Num == other.Num
	case KindBool:
		return v.Bool == other.Bool
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].equal(other.List[i]) {
				return false
			}
		}
		return true
	}
	return false
}
