package reference

import "encoding/json"

// Kind classifies a value of a loosely typed tree.
type Kind int

const (
	KindOther Kind = iota
	KindString
	KindBoolean
	KindNumber
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "other"
	}
}

func KindOf(v any) Kind {
	switch v.(type) {
	case string:
		return KindString
	case bool:
		return KindBoolean
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return KindNumber
	case []any:
		return KindList
	case map[string]any:
		return KindMap
	default:
		return KindOther
	}
}
