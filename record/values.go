package record

import (
	"fmt"
	"reflect"
	"strconv"
)

// ID is the opaque identity assigned by the directory store. The zero value means
// the entity has not been persisted.
type ID string

func (id ID) IsZero() bool   { return id == "" }
func (id ID) String() string { return string(id) }

// sameValue is strict: dynamic types must match, and nil only equals nil.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// metaString encodes an attribute value for the string-only metadata channel.
func metaString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func toSet(names ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, list := range names {
		for _, n := range list {
			set[n] = struct{}{}
		}
	}
	return set
}
