package index

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/orneryd/pathfold/pkg/storage"
)

// slotEnd terminates every encoded key slot. Encoded slots never contain it,
// so an encoded prefix of k slots is a byte prefix of every key sharing those
// k leading values.
const slotEnd = '\x1e'

// CompositeKey is an ordered multi-slot key.
type CompositeKey struct {
	Values []any
	// Hash is a deterministic, type-aware encoding of Values.
	Hash string
}

// NewCompositeKey builds a key from values. Fewer values than the index has
// fields makes a prefix key.
func NewCompositeKey(values ...any) CompositeKey {
	v := make([]any, len(values))
	copy(v, values)
	return CompositeKey{Values: v, Hash: encodeSlots(v)}
}

// String renders the slot values separated by ", ".
func (k CompositeKey) String() string {
	parts := make([]string, len(k.Values))
	for i, v := range k.Values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, ", ")
}

// Len returns the number of populated slots.
func (k CompositeKey) Len() int { return len(k.Values) }

// KeyEqual reports whether two values are the same index key.
func KeyEqual(a, b any) bool {
	return encodeSlot(a) == encodeSlot(b)
}

// slotsOf returns the slots of key: a CompositeKey's values, or the key itself
// as a single slot.
func slotsOf(key any) []any {
	if ck, ok := key.(CompositeKey); ok {
		return ck.Values
	}
	if ck, ok := key.(*CompositeKey); ok && ck != nil {
		return ck.Values
	}
	return []any{key}
}

// encodeLookup validates key against def and returns its encoded prefix.
func encodeLookup(def Definition, key any) (string, error) {
	slots := slotsOf(key)
	if len(slots) == 0 {
		return "", ErrEmptyKey
	}
	if len(slots) > len(def.Fields) {
		return "", fmt.Errorf("%w: %d slots for %d fields", ErrKeyArity, len(slots), len(def.Fields))
	}
	return encodeSlots(slots), nil
}

func encodeSlots(values []any) string {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(encodeSlot(v))
	}
	return b.String()
}

// encodeSlot encodes one value with a type tag. All integer widths and whole
// floats share the numeric tag so 25, int64(25) and 25.0 are one key, while
// "25" stays distinct.
func encodeSlot(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		s = "n:"
	case bool:
		s = "b:" + strconv.FormatBool(x)
	case string:
		s = "s:" + strconv.Quote(x)
	case storage.RecordID:
		s = "r:" + strconv.Quote(string(x))
	case int:
		s = "i:" + strconv.FormatInt(int64(x), 10)
	case int8:
		s = "i:" + strconv.FormatInt(int64(x), 10)
	case int16:
		s = "i:" + strconv.FormatInt(int64(x), 10)
	case int32:
		s = "i:" + strconv.FormatInt(int64(x), 10)
	case int64:
		s = "i:" + strconv.FormatInt(x, 10)
	case uint:
		s = encodeUint(uint64(x))
	case uint8:
		s = encodeUint(uint64(x))
	case uint16:
		s = encodeUint(uint64(x))
	case uint32:
		s = encodeUint(uint64(x))
	case uint64:
		s = encodeUint(x)
	case float32:
		s = encodeFloat(float64(x))
	case float64:
		s = encodeFloat(x)
	default:
		s = "x:" + strconv.Quote(fmt.Sprintf("%T:%v", v, v))
	}
	return s + string(slotEnd)
}

func encodeUint(x uint64) string {
	if x <= math.MaxInt64 {
		return "i:" + strconv.FormatInt(int64(x), 10)
	}
	return "i:" + strconv.FormatUint(x, 10)
}

func encodeFloat(f float64) string {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return "i:" + strconv.FormatInt(int64(f), 10)
	}
	return "f:" + strconv.FormatFloat(f, 'g', -1, 64)
}
