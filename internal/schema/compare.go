package schema

import (
	"math"
	"strings"
)

// CompareValues orders two values of type t. Null sorts before every value.
// Text compares bytewise, floats follow the store's total order (-0 < +0, NaN last),
// lists compare element by element and then by length.
func CompareValues(t Type, a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch t.Kind {
	case KindInt:
		return compareOrdered(a.(int32), b.(int32))
	case KindBigInt:
		return compareOrdered(a.(int64), b.(int64))
	case KindFloat:
		return compareFloat(a.(float32), b.(float32))
	case KindBoolean:
		return compareBool(a.(bool), b.(bool))
	case KindText:
		return strings.Compare(a.(string), b.(string))
	case KindList:
		return compareList(t.ElemType(), a, b)
	}
	return 0
}

// CompareClustering orders two rows by the schema's clustering columns.
func (s *Schema) CompareClustering(a, b Row) int {
	for _, i := range s.clusteringIdx {
		if c := CompareValues(s.Columns[i].Type, a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

type ordered interface {
	~int32 | ~int64
}

func compareOrdered[T ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func compareFloat(a, b float32) int {
	fa, fb := float64(a), float64(b)
	aNaN, bNaN := math.IsNaN(fa), math.IsNaN(fb)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	sa, sb := math.Signbit(fa), math.Signbit(fb)
	switch {
	case sa == sb:
		return 0
	case sa:
		return -1
	}
	return 1
}

func compareList(elem Type, a, b any) int {
	la, lb := listLen(a), listLen(b)
	n := min(la, lb)
	for i := 0; i < n; i++ {
		if c := CompareValues(elem, listAt(a, i), listAt(b, i)); c != 0 {
			return c
		}
	}
	return compareOrdered(int64(la), int64(lb))
}

// listLen returns the length of a list value; it accepts the list Go types only.
func listLen(v any) int {
	switch l := v.(type) {
	case []int32:
		return len(l)
	case []int64:
		return len(l)
	case []float32:
		return len(l)
	case []bool:
		return len(l)
	case []string:
		return len(l)
	}
	return 0
}

func listAt(v any, i int) any {
	switch l := v.(type) {
	case []int32:
		return l[i]
	case []int64:
		return l[i]
	case []float32:
		return l[i]
	case []bool:
		return l[i]
	case []string:
		return l[i]
	}
	return nil
}
