package evaluation

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// EvaluateCondition applies one condition against the context. It is a pure
// function and never returns an error: an undefined attribute fails every
// operator except the null/empty checks, and an unknown operator is logged
// and treated as non-matching.
func EvaluateCondition(cond *Condition, ctx Context) bool {
	actual := GetNested(ctx, cond.Attribute)

	if actual == Undefined {
		switch cond.Operator {
		case OpIsNull, OpIsEmpty:
			return true
		case OpIsNotNull, OpIsNotEmpty:
			return false
		default:
			return false
		}
	}

	switch cond.Operator {
	case OpEquals:
		return valueEquals(actual, cond.Value)
	case OpNotEquals:
		return !valueEquals(actual, cond.Value)
	case OpContains:
		return strings.Contains(stringify(actual), stringify(cond.Value))
	case OpNotContain:
		return !strings.Contains(stringify(actual), stringify(cond.Value))
	case OpStartsWith:
		return strings.HasPrefix(stringify(actual), stringify(cond.Value))
	case OpEndsWith:
		return strings.HasSuffix(stringify(actual), stringify(cond.Value))
	case OpGT:
		return compare(actual, cond.Value) > 0
	case OpLT:
		return compare(actual, cond.Value) < 0
	case OpGTE:
		return compare(actual, cond.Value) >= 0
	case OpLTE:
		return compare(actual, cond.Value) <= 0
	case OpIn:
		return cond.contains(actual)
	case OpNotIn:
		return !cond.contains(actual)
	case OpIsNull:
		return actual == nil
	case OpIsNotNull:
		return actual != nil
	case OpIsEmpty:
		return isEmpty(actual)
	case OpIsNotEmpty:
		return !isEmpty(actual)
	default:
		slog.Warn("unknown condition operator",
			"operator", string(cond.Operator), "condition_id", cond.ID)
		return false
	}
}

// contains tests membership of actual in the condition's expected array,
// using the sorted index when one was prepared.
func (c *Condition) contains(actual interface{}) bool {
	if c.sortedStrings != nil {
		s, ok := actual.(string)
		if !ok {
			return false
		}
		i := sort.SearchStrings(c.sortedStrings, s)
		return i < len(c.sortedStrings) && c.sortedStrings[i] == s
	}
	if c.sortedNumbers != nil {
		n, ok := numericValue(actual)
		if !ok {
			return false
		}
		i := sort.SearchFloat64s(c.sortedNumbers, n)
		return i < len(c.sortedNumbers) && c.sortedNumbers[i] == n
	}

	arr, ok := c.Value.([]interface{})
	if !ok {
		return false
	}
	for _, v := range arr {
		if valueEquals(actual, v) {
			return true
		}
	}
	return false
}

// valueEquals is strict, type-sensitive equality over JSON-shaped values.
// Numbers compare numerically (JSON decodes every number as float64, but
// definitions built in Go may carry ints); strings never equal numbers.
func valueEquals(a, b interface{}) bool {
	if an, aok := numericValue(a); aok {
		bn, bok := numericValue(b)
		return bok && an == bn
	}
	if _, bok := numericValue(b); bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// numericValue is like toNumber but without string parsing, preserving
// type-sensitivity for equality operators.
func numericValue(v interface{}) (float64, bool) {
	if _, isString := v.(string); isString {
		return 0, false
	}
	return toNumber(v)
}

// compare orders two values numerically when both coerce to numbers,
// otherwise lexicographically over their string forms.
func compare(a, b interface{}) int {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

// toNumber coerces JSON scalars to float64. Strings are parsed so that
// numeric comparisons behave the same whether the context carried "42" or 42.
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}
