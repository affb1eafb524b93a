package workflow

import (
	"fmt"
	"strings"

	"conductor/errors"
)

// Comparator 封闭的条件操作符集合
//
// 操作符在定义加载时校验，求值阶段不会再遇到未知操作符。
type Comparator string

const (
	CompEquals      Comparator = "equals"
	CompNotEquals   Comparator = "not_equals"
	CompContains    Comparator = "contains"
	CompGreaterThan Comparator = "greater_than"
	CompLessThan    Comparator = "less_than"
	CompExists      Comparator = "exists"
	CompNotExists   Comparator = "not_exists"
)

var knownComparators = map[Comparator]bool{
	CompEquals:      true,
	CompNotEquals:   true,
	CompContains:    true,
	CompGreaterThan: true,
	CompLessThan:    true,
	CompExists:      true,
	CompNotExists:   true,
}

// Validate 校验操作符是否已知
func (c Comparator) Validate() error {
	if !knownComparators[c] {
		return errors.NewValidation("unknown condition operator %q", string(c))
	}
	return nil
}

// Evaluate 用操作符比较文档取值与参考值
//
// exists/not_exists 只看取值是否存在；
// greater_than/less_than 做数值比较，无法转换为数值视为不成立。
func (c Comparator) Evaluate(value any, exists bool, ref any) bool {
	switch c {
	case CompEquals:
		return exists && equalValues(value, ref)
	case CompNotEquals:
		return !exists || !equalValues(value, ref)
	case CompContains:
		return exists && strings.Contains(stringify(value), stringify(ref))
	case CompGreaterThan:
		a, okA := toFloat(value)
		b, okB := toFloat(ref)
		return exists && okA && okB && a > b
	case CompLessThan:
		a, okA := toFloat(value)
		b, okB := toFloat(ref)
		return exists && okA && okB && a < b
	case CompExists:
		return exists && value != nil
	case CompNotExists:
		return !exists || value == nil
	default:
		// Validate 在加载时拒绝未知操作符，这里不应到达
		return false
	}
}

// Evaluate 对文档求值字段条件
func (fc *FieldCondition) Evaluate(doc map[string]any) bool {
	value, exists := LookupPath(doc, fc.Field)
	return fc.Operator.Evaluate(value, exists, fc.Value)
}

// LookupPath 按点路径在嵌套 map 中取值
//
// 路径中间节点不是 map 时视为不存在。
func LookupPath(doc map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = doc
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func equalValues(a, b any) bool {
	if fa, okA := toFloat(a); okA {
		if fb, okB := toFloat(b); okB {
			return fa == fb
		}
	}
	return stringify(a) == stringify(b)
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toFloat(v any) (float64, bool) {
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
	case uint64:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
