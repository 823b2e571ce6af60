package dbrouter

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/pkg/errors"
)

// expressionFunctions available inside rule expressions
var expressionFunctions = map[string]govaluate.ExpressionFunction{
	// contains(tables, 'orders')
	"contains": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, errors.New("contains(list, value) takes 2 arguments")
		}
		want := fmt.Sprintf("%v", args[1])
		switch list := args[0].(type) {
		case []string:
			for _, v := range list {
				if strings.EqualFold(v, want) {
					return true, nil
				}
			}
		case string:
			return strings.Contains(strings.ToLower(list), strings.ToLower(want)), nil
		}
		return false, nil
	},
	// value(hints, 'tenant')
	"value": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, errors.New("value(map, key) takes 2 arguments")
		}
		m, ok := args[0].(map[string]interface{})
		if !ok {
			return "", nil
		}
		if v, ok := m[fmt.Sprintf("%v", args[1])]; ok {
			return v, nil
		}
		return "", nil
	},
	"lower": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("lower(value) takes 1 argument")
		}
		return strings.ToLower(fmt.Sprintf("%v", args[0])), nil
	},
}

// ExpressionRule routes to Node when a boolean expression over the statement
// holds. Parameters: read, write, type, table, tables, sql, hints.
//
//	write && contains(tables, 'orders')
//	type == 'SELECT' && value(hints, 'tenant') == 'vip'
type ExpressionRule struct {
	expression string
	node       string
	eval       *govaluate.EvaluableExpression
}

func NewExpressionRule(expression, node string) (*ExpressionRule, error) {
	if node == "" {
		return nil, errors.New("dbrouter: expression rule without node")
	}
	eval, err := govaluate.NewEvaluableExpressionWithFunctions(expression, expressionFunctions)
	if err != nil {
		return nil, errors.Wrapf(err, "parse expression %q", expression)
	}
	return &ExpressionRule{expression: expression, node: node, eval: eval}, nil
}

func (r *ExpressionRule) Route(rc *RouteContext) *NodeAttribute {
	ok, err := r.Matches(rc.SqlAttribute())
	if err != nil || !ok {
		return nil
	}
	return rc.Node(r.node)
}

// Matches evaluates the expression; a non-boolean result counts as false.
func (r *ExpressionRule) Matches(attr *SqlAttribute) (bool, error) {
	result, err := r.eval.Evaluate(expressionParameters(attr))
	if err != nil {
		return false, errors.Wrapf(err, "evaluate %q", r.expression)
	}
	b, _ := result.(bool)
	return b, nil
}

func (r *ExpressionRule) String() string {
	return fmt.Sprintf("expression(%s -> %s)", r.expression, r.node)
}

func expressionParameters(attr *SqlAttribute) map[string]interface{} {
	params := map[string]interface{}{
		"read":   false,
		"write":  false,
		"type":   "",
		"table":  "",
		"tables": []string{},
		"sql":    "",
		"hints":  map[string]interface{}{},
	}
	if attr == nil {
		return params
	}
	// a []interface{} argument would be spread over the function's arguments
	tables := append([]string{}, attr.Tables...)
	hints := make(map[string]interface{}, len(attr.Hint))
	for k, v := range attr.Hint {
		hints[k] = v
	}
	params["read"] = attr.IsRead()
	params["write"] = attr.IsWrite()
	params["type"] = attr.Type.String()
	params["tables"] = tables
	params["sql"] = attr.NativeSql
	params["hints"] = hints
	if len(attr.Tables) > 0 {
		params["table"] = attr.Tables[0]
	}
	return params
}
