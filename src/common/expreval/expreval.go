// Package expreval compiles the optional uplink filter expression.
package expreval

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/sandrolain/uplink-bridge/src/uplink"
)

const (
	DefaultMaxExpressionLength = 10000
	DefaultMaxNestingDepth     = 50
)

// Env is the set of variables visible to a filter expression, e.g.
//
//	port == 1 && device_id startsWith "station-"
type Env struct {
	DeviceID string `expr:"device_id"`
	Port     int    `expr:"port"`
	Counter  uint32 `expr:"counter"`
	Topic    string `expr:"topic"`
	Size     int    `expr:"size"`
}

// EnvFromUplink builds the expression environment of an uplink.
func EnvFromUplink(u *uplink.RawUplink) Env {
	return Env{
		DeviceID: u.DeviceID,
		Port:     u.Port,
		Counter:  u.Counter,
		Topic:    u.Topic,
		Size:     len(u.Payload),
	}
}

type ExprEvaluator struct {
	source  string
	program *vm.Program
}

// NewExprEvaluator compiles a boolean expression over Env. An empty
// expression returns a nil evaluator and no error.
func NewExprEvaluator(expression string) (*ExprEvaluator, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, nil
	}
	if err := validateExpression(expression, DefaultMaxExpressionLength); err != nil {
		return nil, fmt.Errorf("expression validation failed: %w", err)
	}
	program, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", err)
	}
	return &ExprEvaluator{source: expression, program: program}, nil
}

func (e *ExprEvaluator) String() string {
	return e.source
}

func (e *ExprEvaluator) Eval(env Env) (bool, error) {
	result, err := vm.Run(e.program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, expected bool", result)
	}
	return b, nil
}

// EvalUplink reports whether u passes the filter.
func (e *ExprEvaluator) EvalUplink(u *uplink.RawUplink) (bool, error) {
	return e.Eval(EnvFromUplink(u))
}

func validateExpression(expression string, maxLength int) error {
	if len(expression) > maxLength {
		return fmt.Errorf("expression exceeds maximum length of %d characters", maxLength)
	}

	maxDepth := 0
	depth := 0
	for _, char := range expression {
		switch char {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > DefaultMaxNestingDepth {
		return fmt.Errorf("expression has excessive nesting depth: %d (max: %d)", maxDepth, DefaultMaxNestingDepth)
	}
	return nil
}
