package persist

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// KeyValueValidation accepts or rejects one key/value write.
type KeyValueValidation func(key string, value any) bool

// CollectionValidation accepts or rejects one normalized record.
type CollectionValidation func(item Record) bool

// CompileKeyValueRule compiles an expr-lang expression evaluated with `key`
// and `value` in scope, e.g. `key != "locked" && value != nil`.
func CompileKeyValueRule(expression string) (KeyValueValidation, error) {
	program, err := compileRule(expression, map[string]any{"key": "", "value": nil})
	if err != nil {
		return nil, err
	}
	return func(key string, value any) bool {
		return runRule(program, map[string]any{"key": key, "value": value})
	}, nil
}

// CompileCollectionRule compiles an expr-lang expression evaluated with
// `item` in scope, e.g. `item.text != nil`.
func CompileCollectionRule(expression string) (CollectionValidation, error) {
	program, err := compileRule(expression, map[string]any{"item": map[string]any{}})
	if err != nil {
		return nil, err
	}
	return func(item Record) bool {
		return runRule(program, map[string]any{"item": map[string]any(item)})
	}, nil
}

func compileRule(expression string, env map[string]any) (*exprvm.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("validation expression must not be empty")
	}
	program, err := exprlang.Compile(expression, exprlang.Env(env), exprlang.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile validation %q: %w", expression, err)
	}
	return program, nil
}

// runRule treats evaluation errors and non-bool results as rejection.
func runRule(program *exprvm.Program, env map[string]any) bool {
	out, err := exprlang.Run(program, env)
	if err != nil {
		return false
	}
	ok, isBool := out.(bool)
	return isBool && ok
}
