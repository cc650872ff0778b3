// Package qualify decides whether a parsed data payload is the login request.
//
// The decision is an expr-lang expression evaluated against the decoded JSON
// object, exposed to the expression as `body`. The default requires the three
// fields every login request carries.
package qualify

import (
	"github.com/cockroachdb/errors"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mrzor/logincap/internal/pyjson"
)

// DefaultExpression requires the scheme, language and payload fields.
const DefaultExpression = `"scheme" in body && "language" in body && "payload" in body`

// Predicate reports whether a payload completes the capture.
type Predicate interface {
	Qualifies(body *pyjson.Object) (bool, error)
}

// Expression is a compiled predicate.
type Expression struct {
	program *vm.Program
	raw     string
}

// Compile compiles src, or DefaultExpression when src is empty.
func Compile(src string) (*Expression, error) {
	if src == "" {
		src = DefaultExpression
	}

	exprEnv := map[string]interface{}{
		"body": map[string]interface{}{},
	}

	program, err := expr.Compile(src, expr.Env(exprEnv), expr.AsBool())
	if err != nil {
		return nil, errors.Wrapf(err, "compiling qualify expression %q", src)
	}

	return &Expression{program: program, raw: src}, nil
}

// MustDefault returns the compiled DefaultExpression.
func MustDefault() *Expression {
	e, err := Compile("")
	if err != nil {
		panic(err)
	}
	return e
}

// Qualifies evaluates the expression against body.
func (e *Expression) Qualifies(body *pyjson.Object) (bool, error) {
	if body == nil {
		return false, nil
	}

	out, err := expr.Run(e.program, map[string]interface{}{"body": body.Map()})
	if err != nil {
		return false, errors.Wrapf(err, "evaluating %q", e.raw)
	}

	ok, isBool := out.(bool)
	if !isBool {
		return false, errors.Newf("expression %q returned %T", e.raw, out)
	}
	return ok, nil
}

func (e *Expression) String() string {
	return e.raw
}
