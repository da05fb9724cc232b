package utils

import (
	"fmt"
	"math"
	"strings"

	goeval "github.com/edisonguo/govaluate"
)

// BandExpressions holds a list of parsed band math expressions
// together with the variables each of them references.
type BandExpressions struct {
	ExprText    []string
	Expressions []*goeval.EvaluableExpression
	ExprVarRef  [][]string
	VarList     []string
}

// ParseBandExpressions parses exprs and checks every variable is one
// of validVars.  A nil validVars accepts any variable.
func ParseBandExpressions(exprs []string, validVars []string) (*BandExpressions, error) {
	var valid map[string]struct{}
	if validVars != nil {
		valid = make(map[string]struct{}, len(validVars))
		for _, v := range validVars {
			valid[v] = struct{}{}
		}
	}

	bandExpr := &BandExpressions{}
	seen := make(map[string]struct{})
	for _, text := range exprs {
		text = strings.TrimSpace(text)
		if len(text) == 0 {
			return nil, fmt.Errorf("empty band expression")
		}

		expr, err := goeval.NewEvaluableExpression(text)
		if err != nil {
			return nil, fmt.Errorf("band expression %q: %v", text, err)
		}

		var varRef []string
		refSeen := make(map[string]struct{})
		for _, token := range expr.Tokens() {
			if token.Kind != goeval.VARIABLE {
				continue
			}
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if valid != nil {
				if _, found := valid[varName]; !found {
					return nil, fmt.Errorf("variable %v is not supported. Valid variables are %v", varName, validVars)
				}
			}
			if _, found := refSeen[varName]; !found {
				refSeen[varName] = struct{}{}
				varRef = append(varRef, varName)
			}
			if _, found := seen[varName]; !found {
				seen[varName] = struct{}{}
				bandExpr.VarList = append(bandExpr.VarList, varName)
			}
		}

		bandExpr.ExprText = append(bandExpr.ExprText, text)
		bandExpr.Expressions = append(bandExpr.Expressions, expr)
		bandExpr.ExprVarRef = append(bandExpr.ExprVarRef, varRef)
	}

	return bandExpr, nil
}

// EvaluateFloat evaluates expression ix with parameters and converts
// the result to float64.  Non-finite results are returned as NaN.
func (be *BandExpressions) EvaluateFloat(ix int, parameters map[string]interface{}) (float64, error) {
	result, err := be.Expressions[ix].Evaluate(parameters)
	if err != nil {
		return math.NaN(), fmt.Errorf("Eval '%v' error: %v", be.ExprText[ix], err)
	}

	var val float64
	switch r := result.(type) {
	case float32:
		val = float64(r)
	case float64:
		val = r
	default:
		return math.NaN(), fmt.Errorf("Failed to cast eval results '%v' to float, %v", result, be.ExprText[ix])
	}

	if math.IsInf(val, 0) || math.IsNaN(val) {
		return math.NaN(), nil
	}
	return val, nil
}
