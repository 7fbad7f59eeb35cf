package skills

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Calculator evaluates arithmetic: + - * / ** unary minus, parentheses,
// and the functions sqrt, pow and abs. All numbers are doubles, so
// 7 / 2 is 3.5.
type Calculator struct {
	env *cel.Env
}

// NewCalculator builds the expression environment.
func NewCalculator() (*Calculator, error) {
	double := func(v ref.Val) float64 { return float64(v.(types.Double)) }
	env, err := cel.NewEnv(
		cel.Function("pow",
			cel.Overload("pow_double_double", []*cel.Type{cel.DoubleType, cel.DoubleType}, cel.DoubleType,
				cel.BinaryBinding(func(a, b ref.Val) ref.Val {
					return types.Double(math.Pow(double(a), double(b)))
				}))),
		cel.Function("sqrt",
			cel.Overload("sqrt_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
				cel.UnaryBinding(func(a ref.Val) ref.Val {
					return types.Double(math.Sqrt(double(a)))
				}))),
		cel.Function("abs",
			cel.Overload("abs_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
				cel.UnaryBinding(func(a ref.Val) ref.Val {
					return types.Double(math.Abs(double(a)))
				}))),
	)
	if err != nil {
		return nil, fmt.Errorf("calculator environment: %w", err)
	}
	return &Calculator{env: env}, nil
}

// Eval computes expr.
func (c *Calculator) Eval(ctx context.Context, expr string) (float64, error) {
	src, err := translate(expr)
	if err != nil {
		return 0, err
	}
	ast, iss := c.env.Compile(src)
	if iss.Err() != nil {
		return 0, fmt.Errorf("invalid expression: %w", iss.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return 0, fmt.Errorf("invalid expression: %w", err)
	}
	val, _, err := prg.ContextEval(ctx, map[string]any{})
	if err != nil {
		return 0, fmt.Errorf("evaluate: %w", err)
	}
	d, ok := val.(types.Double)
	if !ok {
		return 0, fmt.Errorf("expression is not numeric")
	}
	f := float64(d)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("result is undefined (division by zero or out of range)")
	}
	return f, nil
}

// FormatNumber renders whole results without a fractional part.
func FormatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Skill returns the calculate skill.
func (c *Calculator) Skill() *Skill {
	return &Skill{
		Name:        "calculate",
		Description: "Evaluate an arithmetic expression using + - * / ** and parentheses, e.g. 5 * (3 + 1).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{"type": "string", "minLength": 1},
			},
			"required": []string{"expression"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			expr := stringArg(args, "expression")
			v, err := c.Eval(ctx, expr)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s = %s", expr, FormatNumber(v)), nil
		},
	}
}

// translate rewrites calculator syntax into a CEL expression: number
// literals become doubles and a ** b becomes pow(a, b). Anything other
// than numbers, operators, parentheses, commas and the known function
// names is rejected here, before CEL sees it.
func translate(expr string) (string, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return "", err
	}
	if len(toks) == 0 {
		return "", fmt.Errorf("empty expression")
	}
	p := &exprParser{toks: toks}
	out, err := p.sum()
	if err != nil {
		return "", err
	}
	if p.pos != len(p.toks) {
		return "", fmt.Errorf("unexpected %q", p.toks[p.pos])
	}
	return out, nil
}

var calcFuncs = map[string]bool{"pow": true, "sqrt": true, "abs": true}

func tokenize(s string) ([]string, error) {
	var toks []string
	for i := 0; i < len(s); {
		r := rune(s[i])
		switch {
		case unicode.IsSpace(r):
			i++
		case s[i] == '*' && i+1 < len(s) && s[i+1] == '*':
			toks = append(toks, "**")
			i += 2
		case strings.ContainsRune("+-*/(),", r):
			toks = append(toks, string(r))
			i++
		case unicode.IsDigit(r) || r == '.':
			j := i
			for j < len(s) && (unicode.IsDigit(rune(s[j])) || s[j] == '.') {
				j++
			}
			if j < len(s) && (s[j] == 'e' || s[j] == 'E') {
				k := j + 1
				if k < len(s) && (s[k] == '+' || s[k] == '-') {
					k++
				}
				if k < len(s) && unicode.IsDigit(rune(s[k])) {
					for k < len(s) && unicode.IsDigit(rune(s[k])) {
						k++
					}
					j = k
				}
			}
			f, err := strconv.ParseFloat(s[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", s[i:j])
			}
			lit := strconv.FormatFloat(f, 'g', -1, 64)
			if !strings.ContainsAny(lit, ".eE") {
				lit += ".0"
			}
			toks = append(toks, lit)
			i = j
		case unicode.IsLetter(r):
			j := i
			for j < len(s) && unicode.IsLetter(rune(s[j])) {
				j++
			}
			name := strings.ToLower(s[i:j])
			if !calcFuncs[name] {
				return nil, fmt.Errorf("unknown name %q", s[i:j])
			}
			toks = append(toks, name)
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", r)
		}
	}
	return toks, nil
}

type exprParser struct {
	toks []string
	pos  int
}

func (p *exprParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *exprParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *exprParser) sum() (string, error) {
	left, err := p.product()
	if err != nil {
		return "", err
	}
	for op := p.peek(); op == "+" || op == "-"; op = p.peek() {
		p.next()
		right, err := p.product()
		if err != nil {
			return "", err
		}
		left = fmt.Sprintf("(%s %s %s)", left, op, right)
	}
	return left, nil
}

func (p *exprParser) product() (string, error) {
	left, err := p.unary()
	if err != nil {
		return "", err
	}
	for op := p.peek(); op == "*" || op == "/"; op = p.peek() {
		p.next()
		right, err := p.unary()
		if err != nil {
			return "", err
		}
		left = fmt.Sprintf("(%s %s %s)", left, op, right)
	}
	return left, nil
}

func (p *exprParser) unary() (string, error) {
	switch p.peek() {
	case "-":
		p.next()
		x, err := p.unary()
		if err != nil {
			return "", err
		}
		return "(-" + x + ")", nil
	case "+":
		p.next()
		return p.unary()
	}
	return p.power()
}

// power is right associative and binds tighter than a unary minus on
// its left: -2 ** 2 is -4.
func (p *exprParser) power() (string, error) {
	base, err := p.atom()
	if err != nil {
		return "", err
	}
	if p.peek() != "**" {
		return base, nil
	}
	p.next()
	exp, err := p.unary()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("pow(%s, %s)", base, exp), nil
}

func (p *exprParser) atom() (string, error) {
	t := p.next()
	switch {
	case t == "":
		return "", fmt.Errorf("unexpected end of expression")
	case t == "(":
		x, err := p.sum()
		if err != nil {
			return "", err
		}
		if p.next() != ")" {
			return "", fmt.Errorf("missing )")
		}
		return "(" + x + ")", nil
	case calcFuncs[t]:
		if p.next() != "(" {
			return "", fmt.Errorf("%s needs arguments in parentheses", t)
		}
		var args []string
		for {
			a, err := p.sum()
			if err != nil {
				return "", err
			}
			args = append(args, a)
			sep := p.next()
			if sep == ")" {
				break
			}
			if sep != "," {
				return "", fmt.Errorf("expected , or ) in %s(...)", t)
			}
		}
		return t + "(" + strings.Join(args, ", ") + ")", nil
	case t[0] >= '0' && t[0] <= '9':
		return t, nil
	}
	return "", fmt.Errorf("unexpected %q", t)
}
