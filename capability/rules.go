package capability

import (
	"context"
	"fmt"
	"sort"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
	celgo "github.com/google/cel-go/cel"

	"github.com/acksell/dirrecord/record"
)

// Rule engines.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
)

// Rule is a boolean expression checked before every save. Expressions see three
// variables: attrs (the entity's visible attributes), exists and dirty (the
// names of changed attributes).
//
//	expr: attrs.user_email == nil || attrs.user_email contains "@"
//	cel:  !("user_email" in attrs) || attrs.user_email.contains("@")
type Rule struct {
	Name    string
	Engine  string
	Expr    string
	Message string
}

// Rules vetoes saves whose entity does not satisfy every rule. A rule that
// errors or yields a non-boolean fails the save.
type Rules []Rule

func (Rules) Name() string { return "rules" }

type compiledRule struct {
	Rule
	eval func(env map[string]any) (any, error)
}

func (rs Rules) OnTypeInit(b *record.Booter) error {
	compiled := make([]compiledRule, 0, len(rs))
	for _, r := range rs {
		c, err := compileRule(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}
	if len(compiled) == 0 {
		return nil
	}
	b.Listen(record.EventSaving, func(_ context.Context, ev record.Event) record.Verdict {
		env := ruleEnv(ev.Entity)
		for _, c := range compiled {
			out, err := c.eval(env)
			if err != nil {
				return record.Fail(fmt.Errorf("rule %s: %w", c.Name, err))
			}
			ok, isBool := out.(bool)
			if !isBool {
				return record.Fail(fmt.Errorf("rule %s: expected bool, got %T", c.Name, out))
			}
			if !ok {
				msg := c.Message
				if msg == "" {
					msg = "rule " + c.Name + " not satisfied"
				}
				return record.Veto(msg)
			}
		}
		return record.Continue
	})
	return nil
}

func ruleEnv(e *record.Entity) map[string]any {
	dirty := make([]string, 0)
	for k := range e.Dirty() {
		dirty = append(dirty, k)
	}
	sort.Strings(dirty)
	return map[string]any{
		"attrs":  e.ToMap(),
		"exists": e.Exists(),
		"dirty":  dirty,
	}
}

func compileRule(r Rule) (compiledRule, error) {
	if r.Expr == "" {
		return compiledRule{}, fmt.Errorf("rule %s: expression must not be empty", r.Name)
	}
	switch r.Engine {
	case EngineExpr, "":
		program, err := compileExpr(r.Expr)
		if err != nil {
			return compiledRule{}, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		return compiledRule{Rule: r, eval: func(env map[string]any) (any, error) {
			return exprlang.Run(program, env)
		}}, nil
	case EngineCEL:
		program, err := compileCEL(r.Expr)
		if err != nil {
			return compiledRule{}, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		return compiledRule{Rule: r, eval: func(env map[string]any) (any, error) {
			out, _, err := program.Eval(env)
			if err != nil {
				return nil, err
			}
			return out.Value(), nil
		}}, nil
	}
	return compiledRule{}, fmt.Errorf("rule %s: unknown engine %q", r.Name, r.Engine)
}

func compileExpr(src string) (*exprvm.Program, error) {
	return exprlang.Compile(src,
		exprlang.Env(map[string]any{
			"attrs":  map[string]any{},
			"exists": false,
			"dirty":  []string{},
		}),
	)
}

func compileCEL(src string) (celgo.Program, error) {
	env, err := celgo.NewEnv(
		celgo.Variable("attrs", celgo.MapType(celgo.StringType, celgo.DynType)),
		celgo.Variable("exists", celgo.BoolType),
		celgo.Variable("dirty", celgo.ListType(celgo.StringType)),
	)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Parse(src)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	checked, issues := env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	return env.Program(checked)
}

// ValidateRule compiles r without booting a type.
func ValidateRule(r Rule) error {
	_, err := compileRule(r)
	return err
}
