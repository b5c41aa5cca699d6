// rules.go: Cross-field consistency rules
//
// Rules that relate two or more fields are written as expr programs and
// compiled once when the package loads. Each rule is evaluated against a
// small typed environment built from the section record.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package themis

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

type crossFieldRule struct {
	field   string
	message string
	source  string
	program *vm.Program
}

func mustCompileRule(env any, field, message, source string) crossFieldRule {
	program, err := expr.Compile(source, expr.Env(env), expr.AsBool())
	if err != nil {
		panic(fmt.Sprintf("themis: invalid rule %q: %v", source, err))
	}
	return crossFieldRule{field: field, message: message, source: source, program: program}
}

// check runs the rule and reports a violation when it evaluates to false.
// An evaluation error is reported as a violation too, never swallowed.
func (r crossFieldRule) check(env any, field string, value any) (ValidationError, bool) {
	if field == "" {
		field = r.field
	}
	out, err := expr.Run(r.program, env)
	if err != nil {
		return ValidationError{Field: field, Message: "rule evaluation failed: " + err.Error(), Value: value}, false
	}
	if ok, _ := out.(bool); !ok {
		return ValidationError{Field: field, Message: r.message, Value: value}, false
	}
	return ValidationError{}, true
}

type themeRuleEnv struct {
	Current   string   `expr:"current"`
	Available []string `expr:"available"`
}

type expressionSetEnv struct {
	Names             []string `expr:"names"`
	DefaultExpression string   `expr:"defaultExpression"`
}

type expressionEntryEnv struct {
	Trigger string `expr:"trigger"`
	Keyword string `expr:"keyword"`
}

type cameraRuleEnv struct {
	Distance float64 `expr:"distance"`
	PX       float64 `expr:"px"`
	PY       float64 `expr:"py"`
	PZ       float64 `expr:"pz"`
	TX       float64 `expr:"tx"`
	TY       float64 `expr:"ty"`
	TZ       float64 `expr:"tz"`
}

var (
	themeCurrentRule = mustCompileRule(themeRuleEnv{},
		"current", "must be one of the available themes",
		`current in available`)

	expressionDefaultRule = mustCompileRule(expressionSetEnv{},
		"defaultExpression", "must name an existing expression",
		`defaultExpression == "" || defaultExpression in names`)

	expressionKeywordRule = mustCompileRule(expressionEntryEnv{},
		"keyword", "is required for keyword-triggered expressions",
		`trigger != "keyword" || trim(keyword) != ""`)

	cameraTargetRule = mustCompileRule(cameraRuleEnv{},
		"camera.target", "must differ from the camera position",
		`px != tx || py != ty || pz != tz`)
)

func evaluateThemeRules(t ThemeSettings) []ValidationError {
	env := themeRuleEnv{Current: t.Current, Available: t.Available}
	if v, ok := themeCurrentRule.check(env, "", t.Current); !ok {
		return []ValidationError{v}
	}
	return nil
}

func evaluateExpressionRules(e ExpressionSettings) []ValidationError {
	var out []ValidationError

	for i, entry := range e.Entries {
		env := expressionEntryEnv{Trigger: entry.Trigger, Keyword: entry.Keyword}
		if v, ok := expressionKeywordRule.check(env, fmt.Sprintf("entries[%d].keyword", i), entry.Keyword); !ok {
			out = append(out, v)
		}
	}

	names := make([]string, 0, len(e.Entries))
	for _, entry := range e.Entries {
		names = append(names, entry.Name)
	}
	env := expressionSetEnv{Names: names, DefaultExpression: e.DefaultExpression}
	if v, ok := expressionDefaultRule.check(env, "", e.DefaultExpression); !ok {
		out = append(out, v)
	}
	return out
}

func evaluateWindowRules(w WindowSettings) []ValidationError {
	cam := w.Camera
	env := cameraRuleEnv{
		Distance: cam.Distance,
		PX:       cam.Position.X, PY: cam.Position.Y, PZ: cam.Position.Z,
		TX: cam.Target.X, TY: cam.Target.Y, TZ: cam.Target.Z,
	}
	if v, ok := cameraTargetRule.check(env, "", cam.Target); !ok {
		return []ValidationError{v}
	}
	return nil
}
