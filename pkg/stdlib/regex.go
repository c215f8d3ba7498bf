package stdlib

import (
	"regexp"

	"github.com/pkg/errors"

	"github.com/kristofer/policyvm/pkg/value"
	"github.com/kristofer/policyvm/pkg/vm"
)

// registerRegexNatives installs regex_match/regex_find_all/regex_replace.
func registerRegexNatives(machine *vm.VM) {
	machine.RegisterGlobal("regex_match", native("regex_match", 2, func(args []value.Value) (value.Value, error) {
		re, s, err := compileAndSubject(args, "regex_match")
		if err != nil {
			return nil, err
		}
		return value.Bool(re.MatchString(s)), nil
	}))

	machine.RegisterGlobal("regex_find_all", native("regex_find_all", 2, func(args []value.Value) (value.Value, error) {
		re, s, err := compileAndSubject(args, "regex_find_all")
		if err != nil {
			return nil, err
		}
		matches := re.FindAllString(s, -1)
		out := make([]value.Value, len(matches))
		for i, m := range matches {
			out[i] = value.String(m)
		}
		return value.NewList(out), nil
	}))

	machine.RegisterGlobal("regex_replace", native("regex_replace", 3, func(args []value.Value) (value.Value, error) {
		pattern, err := wantString(args, 0, "regex_replace")
		if err != nil {
			return nil, err
		}
		s, err := wantString(args, 1, "regex_replace")
		if err != nil {
			return nil, err
		}
		repl, err := wantString(args, 2, "regex_replace")
		if err != nil {
			return nil, err
		}
		re, compileErr := regexp.Compile(pattern)
		if compileErr != nil {
			return nil, errors.Wrap(compileErr, "regex_replace")
		}
		return value.String(re.ReplaceAllString(s, repl)), nil
	}))
}

func compileAndSubject(args []value.Value, who string) (*regexp.Regexp, string, error) {
	pattern, err := wantString(args, 0, who)
	if err != nil {
		return nil, "", err
	}
	s, err := wantString(args, 1, who)
	if err != nil {
		return nil, "", err
	}
	re, compileErr := regexp.Compile(pattern)
	if compileErr != nil {
		return nil, "", errors.Wrapf(compileErr, "%s: invalid pattern", who)
	}
	return re, s, nil
}
