package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

var blockHeaders = []string{
	"if True:",
	"for i in range(3):",
	"while False:",
	"def helper%d():",
}

// pythonHeaders open blocks the dialect cannot parse
var pythonHeaders = []string{
	"try:",
	"with open(path) as f:",
	"class Holder%d:",
}

// nested wraps stmt in a random stack of blocks
func nested(t *rapid.T, stmt string) string {
	return nestedIn(t, blockHeaders, stmt)
}

func nestedIn(t *rapid.T, headers []string, stmt string) string {
	depth := rapid.IntRange(0, 5).Draw(t, "depth")

	var b strings.Builder
	indent := ""
	for i := 0; i < depth; i++ {
		header := rapid.SampledFrom(headers).Draw(t, "header")
		if strings.Contains(header, "%d") {
			header = fmt.Sprintf(header, i)
		}
		b.WriteString(indent + header + "\n")
		indent += "    "
	}
	b.WriteString(indent + stmt + "\n")
	return b.String()
}

var reservedWords = map[string]bool{
	"and": true, "as": true, "assert": true, "async": true, "await": true,
	"break": true, "class": true, "continue": true, "def": true, "del": true,
	"elif": true, "else": true, "except": true, "finally": true, "for": true,
	"from": true, "global": true, "if": true, "import": true, "in": true,
	"is": true, "lambda": true, "load": true, "nonlocal": true, "not": true,
	"or": true, "pass": true, "raise": true, "return": true, "try": true,
	"while": true, "with": true, "yield": true,
}

func identifier(t *rapid.T, label string) string {
	return rapid.StringMatching(`[a-z][a-z0-9]{0,8}`).
		Filter(func(s string) bool { return !reservedWords[s] }).
		Draw(t, label)
}

func TestCheck_ImportsAtAnyDepth(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		module := identifier(t, "module")
		stmt := rapid.SampledFrom([]string{
			"import " + module,
			"from " + module + " import thing",
			"load(\"" + module + ".star\", \"thing\")",
		}).Draw(t, "stmt")

		headers := blockHeaders
		if !strings.HasPrefix(stmt, "load") {
			headers = append(append([]string{}, blockHeaders...), pythonHeaders...)
		}

		_, err := Check(nestedIn(t, headers, stmt))

		var violation *SafetyViolation
		if !errors.As(err, &violation) {
			t.Fatalf("want import violation, got %v", err)
		}
		if violation.Kind != ViolationImport {
			t.Fatalf("want %s, got %s", ViolationImport, violation.Kind)
		}
	})
}

func TestCheck_DunderAttributes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		receiver := identifier(t, "receiver")
		attr := "__" + identifier(t, "attr")

		_, err := Check(nested(t, "x = "+receiver+"."+attr))

		var violation *SafetyViolation
		if !errors.As(err, &violation) || violation.Kind != ViolationAttribute {
			t.Fatalf("want attribute violation, got %v", err)
		}
		if violation.Detail != receiver+"."+attr {
			t.Fatalf("unexpected detail %q", violation.Detail)
		}
	})
}

func TestCheck_BannedCallVersusValue(t *testing.T) {
	names := make([]string, 0, len(bannedCalls))
	for name := range bannedCalls {
		names = append(names, name)
	}

	rapid.Check(t, func(t *rapid.T) {
		name := rapid.SampledFrom(names).Draw(t, "name")

		_, err := Check(nested(t, name+"(x)"))
		var violation *SafetyViolation
		if !errors.As(err, &violation) || violation.Kind != ViolationCall {
			t.Fatalf("want call violation for %s, got %v", name, err)
		}

		if _, err := Check(nested(t, "f = "+name)); err != nil {
			t.Fatalf("referencing %s as a value should pass analysis, got %v", name, err)
		}
	})
}

func TestCheck_PlainCodePasses(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := identifier(t, "name")
		value := rapid.IntRange(-1000, 1000).Draw(t, "value")

		code := nested(t, fmt.Sprintf("%s_v = %d", name, value))
		if _, err := Check(code); err != nil {
			t.Fatalf("unexpected error for %q: %v", code, err)
		}
	})
}
