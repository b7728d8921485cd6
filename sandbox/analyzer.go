package sandbox

import (
	"errors"
	"strings"
	"unicode"

	"go.starlark.net/syntax"
)

// fileOptions enables the statement forms analysis code relies on: top-level
// loops and ifs, while loops, sets, global reassignment and recursion.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// bannedCalls are builtin names that may not be called directly
var bannedCalls = map[string]bool{
	"eval":       true,
	"exec":       true,
	"compile":    true,
	"open":       true,
	"input":      true,
	"__import__": true,
	"globals":    true,
	"locals":     true,
	"vars":       true,
	"dir":        true,
	"getattr":    true,
	"setattr":    true,
	"delattr":    true,
}

// blockedNames are interpreter-internal identifiers
var blockedNames = map[string]bool{
	"__builtins__": true,
	"__loader__":   true,
	"__package__":  true,
	"__spec__":     true,
}

// importKeywords are the reserved words that begin a Python import statement
var importKeywords = map[string]bool{
	"import": true,
	"from":   true,
}

// SyntaxTree is parsed SourceText together with its source lines.
//
// Executing a tree resolves its identifiers in place, so a tree should back
// a single execution.
type SyntaxTree struct {
	File  *syntax.File
	lines []string
}

// Verdict is the outcome of Analyze. The zero value is a pass.
type Verdict struct {
	Kind   ViolationKind
	Detail string
	Line   int
	Col    int
}

// Passed reports whether no violation was found
func (v Verdict) Passed() bool {
	return v.Kind == ""
}

// Err returns the verdict as a *SafetyViolation, or nil when it passed
func (v Verdict) Err() error {
	if v.Passed() {
		return nil
	}
	return &SafetyViolation{Kind: v.Kind, Detail: v.Detail, Line: v.Line, Col: v.Col}
}

// Parse parses SourceText. A failure is returned as *SyntaxError.
func Parse(src string) (*SyntaxTree, error) {
	lines := strings.Split(src, "\n")

	f, err := fileOptions.Parse(sourceName, src, 0)
	if err != nil {
		var parseErr syntax.Error
		if !errors.As(err, &parseErr) {
			return nil, &SyntaxError{Msg: err.Error()}
		}
		line, col := int(parseErr.Pos.Line), int(parseErr.Pos.Col)
		token, text := wordAt(lines, line, col)
		return nil, &SyntaxError{
			Msg:   parseErr.Msg,
			Line:  line,
			Col:   col,
			Token: token,
			Text:  text,
		}
	}

	return &SyntaxTree{File: f, lines: lines}, nil
}

// Check parses and analyzes src. It returns the tree only when both stages
// pass; otherwise the error is a *SyntaxError or a *SafetyViolation.
//
// The dialect reserves the import and from keywords, so a Python import
// statement fails to parse. Such failures are reported as import-blocked
// rather than as syntax errors.
func Check(src string) (*SyntaxTree, error) {
	tree, err := Parse(src)
	if err != nil {
		var synErr *SyntaxError
		if errors.As(err, &synErr) && importKeywords[synErr.Token] {
			return nil, &SafetyViolation{
				Kind:   ViolationImport,
				Detail: synErr.Text,
				Line:   synErr.Line,
				Col:    synErr.Col,
			}
		}
		// The parser may stop at an earlier Python-only construct such as
		// try or with, before it reaches the import.
		if v := findImport(strings.Split(src, "\n")); v != nil {
			return nil, v
		}
		return nil, err
	}

	if verdict := Analyze(tree); !verdict.Passed() {
		return nil, verdict.Err()
	}
	return tree, nil
}

// Analyze walks the tree in source order and returns the first violation
// found. It has no side effects.
func Analyze(tree *SyntaxTree) Verdict {
	return tree.walkStmts(tree.File.Stmts)
}

func (t *SyntaxTree) walkStmts(stmts []syntax.Stmt) Verdict {
	for _, stmt := range stmts {
		if v := t.walk(stmt); !v.Passed() {
			return v
		}
	}
	return Verdict{}
}

func (t *SyntaxTree) walkExprs(exprs ...syntax.Expr) Verdict {
	for _, x := range exprs {
		if x == nil {
			continue
		}
		if v := t.walk(x); !v.Passed() {
			return v
		}
	}
	return Verdict{}
}

// walk visits n before its children. syntax.Walk is not used because it
// has no case for while loops.
func (t *SyntaxTree) walk(n syntax.Node) Verdict {
	if v := t.inspect(n); !v.Passed() {
		return v
	}

	switch n := n.(type) {
	case *syntax.ExprStmt:
		return t.walkExprs(n.X)
	case *syntax.AssignStmt:
		return t.walkExprs(n.LHS, n.RHS)
	case *syntax.IfStmt:
		if v := t.walkExprs(n.Cond); !v.Passed() {
			return v
		}
		if v := t.walkStmts(n.True); !v.Passed() {
			return v
		}
		return t.walkStmts(n.False)
	case *syntax.ForStmt:
		if v := t.walkExprs(n.Vars, n.X); !v.Passed() {
			return v
		}
		return t.walkStmts(n.Body)
	case *syntax.WhileStmt:
		if v := t.walkExprs(n.Cond); !v.Passed() {
			return v
		}
		return t.walkStmts(n.Body)
	case *syntax.DefStmt:
		if v := t.walkExprs(n.Name); !v.Passed() {
			return v
		}
		if v := t.walkExprs(n.Params...); !v.Passed() {
			return v
		}
		return t.walkStmts(n.Body)
	case *syntax.ReturnStmt:
		return t.walkExprs(n.Result)
	case *syntax.ParenExpr:
		return t.walkExprs(n.X)
	case *syntax.ListExpr:
		return t.walkExprs(n.List...)
	case *syntax.TupleExpr:
		return t.walkExprs(n.List...)
	case *syntax.DictExpr:
		return t.walkExprs(n.List...)
	case *syntax.DictEntry:
		return t.walkExprs(n.Key, n.Value)
	case *syntax.CondExpr:
		return t.walkExprs(n.Cond, n.True, n.False)
	case *syntax.IndexExpr:
		return t.walkExprs(n.X, n.Y)
	case *syntax.SliceExpr:
		return t.walkExprs(n.X, n.Lo, n.Hi, n.Step)
	case *syntax.UnaryExpr:
		return t.walkExprs(n.X)
	case *syntax.BinaryExpr:
		return t.walkExprs(n.X, n.Y)
	case *syntax.DotExpr:
		return t.walkExprs(n.X, n.Name)
	case *syntax.CallExpr:
		if v := t.walkExprs(n.Fn); !v.Passed() {
			return v
		}
		return t.walkExprs(n.Args...)
	case *syntax.LambdaExpr:
		if v := t.walkExprs(n.Params...); !v.Passed() {
			return v
		}
		return t.walkExprs(n.Body)
	case *syntax.Comprehension:
		if v := t.walkExprs(n.Body); !v.Passed() {
			return v
		}
		for _, clause := range n.Clauses {
			if v := t.walk(clause); !v.Passed() {
				return v
			}
		}
	case *syntax.ForClause:
		return t.walkExprs(n.Vars, n.X)
	case *syntax.IfClause:
		return t.walkExprs(n.Cond)
	}
	// LoadStmt is denied by inspect; Ident, Literal and BranchStmt are leaves.
	return Verdict{}
}

func (t *SyntaxTree) inspect(n syntax.Node) Verdict {
	switch n := n.(type) {
	case *syntax.LoadStmt:
		// The span of a load statement stops before its closing paren.
		start, end := n.Span()
		end.Col++
		return t.verdict(ViolationImport, start, end)
	case *syntax.DotExpr:
		if strings.HasPrefix(n.Name.Name, "__") {
			return t.deny(ViolationAttribute, n)
		}
	case *syntax.Ident:
		if blockedNames[n.Name] {
			return t.deny(ViolationName, n)
		}
	case *syntax.CallExpr:
		if fn, ok := n.Fn.(*syntax.Ident); ok && bannedCalls[fn.Name] {
			return t.deny(ViolationCall, n)
		}
	}
	return Verdict{}
}

func (t *SyntaxTree) deny(kind ViolationKind, n syntax.Node) Verdict {
	start, end := n.Span()
	return t.verdict(kind, start, end)
}

func (t *SyntaxTree) verdict(kind ViolationKind, start, end syntax.Position) Verdict {
	return Verdict{
		Kind:   kind,
		Detail: t.text(start, end),
		Line:   int(start.Line),
		Col:    int(start.Col),
	}
}

// text returns the source between two positions. Columns count runes from 1.
func (t *SyntaxTree) text(start, end syntax.Position) string {
	first, last := int(start.Line)-1, int(end.Line)-1
	if first < 0 || first >= len(t.lines) {
		return ""
	}
	endKnown := true
	if last < first || last >= len(t.lines) {
		last, endKnown = first, false
	}

	var b strings.Builder
	for i := first; i <= last; i++ {
		line := []rune(t.lines[i])
		from, to := 0, len(line)
		if i == first {
			from = clamp(int(start.Col)-1, 0, len(line))
		}
		if i == last && endKnown {
			to = clamp(int(end.Col)-1, from, len(line))
		}
		if i > first {
			b.WriteByte('\n')
		}
		b.WriteString(string(line[from:to]))
	}
	return strings.TrimSpace(b.String())
}

// findImport scans source lines for an import or from keyword in statement
// position: at the start of a line or after a top-level ';' or ':'. String
// literals and comments are skipped.
func findImport(lines []string) *SafetyViolation {
	var quote string
	depth := 0
	for i, line := range lines {
		runes := []rune(line)
		leading := quote == "" && depth <= 0
		for j := 0; j < len(runes); j++ {
			r := runes[j]
			if quote != "" {
				switch {
				case r == '\\':
					j++
				case strings.HasPrefix(string(runes[j:]), quote):
					j += len(quote) - 1
					quote = ""
				}
				continue
			}

			switch {
			case r == '#':
				j = len(runes)
			case r == '"' || r == '\'':
				quote = string(r)
				if triple := strings.Repeat(quote, 3); strings.HasPrefix(string(runes[j:]), triple) {
					quote = triple
					j += 2
				}
				leading = false
			case r == '(' || r == '[' || r == '{':
				depth++
				leading = false
			case r == ')' || r == ']' || r == '}':
				depth--
				leading = false
			case (r == ';' || r == ':') && depth <= 0:
				leading = true
			case unicode.IsSpace(r):
			case isWordRune(r):
				end := j
				for end < len(runes) && isWordRune(runes[end]) {
					end++
				}
				if leading && importKeywords[string(runes[j:end])] {
					return &SafetyViolation{
						Kind:   ViolationImport,
						Detail: strings.TrimSpace(string(runes[j:])),
						Line:   i + 1,
						Col:    j + 1,
					}
				}
				j = end - 1
				leading = false
			default:
				leading = false
			}
		}
		// Single-quoted strings end with their line.
		if len(quote) == 1 {
			quote = ""
		}
	}
	return nil
}

// wordAt returns the identifier-like word touching a parse error position
// and the rest of that line from the word's start.
func wordAt(lines []string, line, col int) (string, string) {
	if line < 1 || line > len(lines) {
		return "", ""
	}
	runes := []rune(lines[line-1])
	i := clamp(col-1, 0, len(runes))
	if i == len(runes) || !isWordRune(runes[i]) {
		if i == 0 || !isWordRune(runes[i-1]) {
			return "", strings.TrimSpace(string(runes[i:]))
		}
		i--
	}

	start, end := i, i
	for start > 0 && isWordRune(runes[start-1]) {
		start--
	}
	for end < len(runes) && isWordRune(runes[end]) {
		end++
	}
	return string(runes[start:end]), strings.TrimSpace(string(runes[start:]))
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
