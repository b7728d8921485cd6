// Package codegen builds the prompts that turn a question about a dataset
// into analysis code, talks to an OpenAI-compatible chat model, and parses
// what comes back.
package codegen

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/isdmx/edabox/frame"
	"github.com/isdmx/edabox/memory"
)

// SystemPrompt states the rules generated code must follow
const SystemPrompt = `You are a data engineer who WRITES CODE to answer questions about a table 'df'.
Code runs in a restricted Python dialect (Starlark). MANDATORY RULES:
- Reply with a single code block and nothing outside it.
- Do NOT use import, from, try/except, class, or any file or network access. The handles are already bound:
  'df' (table), 'np' (numeric helpers), 'plt' (charts).
- df supports: df.columns, df.shape, df.dtypes, df.head(n), df.tail(n), df.describe(), df.mean(), df.median(),
  df.std(), df.min(), df.max(), df.sum(), df.count(), df.nunique(), df.missing(), df.corr(),
  df.sort_values(by, ascending=True), df.groupby(col).mean()/sum()/count()/size(), df.query(col, op, value),
  df.dropna(), df["col"], df[["a", "b"]], len(df).
- A column (Series) supports: mean(), median(), std(), min(), max(), sum(), count(), unique(), nunique(),
  value_counts(), quantile(q), tolist(), head(n), describe(), dropna(), arithmetic with numbers or columns.
- np supports: mean, median, std, var, min, max, sum, percentile, corrcoef, sqrt, log, exp, abs, round,
  arange, linspace, cumsum, histogram, unique, isnan, nan, pi.
- plt supports: figure(title), plot(x, y, label=), scatter(x, y), bar(categories, heights), hist(x, bins=),
  title(s), xlabel(s), ylabel(s), legend(). Do not call show(); figures are captured by the host.
- Raise errors with fail(ValueError("...")). Guard risky calls with catch(fn, *args), which returns (result, error).
- String formatting supports %s, %d and %r only, with no width or precision; use round(x, 2) first.
- Put the textual answer in a variable: RESULT_TEXT = "...".
- Check that columns exist and have the right type before using them. Be robust to missing values (None).`

// CriticSystemPrompt asks for a critical reading of an executed answer
const CriticSystemPrompt = `You are a senior data analyst. Produce clear, actionable CRITICAL CONCLUSIONS based on:
- the user's question,
- the recent history (question -> conclusion),
- the dataset schema,
- RESULT_TEXT and an excerpt of the stdout of the executed code.

Rules:
- Be objective, and opinionated when appropriate.
- Avoid repeating numbers that add nothing; explain what they mean.
- Always write 3 sections, in this order:
  1) Conclusions (3-6 bullets starting with "-", each with short evidence or rationale),
  2) Limitations (2-4 bullets),
  3) Next steps (3-5 bullets, practical and ordered by impact).
- Flag any ambiguity under Limitations.
- Answer in the language of the question.`

// SummarySystemPrompt asks for an executive summary of what was learned
const SummarySystemPrompt = `You are a senior data analyst. Produce a concise EXECUTIVE SUMMARY based ONLY on the
history (question -> conclusion) and the critical conclusions already saved.
Do not run code, and do not invent columns or numbers that are not in the text.

Format:
1) Key insights (3-6 bullets)
2) Limitations (2-4 bullets)
3) Next steps (3-5 bullets)
Answer in the language of the material.`

const (
	noHistory     = "No relevant history."
	noConclusions = "No saved conclusions."
)

// Schema is the column hint given to the model
type Schema struct {
	Columns []string          `json:"columns"`
	DTypes  map[string]string `json:"dtypes"`
}

// SchemaOf describes df
func SchemaOf(df *frame.DataFrame) Schema {
	return Schema{Columns: df.Names(), DTypes: df.DTypes()}
}

// String renders the schema as JSON
func (s Schema) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// FormatHistory renders turns as a compact question -> conclusion list
func FormatHistory(turns []memory.Turn) string {
	var lines []string
	for _, t := range turns {
		q := strings.TrimSpace(t.Question)
		a := strings.TrimSpace(t.ResultText)
		if q == "" && a == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- Question: %s\n  Conclusion: %s", q, a))
	}
	if len(lines) == 0 {
		return noHistory
	}
	return strings.Join(lines, "\n")
}

// CodePrompt is the user message asking for code
func CodePrompt(question string, schema Schema, history string) string {
	return fmt.Sprintf(`
CURRENT QUESTION: %s

RECENT HISTORY (question -> conclusion):
%s

SCHEMA (JSON): %s

Write ONLY a snippet that, when executed, produces the answer to the current question.
Rules:
- Use 'df', 'np' and 'plt'. Do not import anything.
- Set 'RESULT_TEXT' to the main conclusion, building on the history when it makes sense.
- If the question refers to something analysed before, infer conservatively from the HISTORY; if it is ambiguous, say so in RESULT_TEXT.
- Draw charts when they help.
`, question, history, schema)
}

// CriticPrompt is the user message for the critic pass. stdout is cut to
// maxStdout characters.
func CriticPrompt(question, history string, schema Schema, resultText, stdout string, maxStdout int) string {
	if r := []rune(stdout); maxStdout > 0 && len(r) > maxStdout {
		stdout = string(r[:maxStdout])
	}
	return fmt.Sprintf(`
QUESTION: %s

HISTORY (recent):
%s

SCHEMA (JSON):
%s

CODE RESULT (RESULT_TEXT):
%s

STDOUT EXCERPT (up to %d chars):
%s
`, question, history, schema, resultText, maxStdout, stdout)
}

// SummaryPrompt is the user message for the executive summary
func SummaryPrompt(turns []memory.Turn, conclusions []string) string {
	var cons []string
	for _, c := range conclusions {
		cons = append(cons, "- "+c)
	}
	snippet := noConclusions
	if len(cons) > 0 {
		snippet = strings.Join(cons, "\n")
	}
	return fmt.Sprintf(`
HISTORY (recent, question -> conclusion):
%s

SAVED CONCLUSIONS (sample):
%s
`, FormatHistory(turns), snippet)
}

var fencePattern = regexp.MustCompile("(?s)```(?:python|starlark|py)?\\s*(.*?)```")

// ExtractCode returns the first fenced block of a reply, or the whole reply
// when it has none.
func ExtractCode(reply string) string {
	if strings.Contains(reply, "```") {
		if m := fencePattern.FindStringSubmatch(reply); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return reply
}

// Bullets returns the bullet lines of a critic reply with their markers removed
func Bullets(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		s := strings.TrimSpace(line)
		if !strings.HasPrefix(s, "-") && !strings.HasPrefix(s, "•") {
			continue
		}
		if len([]rune(s)) <= 2 {
			continue
		}
		if b := strings.TrimSpace(strings.TrimLeft(s, "-• ")); b != "" {
			out = append(out, b)
		}
	}
	return out
}

var summaryKeywords = []string{
	"summary of conclusions",
	"summarize conclusions",
	"summarise conclusions",
	"overall conclusion",
	"executive summary",
	"resumo das conclusões",
	"resumir conclusões",
	"conclusão geral",
	"síntese",
	"sumário",
}

// WantsSummary reports whether a question asks for a recap of what was
// already learned rather than a new analysis.
func WantsSummary(question string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	for _, k := range summaryKeywords {
		if strings.Contains(q, k) {
			return true
		}
	}
	return false
}
