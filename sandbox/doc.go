// Package sandbox provides secure code execution capabilities.
//
// The pipeline for one request is parse, analyze, execute, collect:
//
//   - Parse turns SourceText into a SyntaxTree (a Starlark *syntax.File).
//   - Analyze walks the tree once and returns the first denied construct:
//     imports, double-underscore attributes, interpreter-internal names and
//     direct calls to dynamic evaluation, file, input, introspection and
//     attribute-reflection functions.
//   - The Engine runs a tree that passed inside a scope made of the
//     allow-listed builtin table plus the caller's bindings, capturing print
//     output, the result binding and artifacts from ArtifactSource bindings.
//
// Failures are reported as *SyntaxError, *SafetyViolation or *ExecutionError;
// use Stage to tell them apart. No partial result is ever returned.
//
// Usage:
//
//	engine := sandbox.NewEngine(logger, &sandbox.Config{ResultBinding: "RESULT_TEXT"})
//	result, err := engine.Execute(ctx, sandbox.ExecuteRequest{
//	    Code:     `RESULT_TEXT = "rows: %d" % len(df)`,
//	    Bindings: starlark.StringDict{"df": df, "plt": chart.New(chart.Config{})},
//	})
package sandbox
