// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the analysis engine as MCP tools using the
// mark3labs/mcp-go library. A client loads a CSV with load_dataset, receives
// a content-derived dataset id, and then runs Starlark analysis code against
// it with execute_analysis_code. Results come back as JSON text plus one PNG
// image per figure drawn. Failures are tool errors naming the pipeline stage
// (syntax, safety or execution).
//
// The per-dataset memory is reachable through add_conclusion,
// list_conclusions, clear_conclusions and recent_turns. When a chat model is
// configured, ask_dataset and summarize_dataset generate and run the code
// themselves.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, executor, store, mcpserver.WithAgent(agent))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
