// Package main is the entry point for the edabox MCP server.
//
// The edabox server exposes a sandboxed analysis engine over the Model
// Context Protocol. Clients load CSV datasets and run Starlark analysis code
// against them; the code is checked by a static safety analyzer before it
// runs in an interpreter whose builtin table holds nothing able to import,
// introspect or perform I/O. Conclusions and question history are kept per
// dataset in a memory store (in-process, JSON files, redis or sqlite).
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
