// Package sandbox provides secure code execution capabilities.
//
// The sandbox package implements the execution engine for running untrusted
// analysis code in-process: a static safety analyzer over the Starlark syntax
// tree, and a restricted interpreter scope whose builtin table fully replaces
// the interpreter's own.
package sandbox

import (
	"context"
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// ExecuteRequest represents the parameters for code execution
type ExecuteRequest struct {
	// Code is the untrusted SourceText.
	Code string
	// Bindings are caller-owned context objects (data, numeric and plotting
	// handles). They are not filtered by the analyzer and must be fresh per
	// request when they carry state.
	Bindings starlark.StringDict
}

// Artifact is a serialized visual output produced during execution
type Artifact struct {
	Name     string
	MIMEType string
	Data     []byte
}

// ExecuteResult represents the result of a successful execution
type ExecuteResult struct {
	ResultText string
	Stdout     string
	Artifacts  []Artifact
}

// SandboxExecutor defines the interface for sandbox execution
type SandboxExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}

// ArtifactSource is implemented by bindings that accumulate artifacts while
// the code runs, such as a plotting handle with a figure registry.
//
// Artifacts is called only after a successful run and must return artifacts
// in creation order. Reset is called after every run regardless of outcome
// and must leave the registry empty.
type ArtifactSource interface {
	Artifacts() ([]Artifact, error)
	Reset()
}

// Engine defaults
const (
	DefaultResultBinding  = "RESULT_TEXT"
	DefaultMaxStdoutBytes = 256 * BytesPerKB
	BytesPerKB            = 1024
	sourceName            = "<generated>"
)

// boundSource is an ArtifactSource with the name it is bound to
type boundSource struct {
	name string
	ArtifactSource
}

// artifactSources returns the bindings implementing ArtifactSource, ordered
// by binding name so that collection order does not depend on map iteration.
// Artifacts are grouped per source; order across sources is by binding name.
func artifactSources(bindings starlark.StringDict) []boundSource {
	names := make([]string, 0, len(bindings))
	for name, v := range bindings {
		if _, ok := v.(ArtifactSource); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	sources := make([]boundSource, 0, len(names))
	for _, name := range names {
		sources = append(sources, boundSource{name: name, ArtifactSource: bindings[name].(ArtifactSource)})
	}
	return sources
}

// collectArtifacts renders every source. With more than one source each
// artifact name is prefixed with its binding so names stay unique.
func collectArtifacts(sources []boundSource) ([]Artifact, error) {
	var artifacts []Artifact
	for _, s := range sources {
		rendered, err := s.Artifacts()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		for _, a := range rendered {
			if len(sources) > 1 {
				a.Name = s.name + "-" + a.Name
			}
			artifacts = append(artifacts, a)
		}
	}
	return artifacts, nil
}
