package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/parser"
	"cuelang.org/go/cue/token"

	"github.com/roach88/statenet/internal/ir"
)

// Load error codes, shared with the CLI exit reporting.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeNoGraphs    = "E008" // No graph declarations
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the graphs compiled from a directory or source.
type LoadResult struct {
	Graphs    []ir.GraphSpec
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// Graph returns the graph with the given name.
func (r *LoadResult) Graph(name string) (*ir.GraphSpec, bool) {
	for i := range r.Graphs {
		if r.Graphs[i].Name == name {
			return &r.Graphs[i], true
		}
	}
	return nil, false
}

// LoadError represents an error that occurred during loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadGraphs loads and compiles every graph declared in the CUE package
// in dir. Graphs live under the top-level "graph" struct. When no file in
// dir has a package clause, the package-less files form the package.
func LoadGraphs(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("graph directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing graph directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	cfg := &load.Config{Dir: dir}
	named, err := declaresPackage(dir, cueFiles)
	if err != nil {
		return nil, []error{convertCompileError(formatCUEError(err), dir)}
	}
	if !named {
		// "_" selects the files that carry no package clause.
		cfg.Package = "_"
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result, errs := compileGraphs(value, mode)
	result.FileCount = len(cueFiles)
	return result, errs
}

// LoadSource compiles graphs from CUE source text. The filename is used
// in error positions only.
func LoadSource(filename, src string, mode LoadMode) (*LoadResult, []error) {
	ctx := cuecontext.New()
	value := ctx.CompileString(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, []error{convertCompileError(formatCUEError(err), filename)}
	}
	return compileGraphs(value, mode)
}

func compileGraphs(value cue.Value, mode LoadMode) (*LoadResult, []error) {
	var errs []error
	result := &LoadResult{CUEValue: value}

	graphsVal := value.LookupPath(cue.ParsePath("graph"))
	if graphsVal.Exists() {
		iter, iterErr := graphsVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating graphs: %v", iterErr)})
			return result, errs
		}
		for iter.Next() {
			spec, compileErr := CompileGraph(iter.Value())
			if compileErr != nil {
				errs = append(errs, convertCompileError(compileErr, "graph."+iter.Selector().Unquoted()))
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			result.Graphs = append(result.Graphs, *spec)
		}
	}

	if len(result.Graphs) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoGraphs, Message: "no graphs found"})
	}

	return result, errs
}

// LoadPath loads graphs from a CUE file or from a directory holding one
// CUE package.
func LoadPath(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("graph path not found: %s", path)}}
	}
	if info.IsDir() {
		return LoadGraphs(path, mode)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}}
	}
	result, errs := LoadSource(path, string(src), mode)
	if result != nil {
		result.FileCount = 1
	}
	return result, errs
}

// Select returns the graph called name, or the only graph when name is
// empty.
func (r *LoadResult) Select(name string) (*ir.GraphSpec, error) {
	if name != "" {
		spec, ok := r.Graph(name)
		if !ok {
			return nil, fmt.Errorf("graph %q not declared", name)
		}
		return spec, nil
	}
	if len(r.Graphs) != 1 {
		return nil, fmt.Errorf("%d graphs declared, name one to pick it", len(r.Graphs))
	}
	return &r.Graphs[0], nil
}

// declaresPackage reports whether any of the files directly in dir has
// a package clause.
func declaresPackage(dir string, files []string) (bool, error) {
	for _, path := range files {
		if filepath.Dir(path) != filepath.Clean(dir) {
			continue
		}
		f, err := parser.ParseFile(path, nil, parser.PackageClauseOnly)
		if err != nil {
			return false, err
		}
		if f.PackageName() != "" {
			return true, nil
		}
	}
	return false, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeBuildFailed,
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
