// Package lint statically flags predictor source that the runtime would
// otherwise accept but almost certainly doesn't mean: a field whose Go
// type cannot hold nil (not a pointer, not a slice) but whose `cog` tag
// declares default=nil. original_source/coglet/asts.py performs the
// equivalent check for Python's "Input(default=None) on a
// non-Optional-annotated parameter" ambiguity, printing the surrounding
// source lines and a remediation diff to stderr; this is the Go-native
// restatement of the same idea using go/ast instead of Python's ast
// module.
package lint

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"strconv"
	"strings"
)

// Finding is one ambiguous-default occurrence, carrying enough of the
// surrounding source to render asts.py-style context.
type Finding struct {
	File       string
	Line       int
	Col        int
	StructName string
	FieldName  string

	// Context holds the source lines spanning ContextStart..ContextStart+len-1,
	// the line before and after the offending field that asts.py's
	// print_lines shows around each hit.
	Context      []string
	ContextStart int
}

// String renders the finding the way asts.py's print_lines plus its
// remediation block does: numbered source context, a caret under the
// field, and a help message recommending the pointer form.
func (f Finding) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s:%d:%d: field %s.%s has default=nil but is not a pointer type\n\n",
		f.File, f.Line, f.Col, f.StructName, f.FieldName)

	lastLine := f.ContextStart + len(f.Context) - 1
	width := len(strconv.Itoa(lastLine)) + 1
	for i, line := range f.Context {
		lineNo := f.ContextStart + i
		fmt.Fprintf(&b, "%-*d | %s\n", width, lineNo, line)
		if lineNo == f.Line {
			fmt.Fprintf(&b, "%s | %s^\n", strings.Repeat(" ", width), strings.Repeat(" ", f.Col-1))
		}
	}

	b.WriteString("\nDefault value of nil without an explicit pointer type is ambiguous.\n")
	b.WriteString("Declare the field as a pointer instead, for example:\n")
	fmt.Fprintf(&b, "-    %s T  `cog:\"...,default=nil\"` // zero value, not nil\n", f.FieldName)
	fmt.Fprintf(&b, "+    %s *T `cog:\"...\"`              // pointer implies optional, default nil\n", f.FieldName)

	return b.String()
}

// CheckFile parses a Go source file and returns every ambiguous
// default=nil field found on any struct type.
func CheckFile(path string) ([]Finding, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lint: read %s: %w", path, err)
	}
	lines := strings.Split(string(src), "\n")

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("lint: parse %s: %w", path, err)
	}

	var findings []Finding

	ast.Inspect(file, func(n ast.Node) bool {
		ts, ok := n.(*ast.TypeSpec)
		if !ok {
			return true
		}
		st, ok := ts.Type.(*ast.StructType)
		if !ok {
			return true
		}

		for _, field := range st.Fields.List {
			if field.Tag == nil {
				continue
			}
			tagValue := strings.Trim(field.Tag.Value, "`")
			if !hasDefaultNil(tagValue) {
				continue
			}
			if isPointerOrSlice(field.Type) {
				continue
			}
			for _, name := range field.Names {
				pos := fset.Position(name.Pos())
				ctx, start := sourceContext(lines, pos.Line)
				findings = append(findings, Finding{
					File:         path,
					Line:         pos.Line,
					Col:          pos.Column,
					StructName:   ts.Name.Name,
					FieldName:    name.Name,
					Context:      ctx,
					ContextStart: start,
				})
			}
		}
		return true
	})

	return findings, nil
}

// sourceContext returns the line before and after line (1-indexed), plus
// line itself, clipped to the file's bounds.
func sourceContext(lines []string, line int) (ctx []string, start int) {
	start = line - 1
	if start < 1 {
		start = 1
	}
	end := line + 1
	if end > len(lines) {
		end = len(lines)
	}
	for l := start; l <= end; l++ {
		ctx = append(ctx, lines[l-1])
	}
	return ctx, start
}

func hasDefaultNil(tag string) bool {
	// tag looks like: cog:"name=x,default=nil"
	idx := strings.Index(tag, `cog:"`)
	if idx < 0 {
		return false
	}
	rest := tag[idx+len(`cog:"`):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return false
	}
	for _, part := range strings.Split(rest[:end], ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && k == "default" && v == "nil" {
			return true
		}
	}
	return false
}

func isPointerOrSlice(expr ast.Expr) bool {
	switch expr.(type) {
	case *ast.StarExpr, *ast.ArrayType:
		return true
	default:
		return false
	}
}
