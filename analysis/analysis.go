// Package analysis extracts the static dependency descriptors of a module
// source: every import and re-export specifier, with its source position
// and whether the import is type-only.
package analysis

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/skiffworks/skiff/media"
)

// Position is a 1-based line/column source location.
type Position struct {
	Line   int
	Column int
}

// DependencyDescriptor is one static import or re-export found in a module.
type DependencyDescriptor struct {
	Specifier string
	TypeOnly  bool
	Position  Position
}

// ModuleInfo is the parse result cached per specifier until emit.
type ModuleInfo struct {
	Dependencies []DependencyDescriptor
}

// languageFor selects a grammar for the media type. JSON and declaration
// sources never reach the parser.
func languageFor(mediaType media.Type) *sitter.Language {
	switch mediaType {
	case media.TypeScript, media.Mts, media.Cts, media.Dts, media.Dmts, media.Dcts:
		return typescript.GetLanguage()
	case media.Tsx:
		return tsx.GetLanguage()
	default:
		return javascript.GetLanguage()
	}
}

// ParseModuleInfo parses a module source and collects its static
// dependencies.
func ParseModuleInfo(source []byte, mediaType media.Type) (*ModuleInfo, error) {
	lang := languageFor(mediaType)

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing module source: %w", err)
	}
	defer tree.Close()

	deps, err := extractDependencies(tree.RootNode(), source, lang)
	if err != nil {
		return nil, err
	}
	return &ModuleInfo{Dependencies: deps}, nil
}

func extractDependencies(root *sitter.Node, source []byte, lang *sitter.Language) ([]DependencyDescriptor, error) {
	const pattern = `
(import_statement
  source: (string) @import.source)

(export_statement
  source: (string) @export.source)
`
	query, err := sitter.NewQuery([]byte(pattern), lang)
	if err != nil {
		return nil, fmt.Errorf("building dependency query: %w", err)
	}
	defer query.Close()

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(query, root)

	var deps []DependencyDescriptor
	index := map[string]int{}

	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		match = cursor.FilterPredicates(match, source)

		for _, capture := range match.Captures {
			specifier := strings.Trim(capture.Node.Content(source), "'\"`")
			specifier = strings.TrimSpace(specifier)
			if specifier == "" {
				continue
			}

			typeOnly := isTypeOnly(capture.Node, source)
			if i, ok := index[specifier]; ok {
				// A value import of the same specifier outweighs any
				// type-only occurrence, whichever comes first.
				if !typeOnly {
					deps[i].TypeOnly = false
				}
				continue
			}
			index[specifier] = len(deps)

			point := capture.Node.StartPoint()
			deps = append(deps, DependencyDescriptor{
				Specifier: specifier,
				TypeOnly:  typeOnly,
				Position:  Position{Line: int(point.Row) + 1, Column: int(point.Column) + 1},
			})
		}
	}

	return deps, nil
}

// isTypeOnly walks up to the enclosing import/export statement and checks
// for the type keyword.
func isTypeOnly(node *sitter.Node, source []byte) bool {
	parent := node.Parent()
	for parent != nil {
		t := parent.Type()
		if t == "import_statement" || t == "export_statement" {
			for i := 0; i < int(parent.ChildCount()); i++ {
				child := parent.Child(i)
				if child != nil && child.Content(source) == "type" {
					return true
				}
			}
			return false
		}
		parent = parent.Parent()
	}
	return false
}
