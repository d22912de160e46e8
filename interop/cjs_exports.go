package interop

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/skiffworks/skiff/media"
)

// DetectCjsExports statically scans CommonJS source for exported property
// names: `exports.x = ...`, `module.exports.x = ...`, and the keys of a
// `module.exports = {...}` object literal. Detection is best-effort;
// dynamic assignment patterns are simply missed.
func DetectCjsExports(source []byte, mediaType media.Type) ([]string, error) {
	_ = mediaType // CJS always parses with the JavaScript grammar.
	lang := javascript.GetLanguage()

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing CommonJS source: %w", err)
	}
	defer tree.Close()

	query, err := sitter.NewQuery([]byte(`(assignment_expression) @assign`), lang)
	if err != nil {
		return nil, fmt.Errorf("building export query: %w", err)
	}
	defer query.Close()

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(query, tree.RootNode())

	found := map[string]bool{}
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		match = cursor.FilterPredicates(match, source)
		for _, capture := range match.Captures {
			collectAssignmentExports(capture.Node, source, found)
		}
	}

	return sortedNames(found), nil
}

func collectAssignmentExports(assign *sitter.Node, source []byte, found map[string]bool) {
	left := assign.ChildByFieldName("left")
	right := assign.ChildByFieldName("right")
	if left == nil || right == nil {
		return
	}

	target := left.Content(source)
	switch {
	case target == "module.exports":
		collectObjectKeys(right, source, found)
	case hasExportPrefix(target):
		if name, ok := exportName(propertyAfterExportPrefix(target)); ok {
			found[name] = true
		}
	}
}

func hasExportPrefix(target string) bool {
	return len(propertyAfterExportPrefix(target)) > 0
}

// propertyAfterExportPrefix returns the trailing property for
// exports.<prop> and module.exports.<prop> targets, or "".
func propertyAfterExportPrefix(target string) string {
	for _, prefix := range []string{"module.exports.", "exports."} {
		if rest, ok := cutPrefixOnce(target, prefix); ok {
			return rest
		}
	}
	return ""
}

func cutPrefixOnce(s, prefix string) (string, bool) {
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}

// collectObjectKeys gathers the literal keys of an object expression,
// including shorthand properties.
func collectObjectKeys(node *sitter.Node, source []byte, found map[string]bool) {
	if node.Type() != "object" {
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "pair":
			if key := child.ChildByFieldName("key"); key != nil {
				if name, ok := exportName(key.Content(source)); ok {
					found[name] = true
				}
			}
		case "shorthand_property_identifier":
			if name, ok := exportName(child.Content(source)); ok {
				found[name] = true
			}
		case "method_definition":
			if key := child.ChildByFieldName("name"); key != nil {
				if name, ok := exportName(key.Content(source)); ok {
					found[name] = true
				}
			}
		}
	}
}
