// Package interop translates CommonJS modules into ESM wrappers the engine
// can execute, and injects Node-compatible globals into ESM sources that
// live inside an npm package realm.
package interop

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/skiffworks/skiff/media"
	"github.com/skiffworks/skiff/permissions"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// reservedExportNames never become named re-exports; default is produced
// separately and the rest are ESM syntax keywords.
var reservedExportNames = map[string]bool{
	"default": true, "import": true, "export": true, "await": true,
	"enum": true, "implements": true, "interface": true, "package": true,
	"private": true, "protected": true, "public": true, "static": true,
}

// Translator produces engine-executable source from npm-realm modules.
type Translator struct{}

// NewTranslator returns a translator.
func NewTranslator() *Translator {
	return &Translator{}
}

// TranslateCjsToEsm wraps CommonJS source in an ESM shell: module.exports
// becomes the default export and statically detected properties become
// best-effort named exports. The permission snapshot gates access to the
// module's own file path, since translation implies executing it.
func (t *Translator) TranslateCjsToEsm(specifier, source string, mediaType media.Type, perms *permissions.Container) (string, error) {
	filename, dirname, err := filePaths(specifier)
	if err != nil {
		return "", err
	}
	if err := perms.CheckRead(filename); err != nil {
		return "", err
	}

	names, err := DetectCjsExports([]byte(source), mediaType)
	if err != nil {
		return "", fmt.Errorf("analyzing CommonJS exports of %q: %w", specifier, err)
	}

	var b strings.Builder
	writeNodeGlobalsHeader(&b, filename, dirname)
	b.WriteString("const module = { exports: {} };\n")
	b.WriteString("const exports = module.exports;\n")
	b.WriteString("{\n")
	b.WriteString(source)
	if !strings.HasSuffix(source, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	b.WriteString("export default module.exports;\n")
	for _, name := range names {
		fmt.Fprintf(&b, "export const %s = module.exports[%q];\n", name, name)
	}
	return b.String(), nil
}

// EsmWithNodeGlobals prepends the minimal Node-compatible globals to an
// ESM source without altering its semantics.
func (t *Translator) EsmWithNodeGlobals(specifier, source string) (string, error) {
	filename, dirname, err := filePaths(specifier)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	writeNodeGlobalsHeader(&b, filename, dirname)
	b.WriteString(source)
	return b.String(), nil
}

func writeNodeGlobalsHeader(b *strings.Builder, filename, dirname string) {
	b.WriteString(`import { createRequire as __skiffCreateRequire } from "node:module";` + "\n")
	b.WriteString(`import __skiffProcess from "node:process";` + "\n")
	b.WriteString(`import { Buffer as __skiffBuffer } from "node:buffer";` + "\n")
	fmt.Fprintf(b, "const __filename = %q;\n", filename)
	fmt.Fprintf(b, "const __dirname = %q;\n", dirname)
	b.WriteString("const require = __skiffCreateRequire(__filename);\n")
	b.WriteString("const process = __skiffProcess;\n")
	b.WriteString("const Buffer = __skiffBuffer;\n")
}

func filePaths(specifier string) (string, string, error) {
	u, err := url.Parse(specifier)
	if err != nil || u.Scheme != "file" {
		return "", "", fmt.Errorf("cannot translate non-file specifier %q", specifier)
	}
	return u.Path, path.Dir(u.Path), nil
}

// exportName validates and normalizes a detected export property.
func exportName(raw string) (string, bool) {
	name := strings.Trim(strings.TrimSpace(raw), "'\"`")
	if !identifierPattern.MatchString(name) || reservedExportNames[name] {
		return "", false
	}
	return name, true
}

func sortedNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
