package wiring

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"

	"github.com/modkit-labs/modkit/internal/capability"
)

// Marker comments bounding the CLI-owned regions of the composition file.
// Everything outside the markers is preserved byte for byte.
const (
	ImportsStart       = "// modkit:imports:start"
	ImportsEnd         = "// modkit:imports:end"
	ContributionsStart = "// modkit:contributions:start"
	ContributionsEnd   = "// modkit:contributions:end"
)

// Entry is one runtime contribution to render into the composition file.
type Entry struct {
	Owner  string         // capability id
	Kind   string         // provider, wrapper, init, binding
	Order  int            // lower renders earlier/outer
	Module string         // import source
	Export string         // imported symbol
	Config map[string]any // optional serialized config
}

// Result reports what a render did.
type Result struct {
	Content []byte
	Changed bool
	// AddedSymbols lists symbols that were not importable in the file
	// before this render. Presence is detected from the parsed import
	// statements, not from entry ids, so manual edits are tolerated.
	AddedSymbols []capability.SymbolRef
}

// fileState is the parsed view of a composition file.
type fileState struct {
	content  []byte
	imports  span            // byte range between the import markers
	contribs span            // byte range between the contribution markers
	imported map[string]bool // "module\x00export" present in any import
}

type span struct {
	start uint32 // byte just after the start marker's line
	end   uint32 // first byte of the end marker
}

// Render parses the composition file, replaces both marker blocks with a
// deterministic rendering of entries, and reports which symbols are new.
// Entries are sorted by (order, owner, module, export) so merges from any
// number of capabilities produce one reproducible total order. A file that
// does not parse fails outright; the injector never falls back to blind
// text edits.
func Render(content []byte, entries []Entry) (*Result, error) {
	state, err := parse(content)
	if err != nil {
		return nil, err
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		return a.Export < b.Export
	})

	importsBlock := renderImports(sorted)
	contribsBlock, err := renderContributions(sorted)
	if err != nil {
		return nil, err
	}

	var added []capability.SymbolRef
	for _, e := range sorted {
		if !state.imported[symbolKey(e.Module, e.Export)] {
			ref := capability.SymbolRef{Module: e.Module, Export: e.Export}
			if !containsRef(added, ref) {
				added = append(added, ref)
			}
		}
	}

	// Splice from the back so the earlier block's offsets stay valid.
	out := splice(content, state.contribs, contribsBlock)
	out = splice(out, state.imports, importsBlock)

	return &Result{
		Content:      out,
		Changed:      !bytes.Equal(out, content),
		AddedSymbols: added,
	}, nil
}

// parse builds the fileState from a tree-sitter parse of the TSX source.
func parse(content []byte) (*fileState, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(tsx.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("parsing composition file: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("composition file has syntax errors; refusing to edit it")
	}

	markers := make(map[string]*sitter.Node)
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "comment" {
			text := strings.TrimSpace(n.Content(content))
			switch text {
			case ImportsStart, ImportsEnd, ContributionsStart, ContributionsEnd:
				if markers[text] != nil {
					// Keep the first occurrence; duplicates are ignored.
					return
				}
				markers[text] = n
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	imports, err := markerSpan(markers, ImportsStart, ImportsEnd)
	if err != nil {
		return nil, err
	}
	contribs, err := markerSpan(markers, ContributionsStart, ContributionsEnd)
	if err != nil {
		return nil, err
	}

	// The back-to-front splice relies on this order; a reordered file
	// would be corrupted by offsets computed before the first splice.
	if contribs.start < imports.end {
		return nil, fmt.Errorf("marker %q must appear before %q in composition file", ImportsEnd, ContributionsStart)
	}

	return &fileState{
		content:  content,
		imports:  imports,
		contribs: contribs,
		imported: collectImports(root, content),
	}, nil
}

func markerSpan(markers map[string]*sitter.Node, start, end string) (span, error) {
	s, ok := markers[start]
	if !ok {
		return span{}, fmt.Errorf("marker %q not found in composition file", start)
	}
	e, ok := markers[end]
	if !ok {
		return span{}, fmt.Errorf("marker %q not found in composition file", end)
	}
	if e.StartByte() < s.EndByte() {
		return span{}, fmt.Errorf("marker %q appears before %q", end, start)
	}
	return span{start: s.EndByte(), end: e.StartByte()}, nil
}

// collectImports indexes every (module, export) pair importable in the
// file, across all import statements wherever they appear.
func collectImports(root *sitter.Node, content []byte) map[string]bool {
	imported := make(map[string]bool)

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "import_statement" {
			module := importSource(n, content)
			if module != "" {
				indexSpecifiers(n, content, module, imported)
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return imported
}

func importSource(stmt *sitter.Node, content []byte) string {
	src := stmt.ChildByFieldName("source")
	if src == nil {
		return ""
	}
	return strings.Trim(src.Content(content), "\"'`")
}

func indexSpecifiers(stmt *sitter.Node, content []byte, module string, imported map[string]bool) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "import_specifier" {
			name := n.ChildByFieldName("name")
			if name != nil {
				imported[symbolKey(module, name.Content(content))] = true
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(stmt)
}

func symbolKey(module, export string) string {
	return module + "\x00" + export
}

func containsRef(refs []capability.SymbolRef, ref capability.SymbolRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

// splice replaces the bytes of sp with "\n" + block, keeping both marker
// lines intact.
func splice(content []byte, sp span, block string) []byte {
	var buf bytes.Buffer
	buf.Write(content[:sp.start])
	buf.WriteByte('\n')
	buf.WriteString(block)
	buf.Write(content[sp.end:])
	return buf.Bytes()
}
