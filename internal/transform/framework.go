package transform

import (
	"context"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"upshift/internal/lang"
)

// NodeKind is the closed set of node kinds a rule may subscribe to.
type NodeKind string

const (
	KindImport      NodeKind = "import"
	KindCall        NodeKind = "call"
	KindAttribute   NodeKind = "attribute"
	KindDecorator   NodeKind = "decorator"
	KindClassDef    NodeKind = "class_def"
	KindFunctionDef NodeKind = "function_def"
)

// nodeTypesFor maps a node kind to the grammar node types it covers.
func nodeTypesFor(language lang.Language, kind NodeKind) []string {
	if language != lang.LangPython {
		return nil
	}
	switch kind {
	case KindImport:
		return []string{"import_statement", "import_from_statement"}
	case KindCall:
		return []string{"call"}
	case KindAttribute:
		return []string{"attribute"}
	case KindDecorator:
		return []string{"decorator"}
	case KindClassDef:
		return []string{"class_definition"}
	case KindFunctionDef:
		return []string{"function_definition"}
	default:
		return nil
	}
}

// Edit is a byte-range replacement in the source text.
type Edit struct {
	Start       uint32
	End         uint32
	Replacement string
}

// Rewrite pairs an edit with its ledger record so tree edits and ledger
// entries never diverge. A nil Edit marks an advisory finding: the record
// is kept, the source is untouched.
type Rewrite struct {
	Edit   *Edit
	Record Change
}

// Handler inspects one node and returns zero or more rewrites.
// Handlers must be pure node-shape matches: no whole-program analysis.
type Handler func(node *sitter.Node, source []byte) []Rewrite

// RuleSet is one library's catalogue of structural rewrites. Rules run in
// declared kind order; one instance processes exactly one file.
type RuleSet struct {
	Name     string
	Library  string
	Language lang.Language
	Handlers map[NodeKind]Handler
}

// kindOrder fixes the dispatch order across runs.
var kindOrder = []NodeKind{
	KindImport, KindClassDef, KindFunctionDef, KindDecorator, KindCall, KindAttribute,
}

// Apply runs the rule set over source and returns the rewritten text plus
// the ordered ledger. Unparseable input is returned unchanged with an
// empty ledger: malformed files must not abort a batch.
func (rs *RuleSet) Apply(ctx context.Context, parser *lang.Parser, source []byte) ([]byte, []Change, error) {
	root, err := parser.Parse(ctx, source, rs.Language)
	if err != nil {
		return source, nil, nil
	}
	if root.HasError() {
		return source, nil, nil
	}

	var rewrites []Rewrite
	for _, kind := range kindOrder {
		handler, ok := rs.Handlers[kind]
		if !ok {
			continue
		}
		for _, node := range lang.FindNodes(root, nodeTypesFor(rs.Language, kind)) {
			if err := ctx.Err(); err != nil {
				return source, nil, err
			}
			rewrites = append(rewrites, handler(node, source)...)
		}
	}

	out, changes := applyRewrites(source, rewrites)
	return out, changes, nil
}

// applyRewrites applies edits by descending start offset so earlier offsets
// stay valid, and appends one ledger record per rewrite. Overlapping edits
// keep the first-recorded winner; the loser is dropped with its record.
func applyRewrites(source []byte, rewrites []Rewrite) ([]byte, []Change) {
	changes := make([]Change, 0, len(rewrites))
	var edits []Edit

	claimed := make([][2]uint32, 0, len(rewrites))
	for _, rw := range rewrites {
		if rw.Edit == nil {
			changes = append(changes, rw.Record)
			continue
		}
		if overlapsAny(claimed, rw.Edit.Start, rw.Edit.End) {
			continue
		}
		claimed = append(claimed, [2]uint32{rw.Edit.Start, rw.Edit.End})
		edits = append(edits, *rw.Edit)
		changes = append(changes, rw.Record)
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].Start > edits[j].Start })

	out := make([]byte, len(source))
	copy(out, source)
	for _, e := range edits {
		out = append(out[:e.Start], append([]byte(e.Replacement), out[e.End:]...)...)
	}

	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Line < changes[j].Line })
	return out, changes
}

func overlapsAny(claimed [][2]uint32, start, end uint32) bool {
	for _, c := range claimed {
		if start < c[1] && end > c[0] {
			return true
		}
	}
	return false
}

// NewChange builds a ledger record for a node rewrite. Line numbers are
// 1-indexed from the node's position in the original source.
func NewChange(node *sitter.Node, source []byte, description, replacement, transformName string, confidence float64) Change {
	return Change{
		Description:   description,
		Line:          int(node.StartPoint().Row) + 1,
		Original:      node.Content(source),
		Replacement:   replacement,
		TransformName: transformName,
		Confidence:    confidence,
	}
}
