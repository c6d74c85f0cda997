package rules

import (
	sitter "github.com/smacker/go-tree-sitter"

	"upshift/internal/lang"
	"upshift/internal/transform"
)

// NewSQLAlchemy20Rules builds the SQLAlchemy 1.4 -> 2.0 rule set.
// The returned instance processes exactly one file.
func NewSQLAlchemy20Rules() *transform.RuleSet {
	const name = "sqlalchemy_20"

	return &transform.RuleSet{
		Name:     name,
		Library:  "sqlalchemy",
		Language: lang.LangPython,
		Handlers: map[transform.NodeKind]transform.Handler{
			transform.KindImport: func(node *sitter.Node, source []byte) []transform.Rewrite {
				return redirectDeclarativeImport(node, source, name)
			},
			transform.KindCall: func(node *sitter.Node, source []byte) []transform.Rewrite {
				if rws := wrapRawExecuteSQL(node, source, name); rws != nil {
					return rws
				}
				return dropSessionmakerAutocommit(node, source, name)
			},
		},
	}
}

// redirectDeclarativeImport points the 1.x compatibility-shim import path
// `sqlalchemy.ext.declarative` at its direct home `sqlalchemy.orm`.
func redirectDeclarativeImport(node *sitter.Node, source []byte, name string) []transform.Rewrite {
	if node.Type() != "import_from_statement" {
		return nil
	}
	module := node.ChildByFieldName("module_name")
	if module == nil || module.Content(source) != "sqlalchemy.ext.declarative" {
		return nil
	}

	return []transform.Rewrite{{
		Edit: &transform.Edit{Start: module.StartByte(), End: module.EndByte(), Replacement: "sqlalchemy.orm"},
		Record: transform.NewChange(node, source,
			"redirect sqlalchemy.ext.declarative import to sqlalchemy.orm",
			"sqlalchemy.orm", name, 1.0),
	}}
}

// wrapRawExecuteSQL wraps a bare string passed to .execute() in text().
// 2.0 rejects raw SQL strings at execute call sites.
func wrapRawExecuteSQL(node *sitter.Node, source []byte, name string) []transform.Rewrite {
	fn := node.ChildByFieldName("function")
	if fn == nil || fn.Type() != "attribute" {
		return nil
	}
	attr := fn.ChildByFieldName("attribute")
	if attr == nil || attr.Content(source) != "execute" {
		return nil
	}

	args := node.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return nil
	}
	first := args.NamedChild(0)
	if first.Type() != "string" {
		return nil
	}

	replacement := "text(" + first.Content(source) + ")"
	return []transform.Rewrite{{
		Edit: &transform.Edit{Start: first.StartByte(), End: first.EndByte(), Replacement: replacement},
		Record: transform.Change{
			Description:   "wrap raw SQL string passed to execute() in text()",
			Line:          int(node.StartPoint().Row) + 1,
			Original:      node.Content(source),
			Replacement:   replacement,
			TransformName: name,
			Confidence:    0.95,
			Notes:         "ensure `from sqlalchemy import text` is present",
		},
	}}
}

// dropSessionmakerAutocommit removes the now-default autocommit=False
// keyword from sessionmaker(...) calls.
func dropSessionmakerAutocommit(node *sitter.Node, source []byte, name string) []transform.Rewrite {
	fn := node.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" || fn.Content(source) != "sessionmaker" {
		return nil
	}

	args := node.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}

	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() != "keyword_argument" {
			continue
		}
		kwName := arg.ChildByFieldName("name")
		kwValue := arg.ChildByFieldName("value")
		if kwName == nil || kwValue == nil {
			continue
		}
		if kwName.Content(source) != "autocommit" || kwValue.Content(source) != "False" {
			continue
		}

		start, end := argumentSpan(args, arg, source)
		return []transform.Rewrite{{
			Edit: &transform.Edit{Start: start, End: end, Replacement: ""},
			Record: transform.NewChange(node, source,
				"drop now-default autocommit=False from sessionmaker()",
				"", name, 1.0),
		}}
	}
	return nil
}

// argumentSpan widens an argument's byte range to swallow the comma and
// whitespace separating it from its neighbors.
func argumentSpan(args *sitter.Node, arg *sitter.Node, source []byte) (uint32, uint32) {
	start, end := arg.StartByte(), arg.EndByte()

	// Prefer consuming the preceding comma; fall back to the trailing one
	// when the argument leads the list.
	var prev, next *sitter.Node
	for i := 0; i < int(args.ChildCount()); i++ {
		child := args.Child(i)
		if child.EndByte() <= start && child.Type() == "," {
			prev = child
		}
		if next == nil && child.StartByte() >= end && child.Type() == "," {
			next = child
		}
	}

	if prev != nil {
		return prev.StartByte(), end
	}
	if next != nil {
		end = next.EndByte()
		for int(end) < len(source) && source[end] == ' ' {
			end++
		}
		return start, end
	}
	return start, end
}
