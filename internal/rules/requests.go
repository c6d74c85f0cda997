package rules

import (
	sitter "github.com/smacker/go-tree-sitter"

	"upshift/internal/lang"
	"upshift/internal/transform"
)

var requestsHTTPMethods = map[string]bool{
	"get":     true,
	"post":    true,
	"put":     true,
	"delete":  true,
	"patch":   true,
	"head":    true,
	"options": true,
	"request": true,
}

// NewRequestsTimeoutRules builds the advisory rule set for requests 2.x.
// It flags HTTP calls without an explicit timeout; requests blocks forever
// by default. Findings are advisory only and never edit the source.
func NewRequestsTimeoutRules() *transform.RuleSet {
	const name = "requests_timeout"

	return &transform.RuleSet{
		Name:     name,
		Library:  "requests",
		Language: lang.LangPython,
		Handlers: map[transform.NodeKind]transform.Handler{
			transform.KindCall: func(node *sitter.Node, source []byte) []transform.Rewrite {
				return flagMissingTimeout(node, source, name)
			},
		},
	}
}

func flagMissingTimeout(node *sitter.Node, source []byte, name string) []transform.Rewrite {
	fn := node.ChildByFieldName("function")
	if fn == nil || fn.Type() != "attribute" {
		return nil
	}
	obj := fn.ChildByFieldName("object")
	attr := fn.ChildByFieldName("attribute")
	if obj == nil || attr == nil {
		return nil
	}
	if obj.Type() != "identifier" || obj.Content(source) != "requests" {
		return nil
	}
	if !requestsHTTPMethods[attr.Content(source)] {
		return nil
	}

	args := node.ChildByFieldName("arguments")
	if args != nil && hasKeyword(args, source, "timeout") {
		return nil
	}

	snippet := node.Content(source)
	return []transform.Rewrite{{
		Record: transform.Change{
			Description:   "requests." + attr.Content(source) + "() call lacks an explicit timeout",
			Line:          int(node.StartPoint().Row) + 1,
			Original:      snippet,
			Replacement:   snippet,
			TransformName: name,
			Confidence:    0.6,
			Notes:         "advisory: pass timeout= to avoid an unbounded wait",
		},
	}}
}

func hasKeyword(args *sitter.Node, source []byte, keyword string) bool {
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() != "keyword_argument" {
			continue
		}
		if kwName := arg.ChildByFieldName("name"); kwName != nil && kwName.Content(source) == keyword {
			return true
		}
	}
	return false
}
