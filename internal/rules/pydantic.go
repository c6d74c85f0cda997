// Package rules contains the per-library catalogues of structural rewrites.
// Every rule is a pure, local node-shape match over the file's own tree:
// no type inference, no cross-file resolution.
package rules

import (
	"bytes"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"upshift/internal/lang"
	"upshift/internal/transform"
)

// configKeyRenames maps pydantic v1 Config attributes to their v2
// ConfigDict names. Keys absent here carry over unchanged.
var configKeyRenames = map[string]string{
	"orm_mode":                       "from_attributes",
	"allow_population_by_field_name": "populate_by_name",
	"anystr_strip_whitespace":        "str_strip_whitespace",
	"min_anystr_length":              "str_min_length",
	"max_anystr_length":              "str_max_length",
	"schema_extra":                   "json_schema_extra",
}

// methodRenames maps pydantic v1 model methods to their v2 equivalents.
var methodRenames = map[string]string{
	"dict":                "model_dump",
	"json":                "model_dump_json",
	"parse_obj":           "model_validate",
	"parse_raw":           "model_validate_json",
	"schema":              "model_json_schema",
	"construct":           "model_construct",
	"update_forward_refs": "model_rebuild",
}

// NewPydanticV2Rules builds the pydantic 1.x -> 2.x rule set.
// The returned instance processes exactly one file.
func NewPydanticV2Rules() *transform.RuleSet {
	const name = "pydantic_v2"
	configDictImported := false

	return &transform.RuleSet{
		Name:     name,
		Library:  "pydantic",
		Language: lang.LangPython,
		Handlers: map[transform.NodeKind]transform.Handler{
			transform.KindImport: func(node *sitter.Node, source []byte) []transform.Rewrite {
				return rewritePydanticImport(node, source, name)
			},
			transform.KindClassDef: func(node *sitter.Node, source []byte) []transform.Rewrite {
				rws := rewriteConfigClass(node, source, name, &configDictImported)
				return rws
			},
			transform.KindDecorator: func(node *sitter.Node, source []byte) []transform.Rewrite {
				return rewriteValidatorDecorator(node, source, name)
			},
			transform.KindCall: func(node *sitter.Node, source []byte) []transform.Rewrite {
				return rewriteModelMethodCall(node, source, name)
			},
		},
	}
}

// rewritePydanticImport renames `validator` to `field_validator` in
// `from pydantic import ...` statements.
func rewritePydanticImport(node *sitter.Node, source []byte, name string) []transform.Rewrite {
	if node.Type() != "import_from_statement" {
		return nil
	}
	module := node.ChildByFieldName("module_name")
	if module == nil || module.Content(source) != "pydantic" {
		return nil
	}

	var rws []transform.Rewrite
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child == module || child.Type() != "dotted_name" {
			continue
		}
		if child.Content(source) != "validator" {
			continue
		}
		rws = append(rws, transform.Rewrite{
			Edit: &transform.Edit{Start: child.StartByte(), End: child.EndByte(), Replacement: "field_validator"},
			Record: transform.NewChange(node, source,
				"rename pydantic import 'validator' to 'field_validator'",
				"field_validator", name, 1.0),
		})
	}
	return rws
}

// rewriteConfigClass replaces a nested `class Config:` block with the v2
// declarative `model_config = ConfigDict(...)` assignment.
func rewriteConfigClass(node *sitter.Node, source []byte, name string, imported *bool) []transform.Rewrite {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil || nameNode.Content(source) != "Config" {
		return nil
	}
	if lang.Ancestor(node, "class_definition") == nil {
		return nil
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return nil
	}

	pairs, clean := configAssignments(body, source)
	if !clean {
		// Config blocks holding methods or nested classes need a human;
		// record the finding without touching the source.
		return []transform.Rewrite{{
			Record: transform.Change{
				Description:   "Config block contains statements beyond plain assignments; migrate to ConfigDict manually",
				Line:          int(node.StartPoint().Row) + 1,
				Original:      node.Content(source),
				Replacement:   node.Content(source),
				TransformName: name,
				Confidence:    0.7,
				Notes:         "advisory: non-trivial Config block",
			},
		}}
	}

	replacement := "model_config = ConfigDict(" + strings.Join(pairs, ", ") + ")"
	rws := []transform.Rewrite{{
		Edit: &transform.Edit{Start: node.StartByte(), End: node.EndByte(), Replacement: replacement},
		Record: transform.NewChange(node, source,
			"replace nested Config class with model_config = ConfigDict(...)",
			replacement, name, 1.0),
	}}

	if !*imported && !bytes.Contains(source, []byte("ConfigDict")) {
		if at := bytes.Index(source, []byte("from pydantic import ")); at >= 0 {
			insert := uint32(at + len("from pydantic import "))
			rws = append(rws, transform.Rewrite{
				Edit: &transform.Edit{Start: insert, End: insert, Replacement: "ConfigDict, "},
				Record: transform.Change{
					Description:   "add ConfigDict to the pydantic import",
					Line:          lineAt(source, int(insert)),
					Original:      "from pydantic import",
					Replacement:   "from pydantic import ConfigDict,",
					TransformName: name,
					Confidence:    1.0,
				},
			})
			*imported = true
		}
	}
	return rws
}

// configAssignments extracts key=value pairs from a Config block body.
// Returns clean=false when the body holds anything but simple assignments.
func configAssignments(body *sitter.Node, source []byte) ([]string, bool) {
	var pairs []string
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		if stmt.Type() == "comment" {
			continue
		}
		if stmt.Type() != "expression_statement" || stmt.NamedChildCount() != 1 {
			return nil, false
		}
		assign := stmt.NamedChild(0)
		if assign.Type() != "assignment" {
			return nil, false
		}
		left := assign.ChildByFieldName("left")
		right := assign.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != "identifier" {
			return nil, false
		}

		key := left.Content(source)
		if renamed, ok := configKeyRenames[key]; ok {
			key = renamed
		}
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, right.Content(source)))
	}
	return pairs, true
}

// rewriteValidatorDecorator converts `@validator(...)` into
// `@field_validator(...)` plus `@classmethod`, preserving the wrapped
// function. `pre=True` becomes `mode="before"`; `allow_reuse` is dropped.
func rewriteValidatorDecorator(node *sitter.Node, source []byte, name string) []transform.Rewrite {
	call := namedChildOfType(node, "call")
	if call == nil {
		return nil
	}
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" || fn.Content(source) != "validator" {
		return nil
	}

	args := call.ChildByFieldName("arguments")
	var kept []string
	if args != nil {
		for i := 0; i < int(args.NamedChildCount()); i++ {
			arg := args.NamedChild(i)
			if arg.Type() == "keyword_argument" {
				kwName := arg.ChildByFieldName("name")
				kwValue := arg.ChildByFieldName("value")
				if kwName == nil || kwValue == nil {
					kept = append(kept, arg.Content(source))
					continue
				}
				switch kwName.Content(source) {
				case "pre":
					if kwValue.Content(source) == "True" {
						kept = append(kept, `mode="before"`)
					}
					continue
				case "allow_reuse":
					// Default in v2; drop it.
					continue
				}
			}
			kept = append(kept, arg.Content(source))
		}
	}

	indent := strings.Repeat(" ", int(node.StartPoint().Column))
	replacement := "@field_validator(" + strings.Join(kept, ", ") + ")\n" + indent + "@classmethod"
	return []transform.Rewrite{{
		Edit: &transform.Edit{Start: node.StartByte(), End: node.EndByte(), Replacement: replacement},
		Record: transform.NewChange(node, source,
			"rewrite @validator to @field_validator with @classmethod",
			replacement, name, 1.0),
	}}
}

// rewriteModelMethodCall renames v1 model method calls at their call sites.
func rewriteModelMethodCall(node *sitter.Node, source []byte, name string) []transform.Rewrite {
	fn := node.ChildByFieldName("function")
	if fn == nil || fn.Type() != "attribute" {
		return nil
	}
	attr := fn.ChildByFieldName("attribute")
	if attr == nil {
		return nil
	}

	renamed, ok := methodRenames[attr.Content(source)]
	if !ok {
		return nil
	}
	return []transform.Rewrite{{
		Edit: &transform.Edit{Start: attr.StartByte(), End: attr.EndByte(), Replacement: renamed},
		Record: transform.NewChange(node, source,
			fmt.Sprintf("rename .%s() to .%s()", attr.Content(source), renamed),
			renamed, name, 1.0),
	}}
}

// namedChildOfType returns the first named child with the given type.
func namedChildOfType(node *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if child := node.NamedChild(i); child.Type() == nodeType {
			return child
		}
	}
	return nil
}

// lineAt returns the 1-indexed line containing byte offset.
func lineAt(source []byte, offset int) int {
	if offset > len(source) {
		offset = len(source)
	}
	return bytes.Count(source[:offset], []byte("\n")) + 1
}
