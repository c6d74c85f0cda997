// Package knowledge provides the breaking-change knowledge base consulted
// for transformer selection and fallback prompt guidance. Catalogue content
// acquisition (scraping changelogs) is external; this package only loads
// and serves catalogues.
package knowledge

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"

	upshifterrors "upshift/internal/errors"
)

//go:embed catalogues/*.toml
var builtinCatalogues embed.FS

// ChangeKind classifies one breaking API change.
type ChangeKind string

const (
	ChangeKindRenamed    ChangeKind = "renamed"
	ChangeKindRemoved    ChangeKind = "removed"
	ChangeKindMoved      ChangeKind = "moved"
	ChangeKindBehavioral ChangeKind = "behavioral"
)

// Change describes one breaking API change between two versions.
type Change struct {
	Kind    ChangeKind `toml:"kind"`
	Symbol  string     `toml:"symbol"`
	NewName string     `toml:"new_name,omitempty"`
	NewPath string     `toml:"new_path,omitempty"`
	Note    string     `toml:"note,omitempty"`
}

// Catalogue is one library's breaking-change record for a version window.
type Catalogue struct {
	Library   string   `toml:"library"`
	FromRange string   `toml:"from_range"`
	ToRange   string   `toml:"to_range"`
	Summary   string   `toml:"summary,omitempty"`
	Changes   []Change `toml:"change"`

	fromConstraint *semver.Constraints
	toConstraint   *semver.Constraints
}

// Base serves breaking-change catalogues.
type Base struct {
	catalogues []*Catalogue
}

// Load builds the knowledge base from the embedded catalogues plus any
// *.toml files in overrideDir (empty = builtins only). A wholly unreadable
// base is the one batch-fatal configuration failure in the pipeline.
func Load(overrideDir string) (*Base, error) {
	b := &Base{}

	entries, err := builtinCatalogues.ReadDir("catalogues")
	if err != nil {
		return nil, upshifterrors.New(upshifterrors.KnowledgeBaseUnreadable, "embedded catalogues missing", err)
	}
	for _, entry := range entries {
		data, err := builtinCatalogues.ReadFile("catalogues/" + entry.Name())
		if err != nil {
			return nil, upshifterrors.New(upshifterrors.KnowledgeBaseUnreadable, "cannot read embedded catalogue "+entry.Name(), err)
		}
		if err := b.add(entry.Name(), data); err != nil {
			return nil, err
		}
	}

	if overrideDir != "" {
		files, err := filepath.Glob(filepath.Join(overrideDir, "*.toml"))
		if err != nil {
			return nil, upshifterrors.New(upshifterrors.KnowledgeBaseUnreadable, "cannot scan catalogue dir", err)
		}
		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, upshifterrors.New(upshifterrors.KnowledgeBaseUnreadable, "cannot read catalogue "+path, err)
			}
			if err := b.add(filepath.Base(path), data); err != nil {
				return nil, err
			}
		}
	}

	return b, nil
}

func (b *Base) add(name string, data []byte) error {
	var cat Catalogue
	if err := toml.Unmarshal(data, &cat); err != nil {
		return upshifterrors.New(upshifterrors.KnowledgeBaseUnreadable, "malformed catalogue "+name, err)
	}
	if cat.Library == "" {
		return upshifterrors.New(upshifterrors.KnowledgeBaseUnreadable, "catalogue "+name+" missing library", nil)
	}

	from, err := semver.NewConstraint(cat.FromRange)
	if err != nil {
		return upshifterrors.New(upshifterrors.KnowledgeBaseUnreadable,
			fmt.Sprintf("catalogue %s has invalid from_range %q", name, cat.FromRange), err)
	}
	to, err := semver.NewConstraint(cat.ToRange)
	if err != nil {
		return upshifterrors.New(upshifterrors.KnowledgeBaseUnreadable,
			fmt.Sprintf("catalogue %s has invalid to_range %q", name, cat.ToRange), err)
	}

	cat.fromConstraint = from
	cat.toConstraint = to
	b.catalogues = append(b.catalogues, &cat)
	return nil
}

// Lookup returns the catalogue covering (library, from, to), or nil when
// none exists — the escalation path then runs unguided.
func (b *Base) Lookup(library, fromVersion, toVersion string) *Catalogue {
	from, err := semver.NewVersion(fromVersion)
	if err != nil {
		return nil
	}
	to, err := semver.NewVersion(toVersion)
	if err != nil {
		return nil
	}

	for _, cat := range b.catalogues {
		if !strings.EqualFold(cat.Library, library) {
			continue
		}
		if cat.fromConstraint.Check(from) && cat.toConstraint.Check(to) {
			return cat
		}
	}
	return nil
}

// Count returns the number of loaded catalogues.
func (b *Base) Count() int {
	return len(b.catalogues)
}

// PromptSection renders the catalogue as prompt guidance for the
// generative fallback.
func (c *Catalogue) PromptSection() string {
	var sb strings.Builder
	if c.Summary != "" {
		sb.WriteString(c.Summary)
		sb.WriteString("\n")
	}
	for _, ch := range c.Changes {
		switch ch.Kind {
		case ChangeKindRenamed:
			fmt.Fprintf(&sb, "- %s was renamed to %s", ch.Symbol, ch.NewName)
		case ChangeKindRemoved:
			fmt.Fprintf(&sb, "- %s was removed", ch.Symbol)
		case ChangeKindMoved:
			fmt.Fprintf(&sb, "- %s moved to %s", ch.Symbol, ch.NewPath)
		case ChangeKindBehavioral:
			fmt.Fprintf(&sb, "- %s changed behavior", ch.Symbol)
		default:
			fmt.Fprintf(&sb, "- %s", ch.Symbol)
		}
		if ch.Note != "" {
			fmt.Fprintf(&sb, " (%s)", ch.Note)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
