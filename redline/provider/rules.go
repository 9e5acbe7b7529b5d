package provider

import (
	"context"
	"log/slog"
	"strings"

	"github.com/theimaginaryfoundation/redline-o-bot/redline"
)

// Rule is a literal replacement enabled by keywords in the instruction. The
// rule fires when the lowercased instruction contains every entry of All and,
// if Any is non-empty, at least one entry of Any.
type Rule struct {
	All       []string `json:"all" yaml:"all" toml:"all"`
	Any       []string `json:"any" yaml:"any" toml:"any"`
	Find      string   `json:"find" yaml:"find" toml:"find"`
	Replace   string   `json:"replace" yaml:"replace" toml:"replace"`
	Reasoning string   `json:"reasoning" yaml:"reasoning" toml:"reasoning"`
}

func (r Rule) enabled(instruction string) bool {
	for _, k := range r.All {
		if !strings.Contains(instruction, strings.ToLower(k)) {
			return false
		}
	}
	if len(r.Any) == 0 {
		return true
	}
	for _, k := range r.Any {
		if strings.Contains(instruction, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// DefaultRules cover the sample employment agreement.
var DefaultRules = []Rule{
	{
		Any:       []string{"acme corporation"},
		Find:      "Acme Corporation",
		Replace:   "TechCorp Industries",
		Reasoning: "Updated company name from Acme Corporation to TechCorp Industries",
	},
	{
		All:       []string{"salary"},
		Any:       []string{"120", "150"},
		Find:      "$120,000",
		Replace:   "$150,000",
		Reasoning: "Updated annual salary from $120,000 to $150,000",
	},
	{
		All:       []string{"bonus"},
		Find:      "15%",
		Replace:   "20%",
		Reasoning: "Updated bonus percentage from 15% to 20%",
	},
	{
		Any:       []string{"senior software engineer", "principal software architect"},
		Find:      "Senior Software Engineer",
		Replace:   "Principal Software Architect",
		Reasoning: "Updated job title from Senior Software Engineer to Principal Software Architect",
	},
	{
		Any:       []string{"john doe", "jane smith"},
		Find:      "John Doe",
		Replace:   "Jane Smith",
		Reasoning: "Updated employee name from John Doe to Jane Smith",
	},
}

// RulesOracle proposes edits from keyword rules. It is offline and
// deterministic.
type RulesOracle struct {
	Rules  []Rule
	Logger *slog.Logger
}

// NewRulesOracle returns an oracle over rules, or DefaultRules when empty.
func NewRulesOracle(rules []Rule, logger *slog.Logger) RulesOracle {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	if logger == nil {
		logger = slog.Default()
	}
	return RulesOracle{Rules: rules, Logger: logger}
}

// Propose implements redline.EditOracle. Rules apply in order; a paragraph hit
// by several rules yields one edit carrying all replacements.
func (o RulesOracle) Propose(ctx context.Context, snap redline.Snapshot, instruction string) ([]redline.ParagraphEdit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := strings.ToLower(instruction)
	active := make([]Rule, 0, len(o.Rules))
	for _, r := range o.Rules {
		if r.Find != "" && r.enabled(lower) {
			active = append(active, r)
		}
	}

	var edits []redline.ParagraphEdit
	for _, p := range snap.Paragraphs {
		if p.IsEmpty() {
			continue
		}
		text := p.Text
		var reasons []string
		for _, r := range active {
			if strings.Contains(text, r.Find) {
				text = strings.ReplaceAll(text, r.Find, r.Replace)
				reasons = append(reasons, r.Reasoning)
			}
		}
		if len(reasons) == 0 || text == p.Text {
			continue
		}
		edits = append(edits, redline.ParagraphEdit{
			ParagraphID:     p.ID,
			OriginalText:    p.Text,
			ReplacementText: text,
			Reasoning:       strings.Join(reasons, "; "),
			SnapshotVersion: snap.Version,
		})
	}
	if o.Logger != nil {
		o.Logger.Debug("rules oracle proposed edits", "edits", len(edits), "rules_active", len(active))
	}
	return edits, nil
}
