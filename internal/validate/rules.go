// Package validate applies a configurable rule set to normalized invoice
// records.
package validate

import (
	_ "embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/invoice-cli/internal/model"
)

// ErrRuleMisconfigured marks a rule that was skipped at engine construction.
var ErrRuleMisconfigured = eris.New("validate: rule misconfigured")

// RuleType names a validation check.
type RuleType string

const (
	TypeRequired RuleType = "required"
	TypeNumeric  RuleType = "numeric"
	TypeDate     RuleType = "date"
	TypeGSTIN    RuleType = "gstin"
	TypeEmail    RuleType = "email"
	TypePhone    RuleType = "phone"
	TypeRange    RuleType = "range"
	TypeRegex    RuleType = "regex"
)

// Rule is one configured check against one record field.
type Rule struct {
	ID       string                 `yaml:"id" json:"id"`
	Field    string                 `yaml:"field" json:"field"`
	Type     RuleType               `yaml:"type" json:"type"`
	Severity model.ValidationStatus `yaml:"severity,omitempty" json:"severity,omitempty"`
	Min      *float64               `yaml:"min,omitempty" json:"min,omitempty"`
	Max      *float64               `yaml:"max,omitempty" json:"max,omitempty"`
	Pattern  string                 `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Flags    string                 `yaml:"flags,omitempty" json:"flags,omitempty"`
	Message  string                 `yaml:"message,omitempty" json:"message,omitempty"`
	Order    int                    `yaml:"order" json:"order"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

//go:embed rules.yaml
var defaultRules []byte

// DefaultRules returns the built-in rule set.
func DefaultRules() ([]Rule, error) {
	return ParseRules(defaultRules)
}

// LoadRules reads a YAML rule file. An empty path yields the built-in rules.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "validate: read rules %s", path)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, eris.Wrapf(err, "validate: load rules %s", path)
	}
	return rules, nil
}

// ParseRules decodes a YAML rule document and orders the rules by Order.
// Rules sharing an Order keep their file order.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "validate: parse rules")
	}
	sort.SliceStable(f.Rules, func(i, j int) bool { return f.Rules[i].Order < f.Rules[j].Order })
	return f.Rules, nil
}
