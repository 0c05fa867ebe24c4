package classify

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"responder/pkg/models"
)

// Rule maps a set of indicator names to an incident type and baseline
// severity. A rule matches when the event carries any of its indicators.
type Rule struct {
	ID       string              `yaml:"id"`
	AnyOf    []string            `yaml:"any_of"`
	Type     models.IncidentType `yaml:"incident_type"`
	Severity models.Severity     `yaml:"severity"`
}

// Table is an ordered classification rule table. Order is part of the
// policy: the first matching rule wins, so higher-impact types must be
// listed before broader ones.
type Table struct {
	rules []Rule
}

// DefaultTable returns the built-in classification policy. Data-breach
// indicators are checked before generic unauthorized access so the broader
// rule cannot mask the higher-impact one.
func DefaultTable() *Table {
	return &Table{rules: []Rule{
		{
			ID:       "data-breach",
			AnyOf:    []string{"data_breach", "data_exfiltration", "sensitive_data_access"},
			Type:     models.TypeDataBreach,
			Severity: models.SeverityCritical,
		},
		{
			ID:       "sql-injection",
			AnyOf:    []string{"sql_injection", "sql_injection_attempt", "sqli_payload"},
			Type:     models.TypeSQLInjection,
			Severity: models.SeverityHigh,
		},
		{
			ID:       "ddos",
			AnyOf:    []string{"ddos_attack", "traffic_flood", "syn_flood", "traffic_volume_high"},
			Type:     models.TypeDDoSAttack,
			Severity: models.SeverityHigh,
		},
		{
			ID:       "malware",
			AnyOf:    []string{"malware_detected", "ransomware", "trojan_detected", "suspicious_binary"},
			Type:     models.TypeMalware,
			Severity: models.SeverityHigh,
		},
		{
			ID:       "unauthorized-access",
			AnyOf:    []string{"unauthorized_access", "brute_force", "privilege_escalation", "repeated_login_failures", "suspicious_login"},
			Type:     models.TypeUnauthorizedAccess,
			Severity: models.SeverityMedium,
		},
	}}
}

// LoadTable reads a classification table from a YAML file. The file fully
// replaces the default policy.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier table: %w", err)
	}
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse classifier table: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("classifier table %s defines no rules", path)
	}
	for i := range doc.Rules {
		r := &doc.Rules[i]
		if r.ID == "" {
			r.ID = fmt.Sprintf("rule-%d", i+1)
		}
		if r.Type == "" {
			return nil, fmt.Errorf("classifier rule %s has no incident_type", r.ID)
		}
		if r.Severity.Rank() == 0 {
			r.Severity = models.SeverityLow
		}
		clean := make([]string, 0, len(r.AnyOf))
		for _, ind := range r.AnyOf {
			ind = strings.ToLower(strings.TrimSpace(ind))
			if ind != "" {
				clean = append(clean, ind)
			}
		}
		if len(clean) == 0 {
			return nil, fmt.Errorf("classifier rule %s matches nothing", r.ID)
		}
		r.AnyOf = clean
	}
	return &Table{rules: doc.Rules}, nil
}

// Rules returns the table contents in evaluation order.
func (t *Table) Rules() []Rule {
	return t.rules
}

// Classify maps an indicator set to an incident type and baseline severity.
// Unclassified events come back as other/low so they stay trackable.
func (t *Table) Classify(indicators []string) (models.IncidentType, models.Severity) {
	set := make(map[string]struct{}, len(indicators))
	for _, ind := range indicators {
		set[ind] = struct{}{}
	}
	for _, rule := range t.rules {
		for _, want := range rule.AnyOf {
			if _, ok := set[want]; ok {
				return rule.Type, rule.Severity
			}
		}
	}
	return models.TypeOther, models.SeverityLow
}
