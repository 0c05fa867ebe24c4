package playbook

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"responder/pkg/models"
)

// Playbook is the type-keyed response plan: automated actions the engine
// requests from the actuator, in order, and manual steps surfaced to
// analysts but never executed here.
type Playbook struct {
	Type             models.IncidentType `yaml:"incident_type"`
	AutomatedActions []string            `yaml:"automated_actions"`
	ManualSteps      []string            `yaml:"manual_steps"`
}

// Library is the read-only playbook lookup, loaded once at process start.
type Library struct {
	byType   map[models.IncidentType]Playbook
	fallback Playbook
}

// DefaultLibrary returns the built-in playbooks.
func DefaultLibrary() *Library {
	plays := []Playbook{
		{
			Type:             models.TypeSQLInjection,
			AutomatedActions: []string{"block_ips", "enable_waf_rules", "isolate_database"},
			ManualSteps: []string{
				"review web access logs for injection payloads",
				"audit database accounts used by the affected application",
				"patch or parameterize the vulnerable query",
			},
		},
		{
			Type:             models.TypeDDoSAttack,
			AutomatedActions: []string{"enable_ddos_protection", "block_ips", "scale_infrastructure"},
			ManualSteps: []string{
				"confirm upstream provider mitigation is active",
				"identify attack vector and adjust rate limits",
			},
		},
		{
			Type:             models.TypeDataBreach,
			AutomatedActions: []string{"quarantine_systems", "revoke_access_tokens", "freeze_accounts"},
			ManualSteps: []string{
				"determine scope of exposed data",
				"engage legal and notify affected parties as required",
				"rotate credentials and keys touching the exposed systems",
			},
		},
		{
			Type:             models.TypeMalware,
			AutomatedActions: []string{"quarantine_systems", "block_ips"},
			ManualSteps: []string{
				"capture memory and disk images before remediation",
				"identify the malware family and infection vector",
			},
		},
		{
			Type:             models.TypeUnauthorizedAccess,
			AutomatedActions: []string{"freeze_accounts", "block_ips", "force_password_reset"},
			ManualSteps: []string{
				"review authentication logs for the affected accounts",
				"verify MFA enrollment for targeted users",
			},
		},
	}
	lib := &Library{byType: make(map[models.IncidentType]Playbook, len(plays))}
	for _, p := range plays {
		lib.byType[p.Type] = p
	}
	lib.fallback = genericPlaybook()
	return lib
}

// LoadLibrary reads playbooks from a YAML file; it fully replaces the
// defaults except for the generic fallback.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook file: %w", err)
	}
	var doc struct {
		Playbooks []Playbook `yaml:"playbooks"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse playbook file: %w", err)
	}
	if len(doc.Playbooks) == 0 {
		return nil, fmt.Errorf("playbook file %s defines no playbooks", path)
	}
	lib := &Library{
		byType:   make(map[models.IncidentType]Playbook, len(doc.Playbooks)),
		fallback: genericPlaybook(),
	}
	for i, p := range doc.Playbooks {
		if p.Type == "" {
			return nil, fmt.Errorf("playbook %d has no incident_type", i+1)
		}
		p.AutomatedActions = cleanSteps(p.AutomatedActions)
		p.ManualSteps = cleanSteps(p.ManualSteps)
		lib.byType[p.Type] = p
	}
	return lib, nil
}

// Lookup returns the playbook for a type. A type without a playbook gets
// the minimal generic one rather than an error.
func (l *Library) Lookup(t models.IncidentType) Playbook {
	if p, ok := l.byType[t]; ok {
		return p
	}
	return l.fallback
}

func genericPlaybook() Playbook {
	return Playbook{
		Type:             models.TypeOther,
		AutomatedActions: []string{"enable_monitoring", "collect_artifacts"},
		ManualSteps: []string{
			"triage the collected artifacts",
			"classify the incident once more context is available",
		},
	}
}

func cleanSteps(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
