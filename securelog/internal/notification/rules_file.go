package notification

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

type rulesFile struct {
	Templates []struct {
		ID      string `yaml:"id"`
		Subject string `yaml:"subject"`
		Body    string `yaml:"body"`
	} `yaml:"templates"`
	Rules []Rule `yaml:"rules"`
}

// LoadRulesFile reads custom templates and rules from a YAML document and
// installs them, replacing the current rule set.
func (m *Manager) LoadRulesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: parse rules file %s: %w", models.ErrConfiguration, path, err)
	}
	for _, t := range doc.Templates {
		if err := m.templates.Add(t.ID, t.Subject, t.Body); err != nil {
			return err
		}
	}
	return m.ReplaceRules(doc.Rules)
}
