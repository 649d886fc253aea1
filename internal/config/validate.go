package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateGovernance(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.StaleClaimTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.stale_claim_timeout must exceed workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateGovernance() error {
	if c.Governance.MergeThreshold <= 0 || c.Governance.MergeThreshold >= 1 {
		return errors.New("governance.merge_threshold must be between 0 and 1 exclusive")
	}
	for name, trust := range map[string]float64{
		"governance.human_origin_trust": c.Governance.HumanOriginTrust,
		"governance.agent_origin_trust": c.Governance.AgentOriginTrust,
	} {
		if trust < 0 || trust > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if len(c.Pipeline.Sequence) == 0 {
		return errors.New("pipeline.sequence must declare at least one stage")
	}
	known := make(map[string]struct{}, len(c.Pipeline.Sequence))
	for _, stage := range c.Pipeline.Sequence {
		if strings.TrimSpace(stage) == "" {
			return errors.New("pipeline.sequence must not contain empty stage names")
		}
		if _, dup := known[stage]; dup {
			return fmt.Errorf("pipeline.sequence repeats stage %q", stage)
		}
		known[stage] = struct{}{}
	}
	for _, rule := range c.Pipeline.Cascades {
		if rule.Source == "" {
			return errors.New("pipeline.cascades entries must set source")
		}
		if _, ok := known[rule.Source]; !ok {
			return fmt.Errorf("pipeline.cascades references unknown source stage %q", rule.Source)
		}
		if rule.Target != "" {
			if _, ok := known[rule.Target]; !ok {
				return fmt.Errorf("pipeline.cascades references unknown target stage %q", rule.Target)
			}
			if rule.WhenField == "" {
				return fmt.Errorf("pipeline.cascades rule %s->%s must set when_field", rule.Source, rule.Target)
			}
		}
		if rule.DelaySeconds < 0 {
			return fmt.Errorf("pipeline.cascades rule %s delay_seconds must not be negative", rule.Source)
		}
	}
	return nil
}
