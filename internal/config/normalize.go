package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeGovernance()
	c.normalizePipeline()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.WorkerCount <= 0 {
		c.Workflow.WorkerCount = defaultWorkerCount
	}
	if c.Workflow.ClaimBatchSize <= 0 {
		c.Workflow.ClaimBatchSize = defaultClaimBatchSize
	}
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.StaleClaimTimeout <= 0 {
		c.Workflow.StaleClaimTimeout = defaultStaleClaimTimeout
	}
	if c.Workflow.MaxRetries <= 0 {
		c.Workflow.MaxRetries = defaultMaxRetries
	}
}

func (c *Config) normalizeGovernance() {
	if c.Governance.MergeThreshold == 0 {
		c.Governance.MergeThreshold = defaultMergeThreshold
	}
	if c.Governance.HumanOriginTrust == 0 {
		c.Governance.HumanOriginTrust = defaultHumanOriginTrust
	}
	if c.Governance.AgentOriginTrust == 0 {
		c.Governance.AgentOriginTrust = defaultAgentOriginTrust
	}
}

func (c *Config) normalizePipeline() {
	if len(c.Pipeline.Sequence) == 0 {
		c.Pipeline.Sequence = defaultSequence()
	}
	for i, stage := range c.Pipeline.Sequence {
		c.Pipeline.Sequence[i] = strings.ToLower(strings.TrimSpace(stage))
	}
	if len(c.Pipeline.Cascades) == 0 {
		c.Pipeline.Cascades = defaultCascades()
	}
	for i := range c.Pipeline.Cascades {
		rule := &c.Pipeline.Cascades[i]
		rule.Source = strings.ToLower(strings.TrimSpace(rule.Source))
		rule.Target = strings.ToLower(strings.TrimSpace(rule.Target))
		rule.WhenField = strings.TrimSpace(rule.WhenField)
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
