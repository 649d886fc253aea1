package config

const (
	defaultDataDir            = "~/.local/share/loom"
	defaultLogDir             = "~/.local/share/loom/logs"
	defaultAPIBind            = "127.0.0.1:7318"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultWorkerCount        = 2
	defaultClaimBatchSize     = 4
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultStaleClaimTimeout  = 300
	defaultMaxRetries         = 3
	defaultMergeThreshold     = 0.8
	defaultHumanOriginTrust   = 0.9
	defaultAgentOriginTrust   = 0.6
)

func defaultSequence() []string {
	return []string{"capture", "extract", "structure", "integrate"}
}

func defaultCascades() []CascadeRule {
	return []CascadeRule{
		{Source: "capture", Target: "extract", WhenField: "entities_created", WhenGreaterThan: 0},
		{Source: "extract", Target: "structure", WhenField: "entities_created", WhenGreaterThan: 0},
		{Source: "structure", Target: "integrate", WhenField: "relationships_created", WhenGreaterThan: 0},
		{Source: "integrate"},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Workflow: Workflow{
			WorkerCount:        defaultWorkerCount,
			ClaimBatchSize:     defaultClaimBatchSize,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			StaleClaimTimeout:  defaultStaleClaimTimeout,
			MaxRetries:         defaultMaxRetries,
		},
		Governance: Governance{
			MergeThreshold:   defaultMergeThreshold,
			HumanOriginTrust: defaultHumanOriginTrust,
			AgentOriginTrust: defaultAgentOriginTrust,
		},
		Pipeline: Pipeline{
			Sequence: defaultSequence(),
			Cascades: defaultCascades(),
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
