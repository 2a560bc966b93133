package config

const (
	defaultWatchDir = "~/.local/share/datamill/incoming"
	defaultWorkDir  = "~/.local/share/datamill/work"
	defaultLogDir   = "~/.local/share/datamill/logs"
	defaultAPIBind  = "127.0.0.1:7962"

	defaultLogFormat = "console"
	defaultLogLevel  = "info"

	defaultMaxAttempts        = 3
	defaultBackoffBaseSeconds = 5
	defaultBackoffMultiplier  = 2.0
	defaultLogTailBytes       = 16 * 1024

	defaultWatchPollInterval    = 3
	defaultWatchErrorBackoffMax = 60
	defaultStabilityIntervals   = 2

	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120

	defaultNotifyRequestTimeout = 10

	// Stage timeouts mirror the upstream container pipeline: conversion and
	// cleaning are quick transforms, training dominates.
	defaultConvertTimeout = 300
	defaultCleanTimeout   = 300
	defaultTrainTimeout   = 600
	defaultPublishTimeout = 120
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WatchDir: defaultWatchDir,
			WorkDir:  defaultWorkDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Stages: Stages{
			Convert: StageCommand{
				Command: []string{"datamill-convert", "{input}", "{output}"},
				Timeout: defaultConvertTimeout,
				Output:  "dataset.csv",
			},
			Clean: StageCommand{
				Command: []string{"datamill-clean", "{input}", "{output}"},
				Timeout: defaultCleanTimeout,
				Output:  "dataset_cleaned.csv",
			},
			Train: StageCommand{
				Command: []string{"datamill-train", "{input}", "{output}"},
				Timeout: defaultTrainTimeout,
				Output:  "model.pkl",
			},
			Publish: StageCommand{
				Command: []string{"datamill-publish", "{input}", "{output}"},
				Timeout: defaultPublishTimeout,
				Output:  "manifest.json",
			},
		},
		Pipeline: Pipeline{
			AcceptedExtensions: []string{".csv", ".xlsx"},
			MaxAttempts:        defaultMaxAttempts,
			BackoffBaseSeconds: defaultBackoffBaseSeconds,
			BackoffMultiplier:  defaultBackoffMultiplier,
			LogTailBytes:       defaultLogTailBytes,
		},
		Watcher: Watcher{
			PollInterval:       defaultWatchPollInterval,
			ErrorBackoffMax:    defaultWatchErrorBackoffMax,
			StabilityIntervals: defaultStabilityIntervals,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Runs:           true,
			ModelReady:     true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
