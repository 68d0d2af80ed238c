package config

import "runtime"

const (
	defaultLibraryDir           = "~/.local/share/hopper/library"
	defaultStateDir             = "~/.local/share/hopper"
	defaultLogDir               = "~/.local/share/hopper/logs"
	defaultScanInterval         = 60
	defaultPatternInterval      = 43200
	defaultMarkerName           = "instruction.txt"
	defaultScanMaxDepth         = 32
	defaultDebounceMillis       = 1500
	defaultWorkers              = 4
	defaultActionTimeout        = 300
	defaultShutdownGrace        = 15
	defaultHashChunkKiB         = 64
	defaultErrorRetryInterval   = 10
	defaultErrorLogRetain       = 10000
	defaultExtractMaxDepth      = 3
	defaultExtractMaxMembers    = 10000
	defaultExtractMaxTotalBytes = 8 << 30
	defaultSevenZipPath         = "7z"
	defaultInstallTimeout       = 900
	defaultSyncMaxAttempts      = 10
	defaultSyncTimeoutSeconds   = 15
	defaultNotifyTimeout        = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
)

// Sync target types.
const (
	SyncTypeDirectory = "directory"
	SyncTypeWebhook   = "webhook"
	SyncTypeNtfy      = "ntfy"
)

// DefaultSyncTargets are the three downstream surfaces the ingestion library
// has always kept in step: the pages editor, the codespaces workspace, and
// the browser extension.
var DefaultSyncTargets = []string{"pages", "codespaces", "extension"}

// DefaultPublishPlatforms lists the platforms the outbox publisher accepts.
var DefaultPublishPlatforms = []string{"amazon_kdp", "audible", "youtube", "spotify", "github", "app_store"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	targets := make([]SyncTarget, 0, len(DefaultSyncTargets))
	for _, name := range DefaultSyncTargets {
		targets = append(targets, SyncTarget{
			Name: name,
			Type: SyncTypeDirectory,
		})
	}
	return Config{
		Paths: Paths{
			LibraryDir: defaultLibraryDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
		},
		Scan: Scan{
			Interval:        defaultScanInterval,
			PatternInterval: defaultPatternInterval,
			MarkerName:      defaultMarkerName,
			MaxDepth:        defaultScanMaxDepth,
			DebounceMillis:  defaultDebounceMillis,
		},
		Workflow: Workflow{
			Workers:             defaultWorkers,
			ActionTimeout:       defaultActionTimeout,
			ShutdownGrace:       defaultShutdownGrace,
			HashChunkKiB:        defaultHashChunkKiB,
			ErrorRetryInterval:  defaultErrorRetryInterval,
			ErrorLogRetainLimit: defaultErrorLogRetain,
		},
		Extract: Extract{
			MaxDepth:      defaultExtractMaxDepth,
			MaxMembers:    defaultExtractMaxMembers,
			MaxTotalBytes: defaultExtractMaxTotalBytes,
			SevenZipPath:  defaultSevenZipPath,
		},
		Safety: Safety{
			InstallTimeout: defaultInstallTimeout,
			HostOS:         runtime.GOOS,
		},
		Categories: Categories{
			Archive:          true,
			Installer:        true,
			BrowserExtension: true,
			NativeLibrary:    true,
			Script:           true,
			Credential:       true,
			MobileApp:        true,
			StructuredData:   true,
			Unknown:          true,
		},
		Sync: Sync{
			Enabled:        append([]string(nil), DefaultSyncTargets...),
			MaxAttempts:    defaultSyncMaxAttempts,
			TimeoutSeconds: defaultSyncTimeoutSeconds,
			Targets:        targets,
		},
		Publish: Publish{
			Platforms: append([]string(nil), DefaultPublishPlatforms...),
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			TickFailures:   true,
			UnsafeBlocked:  true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
