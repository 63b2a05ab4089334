package request

// Command actions that open a pending request.
const (
	ActionUpdatePipelineInstance      = "UPDATE_PIPELINE_INSTANCE"
	ActionBatchUpdatePipelineInstance = "BATCH_UPDATE_PIPELINE_INSTANCE"
	ActionUpdateConfig                = "UPDATE_CONFIG"
	ActionPipelineCommand             = "PIPELINE_COMMAND"
	ActionArchiveConfig               = "ARCHIVE_CONFIG"
)

// TrackedActions lists the actions whose outcome is correlated through
// network notifications.
var TrackedActions = map[string]bool{
	ActionUpdatePipelineInstance:      true,
	ActionBatchUpdatePipelineInstance: true,
	ActionUpdateConfig:                true,
	ActionPipelineCommand:             true,
	ActionArchiveConfig:               true,
}

// Notification codes emitted by remote nodes. Wire constants.
const (
	CodePipelineOK              = "PIPELINE_OK"
	CodePipelineFailed          = "PIPELINE_FAILED"
	CodePipelineDataOK          = "PIPELINE_DATA_OK"
	CodePipelineDataFailed      = "PIPELINE_DATA_FAILED"
	CodePipelineDCTConfigOK     = "PIPELINE_DCT_CONFIG_OK"
	CodePipelineDCTConfigFailed = "PIPELINE_DCT_CONFIG_FAILED"
	CodePipelineArchiveOK       = "PIPELINE_ARCHIVE_OK"
	CodePipelineArchiveFailed   = "PIPELINE_ARCHIVE_FAILED"

	CodePluginOK                    = "PLUGIN_OK"
	CodePluginFailed                = "PLUGIN_FAILED"
	CodePluginInstanceCommandOK     = "PLUGIN_INSTANCE_COMMAND_OK"
	CodePluginInstanceCommandFailed = "PLUGIN_INSTANCE_COMMAND_FAILED"
	CodePluginPauseOK               = "PLUGIN_PAUSE_OK"
	CodePluginPauseFailed           = "PLUGIN_PAUSE_FAILED"
	CodePluginResumeOK              = "PLUGIN_RESUME_OK"
	CodePluginResumeFailed          = "PLUGIN_RESUME_FAILED"
	CodePluginWorkingHoursOK        = "PLUGIN_WORKING_HOURS_OK"
	CodePluginWorkingHoursFailed    = "PLUGIN_WORKING_HOURS_FAILED"
	CodePluginConfigInPauseOK       = "PLUGIN_CONFIG_IN_PAUSE_OK"
	CodePluginConfigInPauseFailed   = "PLUGIN_CONFIG_IN_PAUSE_FAILED"
)

// TypeException marks a notification carrying a remote exception; it
// fails its target no matter what the strategy says.
const TypeException = "EXCEPTION"

// strategy interprets NOTIFICATION_CODE for one action kind.
type strategy struct {
	resolve map[string]bool
	reject  map[string]bool
}

func codeSet(codes ...string) map[string]bool {
	m := make(map[string]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}

var (
	archiveStrategy = strategy{
		resolve: codeSet(CodePipelineArchiveOK),
		reject:  codeSet(CodePipelineArchiveFailed),
	}
	pipelineStrategy = strategy{
		resolve: codeSet(CodePipelineOK, CodePipelineDataOK, CodePipelineDCTConfigOK, CodePluginOK),
		reject:  codeSet(CodePipelineFailed, CodePipelineDataFailed, CodePipelineDCTConfigFailed, CodePluginFailed),
	}
	instanceStrategy = strategy{
		resolve: codeSet(
			CodePluginOK,
			CodePluginInstanceCommandOK,
			CodePluginPauseOK,
			CodePluginResumeOK,
			CodePluginWorkingHoursOK,
			CodePluginConfigInPauseOK,
		),
		reject: codeSet(
			CodePluginFailed,
			CodePluginInstanceCommandFailed,
			CodePluginPauseFailed,
			CodePluginResumeFailed,
			CodePluginWorkingHoursFailed,
			CodePluginConfigInPauseFailed,
		),
	}
)

// strategyFor selects the code interpretation for an action. Unknown
// actions fall back to the pipeline strategy.
func strategyFor(action string) strategy {
	switch action {
	case ActionArchiveConfig:
		return archiveStrategy
	case ActionUpdateConfig, ActionPipelineCommand:
		return pipelineStrategy
	case ActionUpdatePipelineInstance, ActionBatchUpdatePipelineInstance:
		return instanceStrategy
	default:
		return pipelineStrategy
	}
}
