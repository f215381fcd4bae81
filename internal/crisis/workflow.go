package crisis

// WorkflowStep is one required follow-up action for a crisis detection.
// Steps are ordered; the caller executes them, this package only names them.
type WorkflowStep string

// Workflow step identifiers.
const (
	StepShowEmergencyResources WorkflowStep = "display_emergency_resources"
	StepShowSupportResources   WorkflowStep = "display_support_resources"
	StepLogCrisisEvent         WorkflowStep = "log_crisis_event"
	StepNotifyResponder        WorkflowStep = "notify_crisis_responder"
	StepScheduleFollowUp       WorkflowStep = "schedule_follow_up"
	StepSuggestScreening       WorkflowStep = "suggest_screening"
)

// BuildWorkflow maps a severity to its fixed ordered list of required
// actions. Pure function, no side effects.
func BuildWorkflow(severity Severity) []WorkflowStep {
	switch severity {
	case SeverityImmediate:
		return []WorkflowStep{
			StepShowEmergencyResources,
			StepNotifyResponder,
			StepLogCrisisEvent,
			StepScheduleFollowUp,
		}
	case SeverityHigh:
		return []WorkflowStep{
			StepShowEmergencyResources,
			StepLogCrisisEvent,
			StepScheduleFollowUp,
		}
	case SeveritySelfHarm:
		return []WorkflowStep{
			StepShowSupportResources,
			StepLogCrisisEvent,
			StepScheduleFollowUp,
		}
	case SeverityModerate:
		return []WorkflowStep{
			StepShowSupportResources,
			StepSuggestScreening,
		}
	default:
		return nil
	}
}
