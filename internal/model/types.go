package model

// Status is the task state machine. AwaitingConfirm is entered when the
// platform requires a dialog confirmation before the operation executes;
// after the dialog is submitted the task returns to Submitted.
type Status string

const (
	StatusNotStarted      Status = "NOT_STARTED"
	StatusSubmitted       Status = "SUBMITTED"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusAwaitingConfirm Status = "AWAITING_CONFIRMATION"
	StatusSuccess         Status = "SUCCESS"
	StatusFailure         Status = "FAILURE"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Active reports whether a task in state s is eligible for event correlation.
func (s Status) Active() bool {
	return s == StatusSubmitted || s == StatusInProgress || s == StatusAwaitingConfirm
}

// Action is the logical operation kind of a task.
type Action string

const (
	ActionImagine     Action = "IMAGINE"
	ActionUpscale     Action = "UPSCALE"
	ActionVariation   Action = "VARIATION"
	ActionReroll      Action = "REROLL"
	ActionDescribe    Action = "DESCRIBE"
	ActionBlend       Action = "BLEND"
	ActionShorten     Action = "SHORTEN"
	ActionPan         Action = "PAN"
	ActionZoom        Action = "ZOOM"
	ActionInpaint     Action = "INPAINT"
	ActionShow        Action = "SHOW"
	ActionSeed        Action = "SEED"
	ActionVideo       Action = "VIDEO"
	ActionVideoExtend Action = "VIDEO_EXTEND"
	ActionCustom      Action = "ACTION"
)

// BotVariant identifies which bot serves a task. A task may be requested
// for one variant but served by another under the variant-aliasing policy
// (RealVariant differs from Variant).
type BotVariant string

const (
	VariantMidjourney BotVariant = "MID_JOURNEY"
	VariantNiji       BotVariant = "NIJI_JOURNEY"
)

// Button is a follow-up action discoverable on a finished result.
type Button struct {
	CustomID string `json:"customId"`
	Emoji    string `json:"emoji"`
	Label    string `json:"label"`
	Style    int    `json:"style"`
	Type     int    `json:"type"`
}

// Filter narrows instance selection.
type Filter struct {
	InstanceIDs []string `json:"instanceIds,omitempty"`
	Modes       []string `json:"modes,omitempty"`
	Remix       *bool    `json:"remix,omitempty"`
}

// SubmitCode classifies the outcome of a façade submission.
type SubmitCode int

const (
	CodeSuccess         SubmitCode = 1
	CodeInQueue         SubmitCode = 2
	CodeExisted         SubmitCode = 21 // awaiting dialog confirmation
	CodeNotFound        SubmitCode = 3
	CodeValidationError SubmitCode = 4
	CodeFailure         SubmitCode = 9
)

// SubmitResult is the only thing a façade operation returns to its caller.
// Platform and network failures are folded into Code + Description and never
// escape as raw errors.
type SubmitResult struct {
	Code        SubmitCode        `json:"code"`
	Description string            `json:"description"`
	Result      string            `json:"result,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// SetProperty attaches a caller-visible property, e.g. the final prompt a
// client must echo back on dialog confirmation.
func (r SubmitResult) SetProperty(key, value string) SubmitResult {
	if r.Properties == nil {
		r.Properties = map[string]string{}
	}
	r.Properties[key] = value
	return r
}

// SubmitOK builds a success result.
func SubmitOK(code SubmitCode, description, result string) SubmitResult {
	return SubmitResult{Code: code, Description: description, Result: result}
}

// SubmitFail builds a failure result.
func SubmitFail(code SubmitCode, description string) SubmitResult {
	return SubmitResult{Code: code, Description: description}
}

// LogicError surfaces administrative operation failures (account settings
// sync and the like); the one place the service layer returns an error
// instead of a result code.
type LogicError struct {
	Message string
}

func (e *LogicError) Error() string { return e.Message }

// NewLogicError creates a LogicError with the given message.
func NewLogicError(message string) *LogicError {
	return &LogicError{Message: message}
}
