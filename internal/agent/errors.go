package agent

import "errors"

// ErrorCode classifies why a step did not succeed.
type ErrorCode string

const (
	CodeTimeout           ErrorCode = "timeout"
	CodeToolError         ErrorCode = "tool_error"
	CodeUnknownCapability ErrorCode = "unknown_capability"
	CodeCancelled         ErrorCode = "cancelled"
	CodePanic             ErrorCode = "panic"
	CodePolicyDenied      ErrorCode = "policy_denied"
	CodeDuplicateEffect   ErrorCode = "duplicate_effect"
	CodeUnconfirmed       ErrorCode = "unconfirmed"
)

var (
	ErrToolExecution   = errors.New("tool execution failed")
	ErrPlanningService = errors.New("planning service failed")
	ErrMalformedPlan   = errors.New("malformed plan")
	ErrNoScore         = errors.New("no outcome score")
)
