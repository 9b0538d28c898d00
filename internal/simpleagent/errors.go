package simpleagent

import xerrors "AgentStep/internal/errors"

const (
	CodeLLMFailure      xerrors.Code = "LLM_FAILURE"
	CodeInvalidResponse xerrors.Code = "INVALID_LLM_RESPONSE"
)

func init() {
	xerrors.Register(CodeLLMFailure, xerrors.Attributes{
		Message:   "language model call failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeInvalidResponse, xerrors.Attributes{
		Message:   "language model reply could not be used",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}
