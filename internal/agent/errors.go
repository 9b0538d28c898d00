package agent

import xerrors "AgentStep/internal/errors"

const (
	CodeInvalidDetermination xerrors.Code = "INVALID_DETERMINATION"
	CodeInvalidPlan          xerrors.Code = "INVALID_PLAN"
	CodeNoPendingAbility     xerrors.Code = "NO_PENDING_ABILITY"
	CodeUnknownAbility       xerrors.Code = "UNKNOWN_ABILITY"
	CodeWorkspaceExists      xerrors.Code = "WORKSPACE_EXISTS"
	CodeWorkspaceInvalid     xerrors.Code = "WORKSPACE_INVALID"
)

func init() {
	xerrors.Register(CodeInvalidDetermination, xerrors.Attributes{
		Message:  "invalid ability determination",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeInvalidPlan, xerrors.Attributes{
		Message:   "invalid plan",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeNoPendingAbility, xerrors.Attributes{
		Message:  "no ability queued for execution",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeUnknownAbility, xerrors.Attributes{
		Message:  "unknown ability",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeWorkspaceExists, xerrors.Attributes{
		Message:  "workspace already provisioned",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeWorkspaceInvalid, xerrors.Attributes{
		Message:  "workspace is missing or corrupt",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}
