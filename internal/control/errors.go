package control

import kerrors "wasmkernel/internal/errors"

const (
	CodeUnknownCommand kerrors.Code = "CONTROL_UNKNOWN_COMMAND"
	CodeBadRequest     kerrors.Code = "CONTROL_BAD_REQUEST"
	CodeLayoutNotFound kerrors.Code = "CONTROL_LAYOUT_NOT_FOUND"
)

func init() {
	kerrors.Register(CodeUnknownCommand, kerrors.Attributes{
		Message:  "unknown control command",
		Severity: kerrors.SeverityInfo,
	})
	kerrors.Register(CodeBadRequest, kerrors.Attributes{
		Message:  "malformed control request",
		Severity: kerrors.SeverityInfo,
	})
	kerrors.Register(CodeLayoutNotFound, kerrors.Attributes{
		Message:  "dashboard layout not found",
		Severity: kerrors.SeverityInfo,
	})
}
