package config

import kerrors "wasmkernel/internal/errors"

// Error codes surfaced by this package, registered at init() like every
// other package's codes.
const (
	CodeNotFound  kerrors.Code = "CONFIG_NOT_FOUND"
	CodeMalformed kerrors.Code = "CONFIG_MALFORMED"
	CodeInvalid   kerrors.Code = "CONFIG_INVALID"
)

func init() {
	kerrors.Register(CodeNotFound, kerrors.Attributes{
		Message:  "configuration file not found",
		Kind:     kerrors.KindConfig,
		Severity: kerrors.SeverityCritical,
		Alert:    true,
	})
	kerrors.Register(CodeMalformed, kerrors.Attributes{
		Message:  "configuration file is not valid TOML",
		Kind:     kerrors.KindConfig,
		Severity: kerrors.SeverityCritical,
		Alert:    true,
	})
	kerrors.Register(CodeInvalid, kerrors.Attributes{
		Message:  "configuration value failed validation",
		Kind:     kerrors.KindConfig,
		Severity: kerrors.SeverityCritical,
		Alert:    true,
	})
}
