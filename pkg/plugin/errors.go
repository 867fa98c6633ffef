package plugin

import kerrors "wasmkernel/internal/errors"

// Error codes for the plugin runtime, subdivided into Load, Abi, Trap, and
// Domain subkinds, registered at init().
const (
	CodeLoadFailed    kerrors.Code = "PLUGIN_LOAD_FAILED"
	CodeAbiMismatch   kerrors.Code = "PLUGIN_ABI_MISMATCH"
	CodeCrashed       kerrors.Code = "PLUGIN_CRASHED"
	CodeDomain        kerrors.Code = "PLUGIN_DOMAIN_ERROR"
	CodeNotRegistered kerrors.Code = "PLUGIN_NOT_REGISTERED"
	CodePaused        kerrors.Code = "PLUGIN_PAUSED"
)

func init() {
	kerrors.Register(CodeLoadFailed, kerrors.Attributes{
		Message:  "plugin failed to load",
		Kind:     kerrors.KindPlugin,
		Subkind:  kerrors.SubkindLoad,
		Severity: kerrors.SeverityWarning,
		Alert:    true,
	})
	kerrors.Register(CodeAbiMismatch, kerrors.Attributes{
		Message:  "plugin imports or exports do not match the host ABI",
		Kind:     kerrors.KindPlugin,
		Subkind:  kerrors.SubkindAbi,
		Severity: kerrors.SeverityWarning,
		Alert:    true,
	})
	kerrors.Register(CodeCrashed, kerrors.Attributes{
		Message:   "plugin trapped during an activation",
		Kind:      kerrors.KindPlugin,
		Subkind:   kerrors.SubkindTrap,
		Severity:  kerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	kerrors.Register(CodeDomain, kerrors.Attributes{
		Message:  "plugin call failed",
		Kind:     kerrors.KindPlugin,
		Subkind:  kerrors.SubkindDomain,
		Severity: kerrors.SeverityInfo,
	})
	kerrors.Register(CodeNotRegistered, kerrors.Attributes{
		Message:  "plugin not registered",
		Kind:     kerrors.KindPlugin,
		Severity: kerrors.SeverityInfo,
	})
	kerrors.Register(CodePaused, kerrors.Attributes{
		Message:  "plugin is paused",
		Kind:     kerrors.KindPlugin,
		Severity: kerrors.SeverityInfo,
	})
}
