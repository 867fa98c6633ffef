package identity

import kerrors "wasmkernel/internal/errors"

// Error codes for the identity subsystem, registered at init() the same way
// the kernel's other packages register their codes.
const (
	CodeUnavailable kerrors.Code = "IDENTITY_UNAVAILABLE"
	CodeCorrupt     kerrors.Code = "IDENTITY_CORRUPT"
	CodeTimeout     kerrors.Code = "IDENTITY_TIMEOUT"
)

func init() {
	kerrors.Register(CodeUnavailable, kerrors.Attributes{
		Message:  "no identity source produced a usable key and generation is disallowed",
		Kind:     kerrors.KindIdentity,
		Severity: kerrors.SeverityCritical,
		Alert:    true,
	})
	kerrors.Register(CodeCorrupt, kerrors.Attributes{
		Message:  "loaded identity material is not 32 decodable bytes",
		Kind:     kerrors.KindIdentity,
		Severity: kerrors.SeverityCritical,
		Alert:    true,
	})
	kerrors.Register(CodeTimeout, kerrors.Attributes{
		Message:  "credential store access exceeded the configured deadline",
		Kind:     kerrors.KindIdentity,
		Severity: kerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}
