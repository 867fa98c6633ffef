package store

import kerrors "wasmkernel/internal/errors"

// Error codes for the store subsystem.
const (
	CodeUnavailable kerrors.Code = "STORE_UNAVAILABLE"
	CodeCorrupt     kerrors.Code = "STORE_CORRUPT"
	CodeNotFound    kerrors.Code = "STORE_NOT_FOUND"
)

func init() {
	kerrors.Register(CodeUnavailable, kerrors.Attributes{
		Message:  "store is unavailable",
		Kind:     kerrors.KindStore,
		Severity: kerrors.SeverityCritical,
		Alert:    true,
	})
	kerrors.Register(CodeCorrupt, kerrors.Attributes{
		Message:  "store schema does not match what the kernel expects",
		Kind:     kerrors.KindStore,
		Severity: kerrors.SeverityCritical,
		Alert:    true,
	})
	kerrors.Register(CodeNotFound, kerrors.Attributes{
		Message:  "no such row",
		Kind:     kerrors.KindStore,
		Severity: kerrors.SeverityInfo,
	})
}
