package bus

import kerrors "wasmkernel/internal/errors"

// Error codes for the message bus.
const (
	CodeNoSuchPlugin   kerrors.Code = "BUS_NO_SUCH_PLUGIN"
	CodeQueueFull      kerrors.Code = "BUS_QUEUE_FULL"
	CodeMessageExpired kerrors.Code = "BUS_MESSAGE_EXPIRED"
	CodeCancelled      kerrors.Code = "BUS_CANCELLED"
)

func init() {
	kerrors.Register(CodeNoSuchPlugin, kerrors.Attributes{
		Message:  "no such plugin",
		Kind:     kerrors.KindBus,
		Severity: kerrors.SeverityInfo,
	})
	kerrors.Register(CodeQueueFull, kerrors.Attributes{
		Message:  "receiver queue full",
		Kind:     kerrors.KindBus,
		Severity: kerrors.SeverityInfo,
	})
	kerrors.Register(CodeMessageExpired, kerrors.Attributes{
		Message:  "message expired before delivery",
		Kind:     kerrors.KindBus,
		Severity: kerrors.SeverityInfo,
	})
	kerrors.Register(CodeCancelled, kerrors.Attributes{
		Message:  "send cancelled",
		Kind:     kerrors.KindBus,
		Severity: kerrors.SeverityInfo,
	})
}
