package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	kerrors "wasmkernel/internal/errors"
)

// wasmInstance adapts one instantiated wasmer module to the Instance
// interface. It is not safe for concurrent use; the Manager serializes
// every call into a given instance with a per-handle mutex.
type wasmInstance struct {
	pluginID string
	instance *wasmer.Instance
	memory   *wasmer.Memory
	alloc    wasmer.NativeFunction
	policy   ResourcePolicy
}

func (w *wasmInstance) call(export string, payload []byte) ([]byte, error) {
	fn, err := w.instance.Exports.GetFunction(export)
	if err != nil {
		return nil, kerrors.Wrap(CodeAbiMismatch, err, fmt.Sprintf("missing export %q", export))
	}
	ptr, err := writeBytes(w.memory, w.alloc, payload)
	if err != nil {
		return nil, kerrors.Wrap(CodeCrashed, err, "write guest argument")
	}
	raw, err := fn(ptr, int32(len(payload)))
	if err != nil {
		return nil, kerrors.Wrap(CodeCrashed, err, fmt.Sprintf("%s trapped", export))
	}
	packed, ok := toInt64(raw)
	if !ok {
		return nil, kerrors.New(CodeAbiMismatch, fmt.Sprintf("%s returned a non-i64 result", export))
	}
	resultPtr, resultLen := unpackResult(packed)
	out, err := readBytes(w.memory, resultPtr, resultLen)
	if err != nil {
		return nil, kerrors.Wrap(CodeAbiMismatch, err, fmt.Sprintf("read %s result", export))
	}
	w.freeGuestBuffer(resultPtr, resultLen)
	return out, nil
}

// callOptional invokes an export from optionalExports, treating a missing
// export as a successful no-op rather than an error.
func (w *wasmInstance) callOptional(export string, payload []byte) ([]byte, error) {
	if _, err := w.instance.Exports.GetFunction(export); err != nil {
		return nil, nil
	}
	return w.call(export, payload)
}

func (w *wasmInstance) freeGuestBuffer(ptr, length int32) {
	if length == 0 {
		return
	}
	dealloc, err := w.instance.Exports.GetFunction(exportDealloc)
	if err != nil {
		return
	}
	_, _ = dealloc(ptr, length)
}

func (w *wasmInstance) Metadata() (Info, error) {
	out, err := w.call(exportMetadata, nil)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(out, &info); err != nil {
		return Info{}, kerrors.Wrap(CodeAbiMismatch, err, "decode metadata")
	}
	if info.PluginID == "" {
		info.PluginID = w.pluginID
	}
	return info, nil
}

func (w *wasmInstance) Initialize(_ context.Context, config map[string]any) error {
	payload, err := json.Marshal(config)
	if err != nil {
		return kerrors.Wrap(CodeDomain, err, "encode init config")
	}
	_, err = w.call(exportInit, payload)
	return err
}

func (w *wasmInstance) HandleMessage(_ context.Context, payload []byte) error {
	_, err := w.call(exportHandle, payload)
	return err
}

func (w *wasmInstance) Tick(_ context.Context) error {
	_, err := w.callOptional(exportTick, nil)
	return err
}

func (w *wasmInstance) Shutdown(_ context.Context) error {
	_, err := w.callOptional(exportShutdown, nil)
	return err
}

func (w *wasmInstance) HealthCheck(_ context.Context) ([]byte, error) {
	return w.callOptional(exportHealth, nil)
}

func (w *wasmInstance) GetStats(_ context.Context) ([]byte, error) {
	return w.callOptional(exportStats, nil)
}

// Invoke calls export directly with payload, for control-plane-driven
// calls outside the fixed lifecycle surface. A module that does not
// export the requested function gets an AbiMismatch, not a silent no-op:
// unlike Tick/Shutdown/HealthCheck/GetStats, an operator-requested export
// name is expected to exist.
func (w *wasmInstance) Invoke(_ context.Context, export string, payload []byte) ([]byte, error) {
	return w.call(export, payload)
}

// Close releases the wasmer instance. wasmer-go instances are cleaned up
// by the Go garbage collector's finalizers, but dropping the reference
// here makes the lifecycle explicit and frees memory promptly under load.
func (w *wasmInstance) Close() error {
	w.instance.Close()
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}
