package plugin

import (
	"fmt"
	"os"

	"github.com/wasmerio/wasmer-go/wasmer"

	kerrors "wasmkernel/internal/errors"
	"wasmkernel/internal/bridge"
)

// Loader resolves a .wasm module on disk into a running Instance. Kept as
// an interface so manager tests can inject a fake loader instead of
// compiling real WASM binaries.
type Loader interface {
	Load(path string, callerID string, calls bridge.Calls, policy ResourcePolicy) (Instance, error)
}

// WasmLoader compiles and instantiates guest modules with wasmer-go,
// wiring the bridge's host functions in as the module's only imports.
type WasmLoader struct {
	engine *wasmer.Engine
}

// NewWasmLoader constructs a WasmLoader with a fresh wasmer engine. One
// engine is safe to share across every module the loader compiles.
func NewWasmLoader() *WasmLoader {
	return &WasmLoader{engine: wasmer.NewEngine()}
}

// Load reads path, compiles it, binds the host import namespace "env" to
// calls, and instantiates the module. It does not call any export; that is
// the Manager's job once the instance is registered.
func (l *WasmLoader) Load(path string, callerID string, calls bridge.Calls, policy ResourcePolicy) (Instance, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, kerrors.Wrap(CodeLoadFailed, err, fmt.Sprintf("read module %s", path))
	}
	if !looksLikeWasm(wasmBytes) {
		return nil, kerrors.New(CodeLoadFailed, fmt.Sprintf("%s is not a wasm module", path))
	}

	store := wasmer.NewStore(l.engine)
	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, kerrors.Wrap(CodeLoadFailed, err, "compile module")
	}
	hostNames := map[string]bool{
		"log_host": true, "store_data_host": true, "get_data_host": true, "delete_data_host": true, "list_keys_host": true,
		"send_message_host": true, "publish_message_host": true, "subscribe_topic_host": true, "unsubscribe_topic_host": true,
	}
	for _, imp := range module.Imports() {
		if imp.Module() != "env" || !hostNames[imp.Name()] {
			return nil, kerrors.New(CodeAbiMismatch, fmt.Sprintf("module imports %s.%s, which is not a host function", imp.Module(), imp.Name()))
		}
	}

	imports, holder := newHostImports(store, callerID, calls)
	instance, err := wasmer.NewInstance(module, imports)
	if err != nil {
		return nil, kerrors.Wrap(CodeLoadFailed, err, "instantiate module")
	}

	for _, name := range requiredExports {
		if name == exportMemory {
			continue // checked below with GetMemory
		}
		if _, err := instance.Exports.GetFunction(name); err != nil {
			return nil, kerrors.Wrap(CodeAbiMismatch, err, fmt.Sprintf("missing required export %q", name))
		}
	}
	mem, err := instance.Exports.GetMemory(exportMemory)
	if err != nil {
		return nil, kerrors.Wrap(CodeAbiMismatch, err, "module does not export linear memory")
	}
	alloc, err := instance.Exports.GetFunction(exportAlloc)
	if err != nil {
		return nil, kerrors.Wrap(CodeAbiMismatch, err, "module does not export alloc")
	}
	holder.mem = mem
	holder.allocate = alloc

	return &wasmInstance{
		pluginID: callerID,
		instance: instance,
		memory:   mem,
		alloc:    alloc,
		policy:   policy,
	}, nil
}

// looksLikeWasm checks the 4-byte magic number ("\0asm") every module
// starts with, so a misnamed file fails fast with a clear error instead of
// a cryptic parse failure deep in wasmer.
func looksLikeWasm(b []byte) bool {
	return len(b) >= 4 && b[0] == 0x00 && b[1] == 0x61 && b[2] == 0x73 && b[3] == 0x6d
}
