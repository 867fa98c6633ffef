package plugin

import (
	"encoding/binary"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// Arguments and results cross the sandbox boundary as length-prefixed byte
// blobs written into guest linear memory: the host calls the guest's
// exported `alloc` to reserve a buffer, writes the bytes, invokes the
// target export with (ptr, len), and reads the return (ptr, len) pair back
// out of the same memory. JSON payloads are just bytes from the ABI's
// point of view; callers decide whether to marshal first.
const (
	exportAlloc    = "alloc"
	exportDealloc  = "dealloc"
	exportMemory   = "memory"
	exportMetadata = "metadata"
	exportInit     = "initialize"
	exportHandle   = "handle_message"
	exportTick     = "tick"
	exportShutdown = "shutdown"
	exportHealth   = "health_check"
	exportStats    = "get_stats"
)

// requiredExports is enforced at load time; a module missing any of these
// fails with CodeAbiMismatch before it is ever activated.
var requiredExports = []string{exportAlloc, exportDealloc, exportMemory, exportMetadata, exportInit, exportHandle}

// optionalExports are called opportunistically; their absence is treated as
// a successful no-op rather than an error.
var optionalExports = []string{exportTick, exportShutdown, exportHealth, exportStats}

// writeBytes allocates data.length bytes in guest memory via the module's
// alloc export, copies data in, and returns the guest pointer.
func writeBytes(mem *wasmer.Memory, alloc func(...interface{}) (interface{}, error), data []byte) (int32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	raw, err := alloc(int32(len(data)))
	if err != nil {
		return 0, fmt.Errorf("alloc %d bytes: %w", len(data), err)
	}
	ptr, ok := toInt32(raw)
	if !ok {
		return 0, fmt.Errorf("alloc returned non-integer result %v", raw)
	}
	buf := mem.Data()
	if int(ptr)+len(data) > len(buf) {
		return 0, fmt.Errorf("guest memory too small for %d bytes at offset %d", len(data), ptr)
	}
	copy(buf[ptr:], data)
	return ptr, nil
}

// readBytes copies len bytes out of guest memory starting at ptr.
func readBytes(mem *wasmer.Memory, ptr, length int32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	buf := mem.Data()
	if int(ptr)+int(length) > len(buf) || ptr < 0 || length < 0 {
		return nil, fmt.Errorf("guest pointer (%d, %d) out of bounds of %d-byte memory", ptr, length, len(buf))
	}
	out := make([]byte, length)
	copy(out, buf[ptr:ptr+length])
	return out, nil
}

// packResult encodes a (ptr, len) pair the way every call export returns
// one: as a single uint64 with ptr in the high 32 bits and len in the low
// 32 bits, the common wasm32 trick for smuggling two results through one
// i64 return value.
func packResult(ptr, length int32) int64 {
	return int64(binary.BigEndian.Uint64([]byte{
		byte(ptr >> 24), byte(ptr >> 16), byte(ptr >> 8), byte(ptr),
		byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length),
	}))
}

func unpackResult(packed int64) (ptr, length int32) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(packed))
	ptr = int32(binary.BigEndian.Uint32(b[0:4]))
	length = int32(binary.BigEndian.Uint32(b[4:8]))
	return ptr, length
}

func toInt32(v interface{}) (int32, bool) {
	switch n := v.(type) {
	case int32:
		return n, true
	case int64:
		return int32(n), true
	default:
		return 0, false
	}
}
