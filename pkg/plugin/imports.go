package plugin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wasmerio/wasmer-go/wasmer"

	"wasmkernel/internal/bridge"
	"wasmkernel/internal/bus"
)

// memoryHolder lets host functions reach the guest's linear memory even
// though that memory only exists once wasmer.NewInstance returns, after
// the import object (and the closures below) must already be built.
type memoryHolder struct {
	mem      *wasmer.Memory
	allocate func(...interface{}) (interface{}, error)
}

// newHostImports builds the "env" import namespace a guest module links
// against: one host function per Calls entry, each bound to callerID via
// the closures bridge.Bridge.ForCaller already produced. The returned
// holder is populated by the caller once the instance (and therefore its
// memory and alloc export) exist.
func newHostImports(store *wasmer.Store, callerID string, calls bridge.Calls) (*wasmer.ImportObject, *memoryHolder) {
	imports := wasmer.NewImportObject()
	holder := &memoryHolder{}

	hostLog := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			level := readArgString(holder.mem, args[0], args[1])
			msg := readArgString(holder.mem, args[2], args[3])
			calls.Log(level, msg)
			return nil, nil
		},
	)

	hostStoreData := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			key := readArgString(holder.mem, args[0], args[1])
			value := readArgBytes(holder.mem, args[2], args[3])
			err := calls.StoreData(context.Background(), key, json.RawMessage(value))
			return []wasmer.Value{wasmer.NewI32(statusOf(err))}, nil
		},
	)

	hostGetData := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32), wasmer.NewValueTypes(wasmer.I64)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			key := readArgString(holder.mem, args[0], args[1])
			value, ok, err := calls.GetData(context.Background(), key)
			if err != nil || !ok {
				return []wasmer.Value{wasmer.NewI64(packResult(0, 0))}, nil
			}
			ptr, werr := writeBytes(holder.mem, allocFn(holder), value)
			if werr != nil {
				return []wasmer.Value{wasmer.NewI64(packResult(0, 0))}, nil
			}
			return []wasmer.Value{wasmer.NewI64(packResult(ptr, int32(len(value))))}, nil
		},
	)

	hostDeleteData := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			key := readArgString(holder.mem, args[0], args[1])
			_, err := calls.DeleteData(context.Background(), key)
			return []wasmer.Value{wasmer.NewI32(statusOf(err))}, nil
		},
	)

	hostListKeys := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes(wasmer.I64)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			keys, err := calls.ListKeys(context.Background())
			if err != nil {
				return []wasmer.Value{wasmer.NewI64(packResult(0, 0))}, nil
			}
			encoded, merr := json.Marshal(keys)
			if merr != nil {
				return []wasmer.Value{wasmer.NewI64(packResult(0, 0))}, nil
			}
			ptr, werr := writeBytes(holder.mem, allocFn(holder), encoded)
			if werr != nil {
				return []wasmer.Value{wasmer.NewI64(packResult(0, 0))}, nil
			}
			return []wasmer.Value{wasmer.NewI64(packResult(ptr, int32(len(encoded))))}, nil
		},
	)

	hostSendMessage := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			to := readArgString(holder.mem, args[0], args[1])
			payload := readArgBytes(holder.mem, args[2], args[3])
			priority := priorityOf(args[4].I32())
			ttl := time.Duration(args[5].I32()) * time.Millisecond
			err := calls.SendMessage(context.Background(), to, json.RawMessage(payload), priority, ttl)
			return []wasmer.Value{wasmer.NewI32(statusOf(err))}, nil
		},
	)

	hostPublishMessage := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			topic := readArgString(holder.mem, args[0], args[1])
			payload := readArgBytes(holder.mem, args[2], args[3])
			priority := priorityOf(args[4].I32())
			ttl := time.Duration(args[5].I32()) * time.Millisecond
			err := calls.PublishMessage(context.Background(), topic, json.RawMessage(payload), priority, ttl)
			return []wasmer.Value{wasmer.NewI32(statusOf(err))}, nil
		},
	)

	hostSubscribeTopic := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			topic := readArgString(holder.mem, args[0], args[1])
			err := calls.SubscribeTopic(context.Background(), topic)
			return []wasmer.Value{wasmer.NewI32(statusOf(err))}, nil
		},
	)

	hostUnsubscribeTopic := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			topic := readArgString(holder.mem, args[0], args[1])
			err := calls.UnsubscribeTopic(context.Background(), topic)
			return []wasmer.Value{wasmer.NewI32(statusOf(err))}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"log_host":               hostLog,
		"store_data_host":        hostStoreData,
		"get_data_host":          hostGetData,
		"delete_data_host":       hostDeleteData,
		"list_keys_host":         hostListKeys,
		"send_message_host":      hostSendMessage,
		"publish_message_host":   hostPublishMessage,
		"subscribe_topic_host":   hostSubscribeTopic,
		"unsubscribe_topic_host": hostUnsubscribeTopic,
	})
	return imports, holder
}

func readArgString(mem *wasmer.Memory, ptr, length wasmer.Value) string {
	return string(readArgBytes(mem, ptr, length))
}

func readArgBytes(mem *wasmer.Memory, ptr, length wasmer.Value) []byte {
	if mem == nil {
		return nil
	}
	b, err := readBytes(mem, ptr.I32(), length.I32())
	if err != nil {
		return nil
	}
	return b
}

// allocFn defers to the guest's own alloc export so host-written return
// buffers are freed the same way guest-written ones are: by the guest's
// dealloc, once it is done reading them.
func allocFn(holder *memoryHolder) func(...interface{}) (interface{}, error) {
	return func(args ...interface{}) (interface{}, error) {
		if holder.allocate == nil {
			return int32(0), nil
		}
		return holder.allocate(args...)
	}
}

func statusOf(err error) int32 {
	if err != nil {
		return 1
	}
	return 0
}

func priorityOf(raw int32) bus.Priority {
	switch raw {
	case 0:
		return bus.PriorityLow
	case 2:
		return bus.PriorityHigh
	case 3:
		return bus.PriorityCritical
	default:
		return bus.PriorityNormal
	}
}
