package communication

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// PayloadRegistry maps message types to the struct their JSON payload
// decodes into. Both transports share it.
type PayloadRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

func NewPayloadRegistry() *PayloadRegistry {
	return &PayloadRegistry{types: make(map[string]reflect.Type)}
}

func (r *PayloadRegistry) Register(msgType string, payloadType reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[msgType] = payloadType
}

// Decode builds msg.Payload from raw JSON. Message types registered with a
// nil payload, or raw bodies that are empty, leave Payload nil.
func (r *PayloadRegistry) Decode(msgType string, raw []byte) (any, error) {
	r.mu.RLock()
	payloadType, ok := r.types[msgType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, msgType)
	}
	if payloadType == nil || len(raw) == 0 {
		return nil, nil
	}

	payload := reflect.New(payloadType).Interface()
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadUnmarshalFailed, err)
	}
	return reflect.ValueOf(payload).Elem().Interface(), nil
}

// EncodePayload marshals an outgoing payload; nil stays nil.
func EncodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMarshalFailed, err)
	}
	return data, nil
}
