package grpcsvc

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/encoding"
	grpcproto "google.golang.org/grpc/encoding/proto"
	"google.golang.org/grpc/mem"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// CodecName — content-subtype JSON-представления (application/grpc+json).
// По умолчанию клиенты и сервер обмениваются бинарным protobuf.
const CodecName = "json"

var (
	jsonMarshal   = protojson.MarshalOptions{UseProtoNames: true}
	jsonUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}
)

func init() {
	// Стандартный кодек обслуживает всё, что не относится к OrderProcessor
	// (например, grpc.health.v1).
	encoding.RegisterCodecV2(protoCodec{fallback: encoding.GetCodecV2(grpcproto.Name)})
	encoding.RegisterCodec(jsonCodec{})
}

// protoCodec кодирует сообщения OrderProcessor в protobuf по схеме
// orderproc/v1/order_processor.proto.
type protoCodec struct {
	fallback encoding.CodecV2
}

func (c protoCodec) Marshal(v any) (mem.BufferSlice, error) {
	w, ok := v.(wireMessage)
	if !ok {
		return c.fallback.Marshal(v)
	}
	data, err := proto.Marshal(toDynamic(w))
	if err != nil {
		return nil, fmt.Errorf("proto codec marshal %T: %w", v, err)
	}
	return mem.BufferSlice{mem.SliceBuffer(data)}, nil
}

func (c protoCodec) Unmarshal(data mem.BufferSlice, v any) error {
	w, ok := v.(wireMessage)
	if !ok {
		return c.fallback.Unmarshal(data, v)
	}
	buf := data.MaterializeToBuffer(mem.DefaultBufferPool())
	defer buf.Free()

	msg := newDynamic(w)
	if err := proto.Unmarshal(buf.ReadOnlyData(), msg); err != nil {
		return fmt.Errorf("proto codec unmarshal %T: %w", v, err)
	}
	w.fromProto(msg)
	return nil
}

func (protoCodec) Name() string {
	return grpcproto.Name
}

// jsonCodec отдаёт те же сообщения в protojson с именами полей из схемы.
type jsonCodec struct{}

var errNotWireMessage = errors.New("not an OrderProcessor message")

func (jsonCodec) Marshal(v any) ([]byte, error) {
	w, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("json codec marshal %T: %w", v, errNotWireMessage)
	}
	data, err := jsonMarshal.Marshal(toDynamic(w))
	if err != nil {
		return nil, fmt.Errorf("json codec marshal %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	w, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("json codec unmarshal %T: %w", v, errNotWireMessage)
	}
	msg := newDynamic(w)
	if len(data) > 0 {
		if err := jsonUnmarshal.Unmarshal(data, msg); err != nil {
			return fmt.Errorf("json codec unmarshal %T: %w", v, err)
		}
	}
	w.fromProto(msg)
	return nil
}

func (jsonCodec) Name() string {
	return CodecName
}
