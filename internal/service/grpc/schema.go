package grpcsvc

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// SchemaPath — имя файла схемы в реестре protobuf, повторяет
// proto/orderproc/v1/order_processor.proto.
const SchemaPath = "orderproc/v1/order_processor.proto"

const timestampType = ".google.protobuf.Timestamp"

// orderProcessorFile — дескриптор схемы OrderProcessor. Собирается при
// загрузке пакета и регистрируется в protoregistry.GlobalFiles.
var orderProcessorFile = mustBuildSchema()

// Schema возвращает дескриптор orderproc/v1/order_processor.proto.
func Schema() protoreflect.FileDescriptor {
	return orderProcessorFile
}

func mustBuildSchema() protoreflect.FileDescriptor {
	file, err := protodesc.NewFile(schemaProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("build %s: %v", SchemaPath, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(file); err != nil {
		panic(fmt.Sprintf("register %s: %v", SchemaPath, err))
	}
	return file
}

func schemaProto() *descriptorpb.FileDescriptorProto {
	const (
		typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
		typeInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
		typeInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
		typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	)

	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(SchemaPath),
		Package:    proto.String("orderproc.v1"),
		Dependency: []string{"google/protobuf/timestamp.proto"},
		Syntax:     proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("OrderItem",
				field("product_id", 1, typeString, ""),
				field("quantity", 2, typeInt32, ""),
			),
			message("ProcessOrderRequest",
				field("customer_id", 1, typeString, ""),
				repeated(field("items", 2, typeMessage, ".orderproc.v1.OrderItem")),
			),
			message("ProcessOrderResponse",
				field("order_id", 1, typeString, ""),
				field("tracking_number", 2, typeString, ""),
				field("estimated_delivery", 3, typeMessage, timestampType),
			),
			message("GetOrderRequest",
				field("order_id", 1, typeString, ""),
			),
			message("GetOrderResponse",
				field("order", 1, typeMessage, ".orderproc.v1.Order"),
			),
			message("ListOrdersRequest",
				field("customer_id", 1, typeString, ""),
				field("limit", 2, typeInt32, ""),
			),
			message("ListOrdersResponse",
				repeated(field("orders", 1, typeMessage, ".orderproc.v1.Order")),
			),
			message("Order",
				field("id", 1, typeString, ""),
				field("customer_id", 2, typeString, ""),
				repeated(field("items", 3, typeMessage, ".orderproc.v1.OrderItem")),
				field("total_quantity", 4, typeInt64, ""),
				field("order_date", 5, typeMessage, timestampType),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("OrderProcessor"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("ProcessOrder"),
				method("GetOrder"),
				method("ListOrders"),
			},
		}},
	}
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func field(name string, number int32, kind descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   kind.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String(typeName)
	}
	return f
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func method(name string) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String(".orderproc.v1." + name + "Request"),
		OutputType: proto.String(".orderproc.v1." + name + "Response"),
	}
}

// wireMessage — сообщение OrderProcessor, которое кодеки переводят
// в protobuf-представление и обратно.
type wireMessage interface {
	messageName() protoreflect.Name
	toProto(m protoreflect.Message)
	fromProto(m protoreflect.Message)
}

func newDynamic(w wireMessage) *dynamicpb.Message {
	return dynamicpb.NewMessage(orderProcessorFile.Messages().ByName(w.messageName()))
}

func toDynamic(w wireMessage) *dynamicpb.Message {
	msg := newDynamic(w)
	w.toProto(msg)
	return msg
}

func fieldOf(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	return m.Descriptor().Fields().ByName(name)
}

func setString(m protoreflect.Message, name protoreflect.Name, v string) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfString(v))
}

func getString(m protoreflect.Message, name protoreflect.Name) string {
	return m.Get(fieldOf(m, name)).String()
}

func setInt(m protoreflect.Message, name protoreflect.Name, v int64) {
	fd := fieldOf(m, name)
	if fd.Kind() == protoreflect.Int32Kind {
		m.Set(fd, protoreflect.ValueOfInt32(int32(v)))
		return
	}
	m.Set(fd, protoreflect.ValueOfInt64(v))
}

func getInt(m protoreflect.Message, name protoreflect.Name) int64 {
	return m.Get(fieldOf(m, name)).Int()
}

// setTime пишет время как google.protobuf.Timestamp; нулевое время
// оставляет поле пустым.
func setTime(m protoreflect.Message, name protoreflect.Name, t time.Time) {
	if t.IsZero() {
		return
	}
	m.Set(fieldOf(m, name), protoreflect.ValueOfMessage(timestamppb.New(t).ProtoReflect()))
}

func getTime(m protoreflect.Message, name protoreflect.Name) time.Time {
	fd := fieldOf(m, name)
	if !m.Has(fd) {
		return time.Time{}
	}
	ts := m.Get(fd).Message()
	fields := ts.Descriptor().Fields()
	return (&timestamppb.Timestamp{
		Seconds: ts.Get(fields.ByName("seconds")).Int(),
		Nanos:   int32(ts.Get(fields.ByName("nanos")).Int()),
	}).AsTime()
}

// wirePtr связывает тип сообщения с его указателем для чтения списков.
type wirePtr[T any] interface {
	*T
	wireMessage
}

func setList[P wireMessage](m protoreflect.Message, name protoreflect.Name, values []P) {
	if len(values) == 0 {
		return
	}
	list := m.Mutable(fieldOf(m, name)).List()
	for _, v := range values {
		elem := list.NewElement()
		v.toProto(elem.Message())
		list.Append(elem)
	}
}

func getList[T any, P wirePtr[T]](m protoreflect.Message, name protoreflect.Name) []P {
	list := m.Get(fieldOf(m, name)).List()
	if list.Len() == 0 {
		return nil
	}
	values := make([]P, 0, list.Len())
	for i := range list.Len() {
		v := P(new(T))
		v.fromProto(list.Get(i).Message())
		values = append(values, v)
	}
	return values
}
