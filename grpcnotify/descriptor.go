package grpcnotify

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// The notify.Notifier schema, assembled as a FileDescriptorProto. See
// notify.proto for the readable equivalent.

const (
	serviceName     = `notify.Notifier`
	subscribeMethod = `/notify.Notifier/Subscribe`
	readMethod      = `/notify.Notifier/Read`
	cancelMethod    = `/notify.Notifier/Cancel`
	watchMethod     = `/notify.Notifier/Watch`
)

var (
	protoFile = mustFile()

	notificationDesc      = mustMessage(`Notification`)
	subscriptionRefDesc   = mustMessage(`SubscriptionRef`)
	subscribeRequestDesc  = mustMessage(`SubscribeRequest`)
	subscribeResponseDesc = mustMessage(`SubscribeResponse`)
	readRequestDesc       = mustMessage(`ReadRequest`)
	cancelRequestDesc     = mustMessage(`CancelRequest`)
	cancelResponseDesc    = mustMessage(`CancelResponse`)
	watchRequestDesc      = mustMessage(`WatchRequest`)
)

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(`notify/notify.proto`),
		Package: proto.String(`notify`),
		Syntax:  proto.String(`proto3`),
		MessageType: []*descriptorpb.DescriptorProto{
			message(`Notification`,
				field(`id`, 1, descriptorpb.FieldDescriptorProto_TYPE_UINT64),
				field(`kind`, 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field(`timestamp`, 3, descriptorpb.FieldDescriptorProto_TYPE_INT64),
			),
			message(`SubscriptionRef`,
				field(`slot`, 1, descriptorpb.FieldDescriptorProto_TYPE_INT64),
				field(`generation`, 2, descriptorpb.FieldDescriptorProto_TYPE_UINT64),
			),
			message(`SubscribeRequest`,
				field(`filter`, 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			),
			message(`SubscribeResponse`,
				messageField(`subscription`, 1, `.notify.SubscriptionRef`),
			),
			message(`ReadRequest`,
				messageField(`subscription`, 1, `.notify.SubscriptionRef`),
			),
			message(`CancelRequest`,
				messageField(`subscription`, 1, `.notify.SubscriptionRef`),
				field(`reason`, 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			),
			message(`CancelResponse`,
				field(`already_canceled`, 1, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
			),
			message(`WatchRequest`,
				field(`filter`, 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String(`Notifier`),
			Method: []*descriptorpb.MethodDescriptorProto{
				{
					Name:       proto.String(`Subscribe`),
					InputType:  proto.String(`.notify.SubscribeRequest`),
					OutputType: proto.String(`.notify.SubscribeResponse`),
				},
				{
					Name:       proto.String(`Read`),
					InputType:  proto.String(`.notify.ReadRequest`),
					OutputType: proto.String(`.notify.Notification`),
				},
				{
					Name:       proto.String(`Cancel`),
					InputType:  proto.String(`.notify.CancelRequest`),
					OutputType: proto.String(`.notify.CancelResponse`),
				},
				{
					Name:            proto.String(`Watch`),
					InputType:       proto.String(`.notify.WatchRequest`),
					OutputType:      proto.String(`.notify.Notification`),
					ServerStreaming: proto.Bool(true),
				},
			},
		}},
	}
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{
		Name:  proto.String(name),
		Field: fields,
	}
}

func field(name string, number int32, t descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   t.Enum(),
	}
}

func messageField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := field(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	f.TypeName = proto.String(typeName)
	return f
}

func mustFile() protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(fileDescriptorProto(), nil)
	if err != nil {
		panic(err)
	}
	return fd
}

func mustMessage(name protoreflect.Name) protoreflect.MessageDescriptor {
	d := protoFile.Messages().ByName(name)
	if d == nil {
		panic(`grpcnotify: missing message descriptor: ` + name)
	}
	return d
}
