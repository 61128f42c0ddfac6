package grpcnotify

import (
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	notifyloop "github.com/nagatodev/go-notifyloop"
)

func notificationToProto(n notifyloop.Notification) *dynamicpb.Message {
	m := dynamicpb.NewMessage(notificationDesc)
	fields := notificationDesc.Fields()
	if n.ID != 0 {
		m.Set(fields.ByName(`id`), protoreflect.ValueOfUint64(n.ID))
	}
	if n.Kind != `` {
		m.Set(fields.ByName(`kind`), protoreflect.ValueOfString(n.Kind))
	}
	if n.Timestamp != 0 {
		m.Set(fields.ByName(`timestamp`), protoreflect.ValueOfInt64(n.Timestamp))
	}
	return m
}

func notificationFromProto(m protoreflect.Message) (n notifyloop.Notification) {
	fields := m.Descriptor().Fields()
	n.ID = m.Get(fields.ByName(`id`)).Uint()
	n.Kind = m.Get(fields.ByName(`kind`)).String()
	n.Timestamp = m.Get(fields.ByName(`timestamp`)).Int()
	return
}

func handleToProto(h notifyloop.Handle) *dynamicpb.Message {
	m := dynamicpb.NewMessage(subscriptionRefDesc)
	fields := subscriptionRefDesc.Fields()
	if h.Slot() != 0 {
		m.Set(fields.ByName(`slot`), protoreflect.ValueOfInt64(int64(h.Slot())))
	}
	if h.Generation() != 0 {
		m.Set(fields.ByName(`generation`), protoreflect.ValueOfUint64(h.Generation()))
	}
	return m
}

func handleFromProto(m protoreflect.Message) notifyloop.Handle {
	fields := m.Descriptor().Fields()
	return notifyloop.NewHandle(
		int(m.Get(fields.ByName(`slot`)).Int()),
		m.Get(fields.ByName(`generation`)).Uint(),
	)
}

// requestHandle extracts the subscription ref from a request message,
// returning false if the field was never set.
func requestHandle(m *dynamicpb.Message) (notifyloop.Handle, bool) {
	f := m.Descriptor().Fields().ByName(`subscription`)
	if f == nil || !m.Has(f) {
		return notifyloop.Handle{}, false
	}
	return handleFromProto(m.Get(f).Message()), true
}

func stringField(m *dynamicpb.Message, name protoreflect.Name) string {
	return m.Get(m.Descriptor().Fields().ByName(name)).String()
}
