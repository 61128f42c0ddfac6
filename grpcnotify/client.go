package grpcnotify

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	notifyloop "github.com/nagatodev/go-notifyloop"
)

type (
	// Client is a thin notify.Notifier client, over any
	// grpc.ClientConnInterface.
	Client struct {
		cc grpc.ClientConnInterface
	}

	// Watch is an open server-side push stream, see [Client.Watch].
	Watch struct {
		cs grpc.ClientStream
	}
)

var watchStreamDesc = grpc.StreamDesc{
	StreamName:    `Watch`,
	ServerStreams: true,
}

// NewClient initialises a [Client] over the given connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Subscribe allocates a pull subscription, returning its handle, for use
// with [Client.Read] and [Client.Cancel].
func (x *Client) Subscribe(ctx context.Context, filter string) (notifyloop.Handle, error) {
	req := dynamicpb.NewMessage(subscribeRequestDesc)
	if filter != `` {
		req.Set(subscribeRequestDesc.Fields().ByName(`filter`), protoreflect.ValueOfString(filter))
	}
	resp := dynamicpb.NewMessage(subscribeResponseDesc)
	if err := x.cc.Invoke(ctx, subscribeMethod, req, resp); err != nil {
		return notifyloop.Handle{}, err
	}
	return handleFromProto(resp.Get(subscribeResponseDesc.Fields().ByName(`subscription`)).Message()), nil
}

// Read blocks for the server's read interval, then returns the
// subscription's next notification. It returns [io.EOF] once the
// subscription has been cancelled (and its remaining state may be released
// server side); any other failure is a gRPC status error, e.g.
// codes.NotFound for a stale handle.
func (x *Client) Read(ctx context.Context, h notifyloop.Handle) (notifyloop.Notification, error) {
	req := dynamicpb.NewMessage(readRequestDesc)
	req.Set(readRequestDesc.Fields().ByName(`subscription`), protoreflect.ValueOfMessage(handleToProto(h)))
	resp := dynamicpb.NewMessage(notificationDesc)
	if err := x.cc.Invoke(ctx, readMethod, req, resp); err != nil {
		if status.Code(err) == codes.FailedPrecondition {
			return notifyloop.Notification{}, io.EOF
		}
		return notifyloop.Notification{}, err
	}
	return notificationFromProto(resp), nil
}

// Cancel ends a pull subscription. Idempotent: already reports whether it
// was cancelled (or released) previously.
func (x *Client) Cancel(ctx context.Context, h notifyloop.Handle, reason string) (already bool, _ error) {
	req := dynamicpb.NewMessage(cancelRequestDesc)
	req.Set(cancelRequestDesc.Fields().ByName(`subscription`), protoreflect.ValueOfMessage(handleToProto(h)))
	if reason != `` {
		req.Set(cancelRequestDesc.Fields().ByName(`reason`), protoreflect.ValueOfString(reason))
	}
	resp := dynamicpb.NewMessage(cancelResponseDesc)
	if err := x.cc.Invoke(ctx, cancelMethod, req, resp); err != nil {
		return false, err
	}
	return resp.Get(cancelResponseDesc.Fields().ByName(`already_canceled`)).Bool(), nil
}

// Watch opens a push stream. Notifications flow until ctx is cancelled, or
// the server goes away; end the watch by cancelling ctx.
func (x *Client) Watch(ctx context.Context, filter string) (*Watch, error) {
	cs, err := x.cc.NewStream(ctx, &watchStreamDesc, watchMethod)
	if err != nil {
		return nil, err
	}
	req := dynamicpb.NewMessage(watchRequestDesc)
	if filter != `` {
		req.Set(watchRequestDesc.Fields().ByName(`filter`), protoreflect.ValueOfString(filter))
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &Watch{cs: cs}, nil
}

// Recv blocks until the next pushed notification.
func (x *Watch) Recv() (notifyloop.Notification, error) {
	m := dynamicpb.NewMessage(notificationDesc)
	if err := x.cs.RecvMsg(m); err != nil {
		return notifyloop.Notification{}, err
	}
	return notificationFromProto(m), nil
}
