package grpcnotify

import (
	"context"
	"io"

	bigbuff "github.com/joeycumines/go-bigbuff"
	"github.com/joeycumines/logiface"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	notifyloop "github.com/nagatodev/go-notifyloop"
)

type (
	// Server implements the notify.Notifier service, on top of a
	// notifyloop runtime it owns: a single control loop, a pull registry
	// (with one per-subscription stream each, for Read), and a dispatch
	// loop (for Watch).
	//
	// All registry and stream-table access is funnelled through the loop;
	// transport goroutines only ever block on their own reads and sends.
	//
	// Server must be constructed with NewServer, registered via
	// [Server.Register], and driven via [Server.Run].
	Server struct {
		logger   *logiface.Logger[logiface.Event]
		loop     *notifyloop.Loop
		dispatch *notifyloop.DispatchLoop
		pull     *notifyloop.Registry
		// streams maps pull subscription handles to their streams. Owned by
		// the loop goroutine. Entries outlive cancellation, so a Read can
		// still observe end-of-stream; they are removed by that read, or,
		// failing that, collected by a later sweep.
		streams    map[notifyloop.Handle]*pullState
		notifier   bigbuff.Notifier
		streamOpts []notifyloop.Option
	}

	// pullState is a stream-table entry. Loop-owned, like the table itself.
	pullState struct {
		stream *notifyloop.Stream
		// doomed marks an entry observed cancelled by a sweep; the next
		// sweep removes it, so there is always at least one sweep's worth
		// of window for a final Read.
		doomed bool
	}

	// notifierServer is the contract the hand-built service descriptor
	// dispatches against.
	notifierServer interface {
		subscribe(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
		read(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
		cancel(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
		watch(req *dynamicpb.Message, stream grpc.ServerStream) error
	}
)

var (
	_ notifierServer = (*Server)(nil)
)

// ServiceDesc is the grpc.ServiceDesc for the notify.Notifier service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*notifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: `Subscribe`, Handler: subscribeHandler},
		{MethodName: `Read`, Handler: readHandler},
		{MethodName: `Cancel`, Handler: cancelHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: `Watch`, Handler: watchHandler, ServerStreams: true},
	},
	Metadata: `notify/notify.proto`,
}

// NewServer initialises a [Server], with the given options.
func NewServer(options ...Option) (*Server, error) {
	c, err := newConfig(options)
	if err != nil {
		return nil, err
	}

	var base []notifyloop.Option
	if c.logger != nil {
		base = append(base, notifyloop.WithLogger(c.logger))
	}
	if c.timer != nil {
		base = append(base, notifyloop.WithTimerSource(c.timer))
	}
	if c.deliveryTimeout != 0 {
		base = append(base, notifyloop.WithDeliveryTimeout(c.deliveryTimeout))
	}
	if c.failureLimit != 0 {
		base = append(base, notifyloop.WithFailureLimit(c.failureLimit))
	}
	base = base[:len(base):len(base)]

	loop, err := notifyloop.NewLoop(base...)
	if err != nil {
		return nil, err
	}

	pull, err := notifyloop.NewRegistry(append(base, notifyloop.WithKind(c.readKind))...)
	if err != nil {
		return nil, err
	}

	dispatchOpts := append(base,
		notifyloop.WithKind(c.watchKind),
		notifyloop.WithLoop(loop),
	)
	if c.dispatchInterval != 0 {
		dispatchOpts = append(dispatchOpts, notifyloop.WithInterval(c.dispatchInterval))
	}
	dispatch, err := notifyloop.NewDispatchLoop(dispatchOpts...)
	if err != nil {
		return nil, err
	}

	streamOpts := append(base, notifyloop.WithKind(c.readKind))
	if c.readInterval != 0 {
		streamOpts = append(streamOpts, notifyloop.WithInterval(c.readInterval))
	}

	return &Server{
		logger:     c.logger,
		loop:       loop,
		dispatch:   dispatch,
		pull:       pull,
		streams:    make(map[notifyloop.Handle]*pullState),
		streamOpts: streamOpts,
	}, nil
}

// Register registers the notify.Notifier service implementation.
func (x *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&ServiceDesc, x)
}

// Run starts the dispatch tick and runs the control loop, blocking until ctx
// is cancelled. RPCs received while Run is not in flight block (until their
// own contexts are done), rather than failing.
func (x *Server) Run(ctx context.Context) error {
	x.dispatch.Start(ctx)
	defer x.dispatch.Cancel(`server stopped`)
	return x.loop.Run(ctx)
}

// sweep collects stream-table entries for subscriptions that were already
// cancelled as of the previous sweep, then prunes the pull registry. Entries
// cancelled more recently are only marked, so a final Read still has a
// window to observe end-of-stream. Must run on the loop.
func (x *Server) sweep() {
	for h, state := range x.streams {
		if !state.stream.Subscription().Canceled() {
			continue
		}
		if state.doomed {
			delete(x.streams, h)
		} else {
			state.doomed = true
		}
	}
	x.pull.Prune()
}

func (x *Server) subscribe(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	filter := stringField(req, `filter`)

	h, err := notifyloop.Do(ctx, x.loop, func(context.Context) (notifyloop.Handle, error) {
		x.sweep()
		sub := x.pull.Subscribe(filter, notifyloop.EndpointFunc(pullEndpoint))
		stream, err := notifyloop.NewStream(sub, x.streamOpts...)
		if err != nil {
			sub.Cancel()
			return notifyloop.Handle{}, err
		}
		x.streams[sub.Handle()] = &pullState{stream: stream}
		return sub.Handle(), nil
	})
	if err != nil {
		return nil, err
	}

	resp := dynamicpb.NewMessage(subscribeResponseDesc)
	resp.Set(
		subscribeResponseDesc.Fields().ByName(`subscription`),
		protoreflect.ValueOfMessage(handleToProto(h)),
	)
	return resp, nil
}

func (x *Server) read(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	h, ok := requestHandle(req)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, `subscription ref required`)
	}

	stream, err := notifyloop.Do(ctx, x.loop, func(context.Context) (*notifyloop.Stream, error) {
		state := x.streams[h]
		if state == nil {
			return nil, status.Error(codes.NotFound, `unknown subscription`)
		}
		return state.stream, nil
	})
	if err != nil {
		return nil, err
	}

	// the wait happens off-loop; concurrent reads on one subscription are
	// serialized by the stream itself
	n, err := stream.Read(ctx)
	if err == io.EOF {
		_ = x.loop.Do(ctx, func(context.Context) error {
			delete(x.streams, h)
			x.pull.Prune()
			return nil
		})
		return nil, status.Error(codes.FailedPrecondition, `subscription ended`)
	}
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}
	return notificationToProto(n), nil
}

func (x *Server) cancel(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	h, ok := requestHandle(req)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, `subscription ref required`)
	}
	reason := stringField(req, `reason`)

	already, err := notifyloop.Do(ctx, x.loop, func(context.Context) (bool, error) {
		state := x.streams[h]
		if state == nil {
			// long gone (or never existed); cancelling is idempotent
			return true, nil
		}
		sub := state.stream.Subscription()
		already := sub.Canceled()
		sub.Cancel()
		x.sweep()
		return already, nil
	})
	if err != nil {
		return nil, err
	}

	if b := x.logger.Info(); b.Enabled() {
		b.Int(`slot`, h.Slot()).
			Uint64(`gen`, h.Generation()).
			Str(`reason`, reason).
			Bool(`already`, already).
			Log(`cancel requested`)
	}

	resp := dynamicpb.NewMessage(cancelResponseDesc)
	if already {
		resp.Set(
			cancelResponseDesc.Fields().ByName(`already_canceled`),
			protoreflect.ValueOfBool(true),
		)
	}
	return resp, nil
}

func (x *Server) watch(req *dynamicpb.Message, ss grpc.ServerStream) error {
	ctx := ss.Context()
	filter := stringField(req, `filter`)

	// register a push endpoint which relays ticks into the notifier hub,
	// keyed by the subscription's own handle
	sub, err := notifyloop.Do(ctx, x.loop, func(context.Context) (*notifyloop.Subscription, error) {
		var h notifyloop.Handle
		sub := x.dispatch.Registry().Subscribe(filter, notifyloop.EndpointFunc(func(ctx context.Context, n notifyloop.Notification) error {
			x.notifier.PublishContext(ctx, h, n)
			return ctx.Err()
		}))
		h = sub.Handle()
		return sub, nil
	})
	if err != nil {
		return err
	}
	defer sub.Cancel()

	target := make(chan notifyloop.Notification)
	release := x.notifier.SubscribeCancel(ctx, sub.Handle(), target)
	defer release()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-target:
			if err := ss.SendMsg(notificationToProto(n)); err != nil {
				return err
			}
		}
	}
}

// the pull registry is never ticked; its entries exist for handle
// bookkeeping and liveness only
func pullEndpoint(ctx context.Context, n notifyloop.Notification) error { return nil }

func subscribeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(subscribeRequestDesc)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(notifierServer).subscribe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: subscribeMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(notifierServer).subscribe(ctx, req.(*dynamicpb.Message))
	})
}

func readHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(readRequestDesc)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(notifierServer).read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: readMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(notifierServer).read(ctx, req.(*dynamicpb.Message))
	})
}

func cancelHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(cancelRequestDesc)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(notifierServer).cancel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: cancelMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(notifierServer).cancel(ctx, req.(*dynamicpb.Message))
	})
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := dynamicpb.NewMessage(watchRequestDesc)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(notifierServer).watch(in, stream)
}
