// Command notifyd serves the notify.Notifier gRPC service, generating
// notifications for pull and push subscribers until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"google.golang.org/grpc"

	notifyloop "github.com/nagatodev/go-notifyloop"
	"github.com/nagatodev/go-notifyloop/grpcnotify"
)

func main() {
	var (
		addr             = flag.String(`addr`, `:8675`, `listen address`)
		dispatchInterval = flag.Duration(`dispatch-interval`, notifyloop.DefaultInterval, `push dispatch tick period`)
		readInterval     = flag.Duration(`read-interval`, notifyloop.DefaultStreamInterval, `pull read wait`)
		watchKind        = flag.String(`watch-kind`, grpcnotify.DefaultWatchKind, `kind tag for pushed notifications`)
		readKind         = flag.String(`read-kind`, grpcnotify.DefaultReadKind, `kind tag for pulled notifications`)
		logLevel         = flag.String(`log-level`, `info`, `log level (trace, debug, info, notice, warning, err, disabled)`)
	)
	flag.Parse()

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(level),
	).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *addr, *dispatchInterval, *readInterval, *watchKind, *readKind); err != nil && ctx.Err() == nil {
		logger.Err().Err(err).Log(`notifyd exited`)
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	logger *logiface.Logger[logiface.Event],
	addr string,
	dispatchInterval, readInterval time.Duration,
	watchKind, readKind string,
) error {
	server, err := grpcnotify.NewServer(
		grpcnotify.WithLogger(logger),
		grpcnotify.WithDispatchInterval(dispatchInterval),
		grpcnotify.WithReadInterval(readInterval),
		grpcnotify.WithWatchKind(watchKind),
		grpcnotify.WithReadKind(readKind),
	)
	if err != nil {
		return err
	}

	lis, err := net.Listen(`tcp`, addr)
	if err != nil {
		return err
	}

	srv := grpc.NewServer()
	server.Register(srv)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(lis) }()

	logger.Info().
		Str(`addr`, lis.Addr().String()).
		Dur(`dispatch_interval`, dispatchInterval).
		Dur(`read_interval`, readInterval).
		Log(`notifyd listening`)

	runErr := make(chan error, 1)
	go func() { runErr <- server.Run(ctx) }()

	select {
	case err := <-serveErr:
		return err
	case err := <-runErr:
		srv.GracefulStop()
		<-serveErr
		return err
	}
}

func parseLevel(s string) (logiface.Level, error) {
	for _, level := range []logiface.Level{
		logiface.LevelDisabled,
		logiface.LevelEmergency,
		logiface.LevelAlert,
		logiface.LevelCritical,
		logiface.LevelError,
		logiface.LevelWarning,
		logiface.LevelNotice,
		logiface.LevelInformational,
		logiface.LevelDebug,
		logiface.LevelTrace,
	} {
		if level.String() == s {
			return level, nil
		}
	}
	return 0, fmt.Errorf(`invalid log level: %q`, s)
}
