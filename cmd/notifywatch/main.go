// Command notifywatch connects to a notifyd server and prints
// notifications, either by watching the push stream or by polling a pull
// subscription.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nagatodev/go-notifyloop/grpcnotify"
)

func main() {
	var (
		addr   = flag.String(`addr`, `127.0.0.1:8675`, `server address`)
		mode   = flag.String(`mode`, `watch`, `delivery mode (watch or poll)`)
		filter = flag.String(`filter`, ``, `subscription filter`)
		count  = flag.Int(`count`, 0, `stop after this many notifications (0 for unlimited)`)
		dur    = flag.Duration(`duration`, 0, `stop after this long (0 for unlimited)`)
	)
	flag.Parse()

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(logiface.LevelInformational),
	).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *dur > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *dur)
		defer cancel()
	}

	if err := run(ctx, logger, *addr, *mode, *filter, *count); err != nil && ctx.Err() == nil {
		logger.Err().Err(err).Log(`notifywatch exited`)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *logiface.Logger[logiface.Event], addr, mode, filter string, count int) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	client := grpcnotify.NewClient(conn)

	switch mode {
	case `watch`:
		return runWatch(ctx, client, filter, count)
	case `poll`:
		return runPoll(ctx, logger, client, filter, count)
	default:
		return fmt.Errorf(`invalid mode: %q`, mode)
	}
}

func runWatch(ctx context.Context, client *grpcnotify.Client, filter string, count int) error {
	watch, err := client.Watch(ctx, filter)
	if err != nil {
		return err
	}
	for i := 0; count == 0 || i < count; i++ {
		n, err := watch.Recv()
		if err != nil {
			return err
		}
		printNotification(n.ID, n.Kind, n.Timestamp)
	}
	return nil
}

func runPoll(ctx context.Context, logger *logiface.Logger[logiface.Event], client *grpcnotify.Client, filter string, count int) error {
	h, err := client.Subscribe(ctx, filter)
	if err != nil {
		return err
	}
	defer func() {
		// the subscription outlives ctx; cancel on a fresh (bounded) context
		cancelCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		if _, err := client.Cancel(cancelCtx, h, `notifywatch done`); err != nil {
			logger.Warning().Err(err).Log(`cancel failed`)
		}
	}()

	logger.Info().
		Int(`slot`, h.Slot()).
		Uint64(`gen`, h.Generation()).
		Log(`subscribed`)

	for i := 0; count == 0 || i < count; i++ {
		n, err := client.Read(ctx, h)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		printNotification(n.ID, n.Kind, n.Timestamp)
	}
	return nil
}

func printNotification(id uint64, kind string, timestamp int64) {
	fmt.Printf("%s\t%s\t%d\n", time.UnixMilli(timestamp).UTC().Format(time.RFC3339Nano), kind, id)
}
