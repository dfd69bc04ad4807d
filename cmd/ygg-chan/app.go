package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Xyzic/yggdrasil/pkg/comm"
	"github.com/Xyzic/yggdrasil/pkg/config"
	"github.com/Xyzic/yggdrasil/pkg/core/commstack"
	"github.com/Xyzic/yggdrasil/pkg/observability"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	d, err := commstack.FromConfig(cfg)
	if err != nil {
		zap.L().Error("failed to resolve default transport", zap.Error(err))
		return 1
	}

	var dir comm.Direction
	switch opts.Mode {
	case "send":
		dir = comm.DirSend
	case "recv":
		dir = comm.DirRecv
	default:
		zap.L().Error("invalid mode", zap.String("mode", opts.Mode))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var addr comm.Address
	if opts.Address == "" {
		addr, err = d.NewAddress()
		if err != nil {
			zap.L().Error("failed to mint address", zap.Error(err))
			return 1
		}
	} else {
		addr, err = commstack.AddressFor(d, opts.Address, dir)
		if err != nil {
			zap.L().Error("bad address", zap.String("addr", opts.Address), zap.Error(err))
			return 1
		}
	}

	ch, err := d.Init(ctx, addr, dir)
	if err != nil {
		zap.L().Error("failed to open channel", zap.Error(err))
		return 1
	}
	zap.L().Info("channel open",
		zap.Stringer("kind", d.Type()),
		zap.String("addr", ch.Address().String()),
		zap.Stringer("dir", dir))

	var exit int
	if dir == comm.DirSend {
		exit = runSend(ctx, d, ch, opts)
	} else {
		exit = runRecv(ctx, d, ch, opts)
	}

	if err := d.Free(ch); err != nil {
		zap.L().Error("failed to free channel", zap.Error(err))
		return 1
	}
	return exit
}

func runSend(ctx context.Context, d *comm.Default, ch comm.Channel, opts Options) int {
	for i := 0; i < opts.Count; i++ {
		if err := d.Send(ctx, ch, []byte(opts.Message)); err != nil {
			zap.L().Error("send failed", zap.Int("sent", i), zap.Error(err))
			return 1
		}
	}
	zap.L().Info("sent", zap.Int("count", opts.Count), zap.Int("bytes", len(opts.Message)))
	return 0
}

func runRecv(ctx context.Context, d *comm.Default, ch comm.Channel, opts Options) int {
	received := 0
	for opts.Count == 0 || received < opts.Count {
		msg, err := d.Recv(ctx, ch)
		if errors.Is(err, io.EOF) {
			zap.L().Info("peer closed", zap.Int("received", received))
			return 0
		}
		if err != nil {
			zap.L().Error("recv failed", zap.Int("received", received), zap.Error(err))
			return 1
		}
		fmt.Println(string(msg))
		received++
	}
	if n, err := d.Count(ch); err == nil {
		zap.L().Info("done", zap.Int("received", received), zap.Int("still_pending", n))
	}
	return 0
}
