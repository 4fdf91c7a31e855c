package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/omochice/toy-crypto-chat/internal/chat"
	"github.com/omochice/toy-crypto-chat/internal/client"
	"github.com/omochice/toy-crypto-chat/internal/config"
	"github.com/omochice/toy-crypto-chat/internal/console"
	"github.com/omochice/toy-crypto-chat/internal/report"
	"github.com/omochice/toy-crypto-chat/internal/transport/tcp"
	"github.com/omochice/toy-crypto-chat/internal/transport/ws"
)

func main() {
	cfg, err := config.Load(config.Initiator, os.Args[1:])
	if err != nil {
		if errors.Is(err, config.ErrUsage) {
			fmt.Fprintln(os.Stderr, config.Usage(filepath.Base(os.Args[0]), config.Initiator))
			os.Exit(1)
		}
		log.Fatalf("Invalid configuration: %v", err)
	}

	keys, err := cfg.Keys()
	if err != nil {
		log.Fatalf("Invalid key material: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dial := func(ctx context.Context) (chat.Conn, error) {
		if cfg.Transport == config.TransportWS {
			return ws.Dial(ctx, cfg.Host, cfg.Port)
		}
		return tcp.Dial(ctx, cfg.Host, cfg.Port)
	}

	lines := console.Pump(ctx, console.NewLineReader(os.Stdin))
	c := client.New(dial, keys, lines, os.Stdout,
		client.WithRecorder(report.NewRecorder(cfg.Report)),
		client.WithTransportName(cfg.Transport),
	)

	if err := c.Run(ctx); err != nil {
		log.Printf("Client error: %v", err)
		stop()
		os.Exit(1)
	}
}
