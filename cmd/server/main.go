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

	"github.com/omochice/toy-crypto-chat/internal/config"
	"github.com/omochice/toy-crypto-chat/internal/console"
	"github.com/omochice/toy-crypto-chat/internal/report"
	"github.com/omochice/toy-crypto-chat/internal/server"
	"github.com/omochice/toy-crypto-chat/internal/transport/tcp"
	"github.com/omochice/toy-crypto-chat/internal/transport/ws"
)

type listener interface {
	server.Acceptor
	Close() error
}

func main() {
	cfg, err := config.Load(config.Responder, os.Args[1:])
	if err != nil {
		if errors.Is(err, config.ErrUsage) {
			fmt.Fprintln(os.Stderr, config.Usage(filepath.Base(os.Args[0]), config.Responder))
			os.Exit(1)
		}
		log.Fatalf("Invalid configuration: %v", err)
	}

	keys, err := cfg.Keys()
	if err != nil {
		log.Fatalf("Invalid key material: %v", err)
	}

	ln, err := listen(cfg)
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := console.Pump(ctx, console.NewLineReader(os.Stdin))
	srv := server.New(ln, keys, lines, os.Stdout,
		server.WithRecorder(report.NewRecorder(cfg.Report)),
		server.WithTransportName(cfg.Transport),
	)

	if err := srv.Serve(ctx); err != nil {
		log.Printf("Server error: %v", err)
		ln.Close()
		os.Exit(1)
	}
	log.Println("Server stopped")
}

func listen(cfg *config.Config) (listener, error) {
	switch cfg.Transport {
	case config.TransportWS:
		return ws.Listen(cfg.Address())
	case config.TransportAuto:
		return server.ListenAuto(cfg.Address(), server.DefaultSniffTimeout)
	default:
		return tcp.Listen(cfg.Address())
	}
}
