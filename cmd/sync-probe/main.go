// ABOUTME: Clock sync probe against a stream server
// ABOUTME: Connects, runs time sync and prints offset, round trip and quality
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/resonate-av/internal/client"
	internalsync "github.com/Resonate-Protocol/resonate-av/internal/sync"
)

var (
	serverAddr = flag.String("server", "localhost:8927", "Server address")
	name       = flag.String("name", "sync-probe", "Player name")
	duration   = flag.Duration("duration", 10*time.Second, "How long to probe")
	interval   = flag.Duration("interval", 500*time.Millisecond, "Time between sync requests")
)

func main() {
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	clock := internalsync.NewClockSync(log, nil)
	fmt.Printf("Connecting to %s as '%s'...\n", *serverAddr, *name)
	src, err := client.Dial(ctx, client.Config{
		ServerAddr:   *serverAddr,
		Name:         *name,
		Clock:        clock,
		SyncInterval: *interval,
		Logger:       log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				fmt.Fprintf(os.Stderr, "probe: %v\n", err)
				os.Exit(1)
			}
			return
		case <-ticker.C:
			if !clock.Synced() {
				fmt.Println("waiting for first sample")
				continue
			}
			offset, rtt, quality := clock.Stats()
			fmt.Printf("offset %+9.3fms  rtt %7.3fms  quality %s  server now %d\n",
				float64(offset)/1000, float64(rtt)/1000, quality, clock.ServerNow())
		}
	}
}
