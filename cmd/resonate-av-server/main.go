// ABOUTME: Entry point for the stream server
// ABOUTME: Streams a file or test tone to players with server timestamps
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/resonate-av/internal/server"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

var (
	port      = flag.Int("port", 8927, "WebSocket server port")
	name      = flag.String("name", "", "Server friendly name (default: hostname-resonate-av-server)")
	logFile   = flag.String("log-file", "resonate-av-server.log", "Log file path")
	debug     = flag.Bool("debug", false, "Enable debug logging")
	noMDNS    = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	audioFile = flag.String("audio", "", "Audio file to stream (wav, mp3, flac, opus). If not specified, plays test tone")
	codec     = flag.String("codec", "pcm", "Test tone codec: pcm or opus")
	lead      = flag.Duration("lead", 500*time.Millisecond, "How far ahead of play time audio is sent")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, f), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	serverName := *name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = hostname + "-resonate-av-server"
	}

	srv := server.New(server.Config{
		Name:       serverName,
		Addr:       fmt.Sprintf(":%d", *port),
		EnableMDNS: !*noMDNS,
		Lead:       *lead,
		NewSource: func() (demux.Demuxer, error) {
			if *audioFile != "" {
				return demux.Open(*audioFile)
			}
			return demux.NewTone(demux.ToneConfig{Codec: *codec})
		},
		Logger: log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("press Ctrl-C to stop", "log_file", *logFile)
	if err := srv.Run(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
