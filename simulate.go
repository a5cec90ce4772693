// ABOUTME: The simulate command: a loopback stream server and player
// ABOUTME: Streams a tone to an in-process player that syncs to the server clock
package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-av/internal/server"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

func newSimulateCmd() *cobra.Command {
	var (
		codec    string
		freq     float64
		duration float64
		device   string
		lead     time.Duration
		file     string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Stream to a local player over loopback and report sync quality",
		Long: `simulate starts a stream server on a loopback port and plays from it in
the same process. The player syncs to the server clock exactly as it would
over a network, which makes it a quick end-to-end check of decoding, clock
sync and drift correction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := globalConfig
			if cmd.Flags().Changed("lead") {
				cfg.Server.Lead = lead
			}
			log, closeLog, err := setupLogging(cfg.Log, false, os.Stdout)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(server.Config{
				Name: "simulator",
				Lead: cfg.Server.Lead,
				NewSource: func() (demux.Demuxer, error) {
					if file != "" {
						return demux.Open(file)
					}
					return demux.NewTone(demux.ToneConfig{Codec: codec, Frequency: freq, Duration: duration})
				},
				Logger: log,
			})
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			httpServer := &http.Server{Handler: srv.Handler()}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			p := &pipeline{
				log:    log,
				spec:   sourceSpec{kind: sourceStream, location: ln.Addr().String()},
				name:   "simulated-player",
				device: device,
				buffer: cfg.Device.Buffer,
				opts:   cfg.Playback,
			}
			g.Go(func() error {
				defer httpServer.Close()
				return p.run(ctx)
			})
			if err := g.Wait(); err != nil {
				return err
			}

			st := p.final
			fmt.Fprintf(cmd.OutOrStdout(), "state %s  frames %d  dropped %d  drift correction %+.2fms  last a-v %+.2fms\n",
				st.State, st.Frames, st.Dropped, st.Correction*1000, st.AVDifference*1000)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&codec, "codec", "pcm", "tone codec: pcm or opus")
	f.Float64Var(&freq, "freq", 440, "tone frequency in Hz")
	f.Float64Var(&duration, "duration", 5, "tone length in seconds")
	f.StringVar(&file, "file", "", "stream this file instead of a tone")
	f.StringVar(&device, "device", "null", "output device")
	f.DurationVar(&lead, "lead", 500*time.Millisecond, "how far ahead the server sends audio")
	return cmd
}
