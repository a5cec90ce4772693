// ABOUTME: The play command and the playback pipeline shared with simulate
// ABOUTME: Wires a source, output device, session, driver and status display
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-av/internal/client"
	"github.com/Resonate-Protocol/resonate-av/internal/discovery"
	"github.com/Resonate-Protocol/resonate-av/internal/protocol"
	internalsync "github.com/Resonate-Protocol/resonate-av/internal/sync"
	"github.com/Resonate-Protocol/resonate-av/internal/ui"
	"github.com/Resonate-Protocol/resonate-av/internal/version"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
	"github.com/Resonate-Protocol/resonate-av/pkg/playback"
)

// serverTick is the frame length of the server master clock.
const serverTick = 20 * time.Millisecond

type sourceKind int

const (
	sourceDiscover sourceKind = iota
	sourceTone
	sourceFile
	sourceStream
	sourceRTP
)

// sourceSpec is a parsed play argument.
type sourceSpec struct {
	kind     sourceKind
	location string // file path or URL, server host:port, or UDP listen address
	path     string // websocket path
	freq     float64
}

func parseSource(arg string) (sourceSpec, error) {
	switch {
	case arg == "":
		return sourceSpec{kind: sourceDiscover}, nil

	case arg == "tone" || strings.HasPrefix(arg, "tone:"):
		spec := sourceSpec{kind: sourceTone, freq: 440}
		if f, ok := strings.CutPrefix(arg, "tone:"); ok {
			hz, err := strconv.ParseFloat(f, 64)
			if err != nil || hz <= 0 {
				return sourceSpec{}, fmt.Errorf("invalid tone frequency %q", f)
			}
			spec.freq = hz
		}
		return spec, nil

	case strings.HasPrefix(arg, "ws://"):
		u, err := url.Parse(arg)
		if err != nil || u.Host == "" {
			return sourceSpec{}, fmt.Errorf("invalid stream url %q", arg)
		}
		return sourceSpec{kind: sourceStream, location: u.Host, path: u.Path}, nil

	case strings.HasPrefix(arg, "rtp:"):
		port, err := strconv.Atoi(strings.TrimPrefix(arg, "rtp:"))
		if err != nil || port <= 0 || port > 65535 {
			return sourceSpec{}, fmt.Errorf("invalid rtp port in %q", arg)
		}
		return sourceSpec{kind: sourceRTP, location: fmt.Sprintf(":%d", port)}, nil

	default:
		return sourceSpec{kind: sourceFile, location: arg}, nil
	}
}

// pipeline is one playback run.
type pipeline struct {
	log       *slog.Logger
	spec      sourceSpec
	name      string
	device    string
	buffer    time.Duration
	opts      playback.Options
	fps       float64 // synthetic master clock, 0 for none
	start     float64
	end       float64
	duration  float64 // tone length, 0 for endless
	discovery time.Duration
	tui       bool

	// set once playback ended
	final playback.Stats
}

// opened is a started source and what comes with it.
type opened struct {
	demuxer demux.Demuxer
	video   playback.Video
	stream  *client.Source
	label   string
}

func (p *pipeline) open(ctx context.Context, g *errgroup.Group, serverCmds chan<- protocol.ServerCommand, clears chan<- struct{}) (opened, error) {
	spec := p.spec
	if spec.kind == sourceDiscover {
		mgr := discovery.NewManager(discovery.Config{Logger: p.log})
		defer mgr.Stop()
		p.log.Info("searching for stream servers", "timeout", p.discovery)
		info, err := mgr.FindFirst(ctx, p.discovery)
		if err != nil {
			return opened{}, err
		}
		p.log.Info("discovered server", "name", info.Name, "addr", info.Addr())
		spec = sourceSpec{kind: sourceStream, location: info.Addr(), path: info.Path}
	}

	var o opened
	switch spec.kind {
	case sourceStream:
		clock := internalsync.NewClockSync(p.log, nil)
		master := internalsync.NewServerClock(clock, serverTick)
		src, err := client.Dial(ctx, client.Config{
			ServerAddr: spec.location,
			Path:       spec.path,
			Name:       p.name,
			DeviceInfo: protocol.DeviceInfo{
				ProductName:     version.Product,
				Manufacturer:    version.Manufacturer,
				SoftwareVersion: version.Version,
			},
			Formats: []protocol.AudioFormat{
				{Codec: "opus", Channels: 2, SampleRate: 48000, BitDepth: 16},
				{Codec: "flac", Channels: 2, SampleRate: 48000, BitDepth: 16},
				{Codec: "pcm", Channels: 2, SampleRate: 48000, BitDepth: 16},
			},
			Clock:  clock,
			Master: master,
			OnClear: func() {
				select {
				case clears <- struct{}{}:
				default:
				}
			},
			OnCommand: func(c protocol.ServerCommand) {
				select {
				case serverCmds <- c:
				default:
				}
			},
			Logger: p.log,
		})
		if err != nil {
			return o, err
		}
		g.Go(func() error { return src.Run(ctx) })
		if err := src.WaitStream(ctx); err != nil {
			return o, err
		}
		return opened{demuxer: src, video: master, stream: src, label: "ws://" + spec.location}, nil

	case sourceTone:
		t, err := demux.NewTone(demux.ToneConfig{Frequency: spec.freq, Duration: p.duration})
		if err != nil {
			return o, err
		}
		o = opened{demuxer: t, label: fmt.Sprintf("tone %.0fHz", spec.freq)}

	case sourceRTP:
		r, err := demux.ListenRTP(demux.RTPConfig{Addr: spec.location, Logger: p.log})
		if err != nil {
			return o, err
		}
		o = opened{demuxer: r, label: "rtp " + r.LocalAddr().String()}

	default:
		d, err := demux.Open(spec.location)
		if err != nil {
			return o, err
		}
		o = opened{demuxer: d, label: spec.location}
	}

	if p.fps > 0 {
		o.video = playback.NewFrameClock(p.fps, max(p.start, 0), audio.NoPTS)
	}
	return o, nil
}

// run plays until the source ends, the user quits or ctx is cancelled.
func (p *pipeline) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	serverCmds := make(chan protocol.ServerCommand, 8)
	clears := make(chan struct{}, 1)

	src, err := p.open(ctx, g, serverCmds, clears)
	if err != nil {
		cancel()
		g.Wait()
		return err
	}
	if c, ok := src.demuxer.(io.Closer); ok && src.stream == nil {
		defer c.Close()
	}

	dev, err := output.New(p.device, output.Config{Logger: p.log, Buffer: p.buffer})
	if err != nil {
		cancel()
		g.Wait()
		return err
	}
	session, err := playback.NewSession(playback.Config{
		Demuxer: src.demuxer,
		Device:  dev,
		Video:   src.video,
		Options: p.opts,
		Logger:  p.log,
	})
	if err != nil {
		cancel()
		g.Wait()
		return err
	}
	defer session.Close()
	if err := session.Err(); err != nil {
		p.log.Warn("audio unavailable", "error", err)
	}

	driver := playback.NewDriver(session, playback.DriverConfig{EndPTS: p.end, Logger: p.log})
	if p.start > 0 {
		driver.Seek(p.start, true)
	}

	g.Go(func() error {
		defer cancel()
		err := driver.Run(ctx)
		p.final = driver.Stats()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	var prog *tea.Program
	var tuiCtrl *ui.Controls
	if p.tui {
		tuiCtrl = ui.NewControls()
		prog = ui.New(tuiCtrl, p.opts.Volume)
		g.Go(func() error {
			defer cancel()
			_, err := prog.Run()
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			prog.Quit()
			return nil
		})
	}

	volume, muted := p.opts.Volume, p.opts.Muted
	reportState := func(state string) {
		if src.stream == nil {
			return
		}
		if err := src.stream.SendState(protocol.ClientState{State: state, Volume: volume, Muted: muted}); err != nil {
			p.log.Debug("state report failed", "error", err)
		}
	}

	g.Go(func() error {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		logEvery := 0
		for {
			var events <-chan ui.Event
			if tuiCtrl != nil {
				events = tuiCtrl.Events
			}
			select {
			case <-ctx.Done():
				return nil

			case c := <-serverCmds:
				switch c.Command {
				case "volume":
					volume = c.Volume
					driver.SetVolume(volume)
				case "mute":
					muted = c.Mute
					driver.SetMuted(muted)
				default:
					p.log.Debug("ignoring server command", "command", c.Command)
					continue
				}
				if prog != nil {
					v, m := volume, muted
					prog.Send(ui.StatusMsg{Stats: driver.Stats(), Volume: &v, Muted: &m})
				}
				reportState("playing")

			case <-clears:
				driver.Seek(0, false)

			case e := <-events:
				switch e.Kind {
				case ui.EventVolume:
					volume = e.Volume
					driver.SetVolume(volume)
					reportState("playing")
				case ui.EventMute:
					muted = e.Muted
					driver.SetMuted(muted)
					reportState("playing")
				case ui.EventPause:
					if e.Paused {
						driver.Pause()
						reportState("paused")
					} else {
						driver.Resume()
						reportState("playing")
					}
				case ui.EventSeek:
					driver.Seek(e.Seek, true)
				case ui.EventQuit:
					cancel()
				}

			case <-ticker.C:
				st := driver.Stats()
				if prog != nil {
					prog.Send(p.status(src, st))
					continue
				}
				if logEvery++; logEvery%20 == 0 {
					p.log.Info("status",
						"state", st.State,
						"pts", st.PlayingPTS,
						"buffered", st.Buffered,
						"av_diff", st.AVDifference,
						"dropped", st.Dropped)
				}
			}
		}
	})

	return g.Wait()
}

func (p *pipeline) status(src opened, st playback.Stats) ui.StatusMsg {
	msg := ui.StatusMsg{Source: src.label, Stats: st}
	if src.stream != nil {
		off, rtt, q := src.stream.Clock().Stats()
		msg.HaveSync = true
		msg.SyncOffset = off
		msg.SyncRTT = rtt
		msg.SyncQuality = q
	}
	return msg
}

func newPlayCmd() *cobra.Command {
	var (
		device    string
		buffer    time.Duration
		volume    int
		speed     float64
		start     float64
		end       float64
		fps       float64
		duration  float64
		decoders  []string
		name      string
		server    string
		gapless   bool
		noTUI     bool
		framedrop bool
	)

	cmd := &cobra.Command{
		Use:   "play [source]",
		Short: "Play a file, stream, RTP session or test tone",
		Example: `  resonate-av play music.flac
  resonate-av play tone:440 --fps 25 --no-tui
  resonate-av play ws://192.168.1.10:8927/resonate
  resonate-av play rtp:5004`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := globalConfig
			flags := cmd.Flags()
			if flags.Changed("device") {
				cfg.Device.Driver = device
			}
			if flags.Changed("buffer") {
				cfg.Device.Buffer = buffer
			}
			if flags.Changed("volume") {
				cfg.Playback.Volume = volume
			}
			if flags.Changed("speed") {
				cfg.Playback.Speed = speed
			}
			if flags.Changed("decoder") {
				cfg.Playback.Decoders = decoders
			}
			if flags.Changed("gapless") {
				cfg.Playback.Gapless = gapless
			}
			if flags.Changed("framedrop") {
				cfg.Playback.Framedrop = playback.Bool(framedrop)
			}
			if flags.Changed("name") {
				cfg.Name = name
			}
			if flags.Changed("server") {
				cfg.Server.Addr = server
			}

			arg := ""
			if len(args) > 0 {
				arg = args[0]
			} else if cfg.Server.Addr != "" {
				arg = "ws://" + cfg.Server.Addr
			}
			spec, err := parseSource(arg)
			if err != nil {
				return err
			}

			useTUI := !noTUI
			log, closeLog, err := setupLogging(cfg.Log, useTUI, os.Stdout)
			if err != nil {
				return err
			}
			defer closeLog()

			if cfg.Name == "" {
				host, err := os.Hostname()
				if err != nil {
					host = "unknown"
				}
				cfg.Name = host + "-resonate-av"
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p := &pipeline{
				log:       log,
				spec:      spec,
				name:      cfg.Name,
				device:    cfg.Device.Driver,
				buffer:    cfg.Device.Buffer,
				opts:      cfg.Playback,
				fps:       fps,
				start:     start,
				end:       end,
				duration:  duration,
				discovery: cfg.Server.Discovery,
				tui:       useTUI,
			}
			log.Info("starting", "version", version.Version, "name", cfg.Name, "device", p.device)
			if err := p.run(ctx); err != nil {
				return err
			}
			log.Info("stopped", "frames", p.final.Frames, "dropped", p.final.Dropped)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&device, "device", "oto", "output device: "+strings.Join(output.Names(), ", "))
	f.DurationVar(&buffer, "buffer", 200*time.Millisecond, "device buffer length")
	f.IntVar(&volume, "volume", 100, "software volume in percent")
	f.Float64Var(&speed, "speed", 1, "playback speed")
	f.Float64Var(&start, "start", 0, "start position in seconds")
	f.Float64Var(&end, "end", 0, "stop at this position in seconds (0 plays to the end)")
	f.Float64Var(&fps, "fps", 0, "sync to a synthetic video clock at this frame rate")
	f.Float64Var(&duration, "duration", 0, "tone length in seconds (0 is endless)")
	f.StringSliceVar(&decoders, "decoder", nil, "decoder backends to try first")
	f.StringVar(&name, "name", "", "player name (default hostname-resonate-av)")
	f.StringVar(&server, "server", "", "stream server host:port, skips mDNS")
	f.BoolVar(&gapless, "gapless", false, "keep the device open across format changes")
	f.BoolVar(&framedrop, "framedrop", true, "drop video frames when audio is behind")
	f.BoolVar(&noTUI, "no-tui", false, "disable the TUI and stream logs instead")
	return cmd
}
