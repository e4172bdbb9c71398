// Command voicepipe runs the real-time voice client for a mock interview:
// microphone in, interviewer speech out, one duplex connection in between.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/prepdeck/voicepipe/internal/config"
	"github.com/prepdeck/voicepipe/internal/conversation"
	"github.com/prepdeck/voicepipe/internal/observe"
	"github.com/prepdeck/voicepipe/internal/session"
	malgodev "github.com/prepdeck/voicepipe/pkg/audio/malgo"
	otodev "github.com/prepdeck/voicepipe/pkg/audio/oto"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicepipe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicepipe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicepipe starting",
		"config", *configPath,
		"endpoint", cfg.Server.URL,
		"interview_id", cfg.Interview.ID,
		"mode", mode(cfg),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicepipe",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Session ───────────────────────────────────────────────────────────────
	sampleRate := cfg.Voice.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	sess, err := session.New(session.Config{
		Endpoint:        cfg.Server.URL,
		InterviewID:     cfg.Interview.ID,
		ProblemID:       cfg.Interview.ProblemID,
		Question:        cfg.Interview.Question,
		Input:           malgodev.NewInputDevice(sampleRate),
		Output:          otodev.NewOpener(),
		SampleRate:      sampleRate,
		SegmentDuration: time.Duration(cfg.Voice.SegmentMs) * time.Millisecond,
		VolumeInterval:  time.Duration(cfg.Voice.VolumeIntervalMs) * time.Millisecond,
		Mode:            mode(cfg),
		Logger:          logger,
	})
	if err != nil {
		slog.Error("failed to create session", "err", err)
		return 1
	}

	if err := sess.Attach(ctx); err != nil {
		slog.Error("failed to attach session", "err", err)
		return 1
	}
	defer func() {
		if err := sess.Detach(); err != nil {
			slog.Warn("detach error", "err", err)
		}
	}()

	if v := cfg.Voice.Volume; v != nil {
		sess.SetVolume(*v)
	}
	if mode(cfg) == conversation.Continuous {
		sess.StartVoiceTurn()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Server.MetricsAddr) })
	}
	g.Go(func() error { return controlLoop(gctx, sess) })

	slog.Info("session live — press Ctrl+C to end the interview")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// serveMetrics exposes the Prometheus bridge on /metrics until ctx ends.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("metrics endpoint up", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// controlLoop reads simple line commands from stdin: "talk" toggles the
// microphone in push-to-talk mode, "stop" interrupts the interviewer,
// "hint" requests a hint, "status" prints a snapshot.
func controlLoop(ctx context.Context, sess *session.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	talking := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				// Stdin closed (e.g. piped input ended); keep the session
				// alive until the signal arrives.
				<-ctx.Done()
				return ctx.Err()
			}
			switch line {
			case "talk":
				if talking {
					sess.StopVoiceTurn()
				} else {
					sess.StartVoiceTurn()
				}
				talking = !talking
			case "stop":
				sess.Interrupt()
			case "hint":
				sess.RequestHint()
			case "status":
				printStatus(sess.Snapshot())
			case "":
			default:
				fmt.Println("commands: talk, stop, hint, status")
			}
		}
	}
}

func printStatus(snap session.Snapshot) {
	fmt.Printf("phase=%s conn=%s recording=%v playing=%v\n",
		snap.Phase, snap.ConnState, snap.Recording, snap.Playing)
	if snap.Transcript.Text != "" {
		fmt.Printf("you: %s\n", snap.Transcript.Text)
	}
	if snap.AIText != "" {
		fmt.Printf("interviewer: %s\n", snap.AIText)
	}
	if snap.Advisory != nil {
		fmt.Printf("notice [%s]: %s\n", snap.Advisory.Kind, snap.Advisory.Message)
	}
	if len(snap.Latency.History) > 0 {
		fmt.Printf("latency: last=%dms avg=%dms best=%dms\n",
			snap.Latency.Last.TotalMs, snap.Latency.AverageMs, snap.Latency.BestMs)
	}
}

func mode(cfg *config.Config) conversation.Mode {
	if cfg.Voice.Mode == config.ModePushToTalk {
		return conversation.PushToTalk
	}
	return conversation.Continuous
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
