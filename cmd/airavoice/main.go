package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adarshbhattarai/airabook-voice/internal/audio"
	"github.com/adarshbhattarai/airabook-voice/internal/config"
	"github.com/adarshbhattarai/airabook-voice/internal/debugapi"
	"github.com/adarshbhattarai/airabook-voice/internal/identity"
	"github.com/adarshbhattarai/airabook-voice/internal/observability"
	"github.com/adarshbhattarai/airabook-voice/internal/protocol"
	"github.com/adarshbhattarai/airabook-voice/internal/transcript"
	"github.com/adarshbhattarai/airabook-voice/internal/vad"
	"github.com/adarshbhattarai/airabook-voice/internal/voice"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	latency := observability.NewLatencyWindow(256)

	var archive transcript.Store
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := transcript.NewPostgresStore(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatalf("transcript store init failed: %v", err)
		}
		archive = store
		defer store.Close()
		log.Printf("transcript archive: postgres")
	} else {
		log.Printf("transcript archive: disabled (DATABASE_URL not set)")
	}

	capture, err := audio.NewPortAudioCapture(cfg.InputSampleRate, cfg.FrameSize)
	if err != nil {
		log.Fatalf("microphone init failed: %v", err)
	}
	defer capture.Close()

	basePlayer, err := audio.NewOtoPlayer(cfg.OutputSampleRate)
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}
	var player audio.Player = basePlayer
	if cfg.AudioDumpDir != "" {
		player = newRecordingPlayer(basePlayer, cfg.AudioDumpDir, cfg.OutputSampleRate)
		log.Printf("assistant audio dumps: %s", cfg.AudioDumpDir)
	}
	defer player.Close()

	ctrl, err := voice.New(voice.Config{
		ChannelURL: cfg.ChannelURL,
		BookID:     cfg.BookID,
		ChapterID:  cfg.ChapterID,
		PageID:     cfg.PageID,
		Voice: protocol.VoiceSelection{
			Provider: cfg.VoiceProvider,
			VoiceID:  cfg.VoiceID,
		},
		Mode: cfg.Mode,
		InputAudio: protocol.AudioFormat{
			Format:     protocol.FormatPCM16LE,
			SampleRate: cfg.InputSampleRate,
			Channels:   1,
		},
		OutputAudio: protocol.AudioFormat{
			Format:     protocol.FormatPCM16LE,
			SampleRate: cfg.OutputSampleRate,
			Channels:   1,
		},
		VAD: vad.Config{
			StartThreshold: cfg.VADStartThreshold,
			EndThreshold:   cfg.VADEndThreshold,
			Hangover:       cfg.VADHangover,
		},
		SilenceWindow: cfg.SilenceWindow,
	}, voice.Deps{
		Tokens:  identity.NewStaticTokenSource(cfg.AuthToken),
		Capture: capture,
		Player:  player,
		Metrics: metrics,
		Latency: latency,
		Archive: archive,
	}, voice.Callbacks{
		OnState: func(s voice.State) {
			log.Printf("session state: %s", s)
		},
		OnPartialTranscript: func(text string) {
			fmt.Printf("\r[you] %s", text)
		},
		OnFinalTranscript: func(text string) {
			fmt.Printf("\r[you] %s\n", text)
		},
		OnAssistantText: func(text string) {
			fmt.Printf("[assistant] %s\n", text)
		},
		OnError: func(err *voice.SessionError) {
			log.Printf("session error [%s]: %s (advisory=%t)", err.Code, err.Message, err.Advisory)
		},
	})
	if err != nil {
		log.Fatalf("controller init failed: %v", err)
	}

	api := debugapi.New(ctrl, latency, archive)
	httpServer := &http.Server{
		Addr:    cfg.DebugBindAddr,
		Handler: api.Router(),
	}
	go func() {
		log.Printf("debug api listening on %s", cfg.DebugBindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("debug api listen error: %v", err)
		}
	}()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	quit := make(chan struct{})
	go commandLoop(runCtx, ctrl, quit)

	printHelp()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Printf("shutdown signal received")
	case <-quit:
	}

	runCancel()
	ctrl.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	log.Printf("shutdown complete")
}

func printHelp() {
	fmt.Println("commands: /talk (start conversation), /stop (end turn-taking), /interrupt (barge in), /quit")
}

func commandLoop(ctx context.Context, ctrl *voice.Controller, quit chan<- struct{}) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "/talk":
			if err := ctrl.StartListening(ctx); err != nil {
				log.Printf("start listening failed: %v", err)
			}
		case "/stop":
			if err := ctrl.StopListening(); err != nil {
				log.Printf("stop listening failed: %v", err)
			}
		case "/interrupt":
			if err := ctrl.Interrupt(); err != nil {
				log.Printf("interrupt failed: %v", err)
			}
		case "/quit":
			close(quit)
			return
		case "":
		default:
			printHelp()
		}
	}
}

// recordingPlayer tees assistant audio into per-burst WAV files for
// debugging, writing one file each time playback is flushed or closed.
type recordingPlayer struct {
	inner audio.Player
	dir   string
	rate  int

	mu  sync.Mutex
	buf []byte
	seq int
}

func newRecordingPlayer(inner audio.Player, dir string, rate int) *recordingPlayer {
	return &recordingPlayer{inner: inner, dir: dir, rate: rate}
}

func (p *recordingPlayer) Enqueue(data []byte) {
	p.mu.Lock()
	p.buf = append(p.buf, data...)
	p.mu.Unlock()
	p.inner.Enqueue(data)
}

func (p *recordingPlayer) Flush() {
	p.dump()
	p.inner.Flush()
}

func (p *recordingPlayer) Close() error {
	p.dump()
	return p.inner.Close()
}

func (p *recordingPlayer) dump() {
	p.mu.Lock()
	buf := p.buf
	p.buf = nil
	p.seq++
	seq := p.seq
	p.mu.Unlock()
	if len(buf) == 0 {
		return
	}
	name := filepath.Join(p.dir, fmt.Sprintf("assistant-%03d.wav", seq))
	if err := audio.WriteWAVPCM16LEFile(name, buf, p.rate); err != nil {
		log.Printf("audio dump failed: %v", err)
	}
}
