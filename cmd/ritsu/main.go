package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/jmartinsuarez20-lab/Rtsusi/internal/assistant"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/briefing"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/callscreen"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/config"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/hotword"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/httpserver"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/llm"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/memory"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/rtc"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/speech"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/telephony"
)

func main() {
	cfg := config.Load(os.Args[1:])

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel(cfg.LogLevel),
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := memory.Open(ctx, memory.Config{Path: cfg.SQLitePath, Logger: logger})
	if err != nil {
		logger.Error("memory store unavailable", "path", cfg.SQLitePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	model := llm.NewChatClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)

	// The conversation engine outlives any single device connection, so it
	// speaks through whichever coordinator is currently attached.
	speaker := &deviceSpeaker{logger: logger}

	engine := assistant.New(assistant.Config{
		LLM:     model,
		Store:   store,
		Speaker: speaker,
		Logger:  logger,
		Timeout: cfg.LLMTimeout,
	})
	defer engine.Close()

	rtcHandler, err := rtc.NewHandler(rtc.Config{
		ICEServersJSON: cfg.ICEServersJSON,
		Logger:         logger,
		OnSession: func(sess *rtc.DeviceSession) {
			attachDevice(cfg, logger, engine, speaker, sess)
		},
	})
	if err != nil {
		logger.Error("webrtc setup failed", "error", err)
		os.Exit(1)
	}

	twilioSvc := telephony.New(telephony.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		PublicHost: cfg.PublicHost,
		Logger:     logger,
	}, callAudioFactory(cfg, logger))

	screener := callscreen.New(callscreen.Config{
		LLM:          model,
		Logger:       logger,
		Timeout:      cfg.LLMTimeout,
		MaxExchanges: cfg.TranscriptWindow,
	})
	go screener.Run(ctx, twilioSvc.Events())

	runner := briefing.NewRunner(briefing.Config{
		Weather:   briefing.NewWeatherClient(),
		Latitude:  cfg.BriefingLatitude,
		Longitude: cfg.BriefingLongitude,
		StatePath: cfg.BriefingStatePath,
		Logger:    logger,
	})
	go runBriefings(ctx, runner, speaker, logger)

	srv := httpserver.New(httpserver.Config{
		Conversation: engine,
		Facts:        store,
		Extra:        []httpserver.Registrar{twilioSvc, rtcHandler},
	})

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.HTTPAddress)
		serverErrors <- srv.Start(cfg.HTTPAddress)
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// attachDevice builds the speech pipeline for one connected device: a
// hotword gate on its own recognizer, the main recognizer behind the
// coordinator, and synthesis onto the device's audio track.
func attachDevice(cfg config.Config, logger *slog.Logger, engine *assistant.Engine, speaker *deviceSpeaker, sess *rtc.DeviceSession) {
	rec := speech.NewVoskRecognizer(cfg.VoskURL, cfg.VoskSampleRate, logger)
	gateRec := speech.NewVoskRecognizer(cfg.VoskURL, cfg.VoskSampleRate, logger)
	syn := speech.NewDeepgramSynthesizer(cfg.DeepgramAPIKey, cfg.DeepgramModel, sess.Sink(), logger)

	var gate *hotword.Gate
	coord := speech.NewCoordinator(rec, syn,
		speech.WithLogger(logger),
		speech.WithStateFunc(func(st speech.State) {
			if st == speech.StateIdle && gate != nil {
				gate.Resume()
			}
		}),
	)
	gate = hotword.New(hotword.Config{
		Recognizer: gateRec,
		Phrases:    cfg.HotwordPhrases,
		Logger:     logger,
		OnWake: func() {
			if err := coord.StartListening(); err != nil {
				logger.Error("listening failed to start", "error", err)
			}
		},
	})

	sess.OnPCM(func(pcm []byte) {
		_ = gateRec.SendPCM(pcm)
		_ = rec.SendPCM(pcm)
	})
	sess.OnBargeIn(func() {
		coord.Stop()
	})

	go func() {
		for text := range coord.Utterances() {
			engine.Submit(text)
		}
	}()

	speaker.attach(coord)
	if err := gate.Start(); err != nil {
		logger.Error("hotword capture failed", "error", err)
	}
	logger.Info("device attached")

	go func() {
		<-sess.Done()
		speaker.detach(coord)
		gate.Close()
		coord.Shutdown()
		logger.Info("device detached")
	}()
}

// callAudioFactory builds the per-call speech collaborators for screened
// calls: recognition of the 8kHz telephony audio and synthesis back onto
// the media stream.
func callAudioFactory(cfg config.Config, logger *slog.Logger) telephony.AudioPathFactory {
	return func(stream *telephony.MediaStream) (telephony.AudioPath, error) {
		rec := speech.NewVoskRecognizer(cfg.VoskURL, 8000, logger)
		syn := speech.NewDeepgramSynthesizer(cfg.DeepgramAPIKey, cfg.DeepgramModel, stream, logger)
		stream.OnPCM(func(pcm []byte) {
			_ = rec.SendPCM(pcm)
		})
		return &callAudio{rec: rec, syn: syn}, nil
	}
}

type callAudio struct {
	rec *speech.VoskRecognizer
	syn *speech.DeepgramSynthesizer
}

func (a *callAudio) Recognizer() speech.Recognizer   { return a.rec }
func (a *callAudio) Synthesizer() speech.Synthesizer { return a.syn }
func (a *callAudio) Close() {
	a.syn.Stop()
	_ = a.rec.Close()
}

// deviceSpeaker routes assistant speech to the currently attached device,
// dropping it when none is connected.
type deviceSpeaker struct {
	coord  atomic.Pointer[speech.Coordinator]
	logger *slog.Logger
}

func (d *deviceSpeaker) Speak(text string) {
	if c := d.coord.Load(); c != nil {
		c.Speak(text)
		return
	}
	d.logger.Debug("no device attached, dropping speech", "text", text)
}

func (d *deviceSpeaker) attach(c *speech.Coordinator) {
	d.coord.Store(c)
}

func (d *deviceSpeaker) detach(c *speech.Coordinator) {
	d.coord.CompareAndSwap(c, nil)
}

// runBriefings checks every few minutes whether the morning briefing is
// due and speaks it when a device is attached.
func runBriefings(ctx context.Context, runner *briefing.Runner, speaker *deviceSpeaker, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if speaker.coord.Load() == nil {
				continue
			}
			text, err := runner.RunIfNeeded(ctx)
			if err != nil {
				logger.Warn("briefing failed", "error", err)
				continue
			}
			if text != "" {
				speaker.Speak(text)
			}
		}
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
