package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go.aimuz.me/voxtype/activation"
	"go.aimuz.me/voxtype/audiocapture"
	"go.aimuz.me/voxtype/clipboard"
	"go.aimuz.me/voxtype/config"
	"go.aimuz.me/voxtype/delivery"
	"go.aimuz.me/voxtype/history"
	"go.aimuz.me/voxtype/hotkey"
	"go.aimuz.me/voxtype/internal/app"
	"go.aimuz.me/voxtype/transcribe"
	"go.aimuz.me/voxtype/transcribe/openai"
	"go.aimuz.me/voxtype/wakeword"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Listen for activation and dictate into the focused application",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err := run(ctx, cfg)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting voxtype", "version", version, "commit", commit, "date", date)

	sentryOn := false
	if dsn := cfg.Notifications.SentryDSN; dsn != "" {
		flush, err := app.InitSentry(dsn, version, "production")
		if err != nil {
			slog.Warn("sentry init failed", "error", err)
		} else {
			sentryOn = true
			defer flush()
		}
	}

	backend, err := newBackend(cfg.Audio.Backend)
	if err != nil {
		return err
	}
	defer backend.Close()

	engine := audiocapture.New(audiocapture.Config{StallTimeout: config.Millis(cfg.Audio.StallTimeoutMS)}, backend)
	if err := engine.Open(ctx, cfg.Audio.DeviceID); err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	defer engine.Close()

	detector, keywords, err := newDetector(cfg)
	if err != nil {
		return err
	}
	// A nil *Detector must not become a non-nil interface.
	var armable activation.Detector
	if detector != nil {
		armable = detector
		defer detector.Close()
	}
	ctl := activation.New(activation.Config{
		Keywords: keywords,
		Cooldown: config.Millis(cfg.Activation.CooldownMS),
	}, armable)

	var hotkeys <-chan time.Time
	if cfg.Activation.Hotkey != "" {
		m, err := startHotkey(ctx, cfg.Activation)
		if err != nil {
			return err
		}
		defer m.Stop()
		hotkeys = m.Toggles()
	}

	transport, params, err := newTransport(cfg)
	if err != nil {
		return err
	}

	dispatcher, err := newDispatcher(cfg.Delivery)
	if err != nil {
		return err
	}

	var store *history.Store
	if cfg.History.Enabled {
		store, err = openHistory(cfg.History)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	var cue app.Cue
	if cfg.Notifications.Cue {
		if c, err := app.NewToneCue(880, 120*time.Millisecond, -1); err != nil {
			slog.Warn("activation cue disabled", "error", err)
		} else {
			cue = c
		}
	}

	tc := cfg.Transcription
	svc := app.New(app.Options{
		Capture:    engine,
		DeviceID:   cfg.Audio.DeviceID,
		Controller: ctl,
		Transport:  transport,
		Deliverer:  dispatcher,
		Detector:   detector,
		Hotkeys:    hotkeys,
		Client: transcribe.Config{
			Params: params,
			Backoff: transcribe.Backoff{
				Base:        config.Millis(tc.BackoffBaseMS),
				Max:         config.Millis(tc.BackoffMaxMS),
				MaxAttempts: tc.MaxReconnects,
			},
			ConnectTimeout:  config.Millis(tc.ConnectTimeoutMS),
			FinalizeTimeout: config.Millis(tc.FinalizeTimeoutMS),
			BufferFrames:    tc.BufferFrames,
		},
		Silence: app.SilenceConfig{
			Threshold: cfg.Audio.Silence.Threshold,
			Trailing:  config.Millis(cfg.Audio.Silence.TrailingMS),
			Initial:   config.Millis(cfg.Audio.Silence.InitialMS),
			MinSpeech: config.Millis(cfg.Audio.Silence.MinSpeechMS),
		},
		Latency:       config.Millis(cfg.Audio.LatencyMS),
		ErrorTimeout:  config.Millis(cfg.Notifications.ErrorTimeoutMS),
		QueueSize:     cfg.Delivery.QueueSize,
		History:       store,
		Notifier:      app.DesktopNotifier{Desktop: cfg.Notifications.Desktop, Sentry: sentryOn},
		Cue:           cue,
		DebugAudioDir: cfg.Audio.DebugAudioDir,
	})

	go logUpdates(ctx, svc)
	return svc.Run(ctx)
}

func logUpdates(ctx context.Context, svc *app.Service) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-svc.Updates():
			slog.Debug("status", "state", st.State, "reason", st.Reason, "session", st.Session, "pending", st.Pending)
		}
	}
}

func newBackend(name string) (audiocapture.Backend, error) {
	switch name {
	case "portaudio":
		return audiocapture.NewPortAudioBackend()
	case "malgo", "":
		return audiocapture.NewMalgoBackend()
	default:
		return nil, fmt.Errorf("unknown audio backend %q", name)
	}
}

func newDetector(cfg *config.Config) (*wakeword.Detector, []wakeword.Keyword, error) {
	ac := cfg.Activation
	if len(ac.WakeWords) == 0 {
		return nil, nil, nil
	}
	key, err := cfg.ResolveKey(ac.CredentialID, config.CredentialPicovoice)
	if err != nil {
		return nil, nil, fmt.Errorf("wake word: %w", err)
	}
	d, err := wakeword.New(wakeword.NewPorcupine(key, ac.ModelPath), config.Millis(ac.RefractoryMS))
	if err != nil {
		return nil, nil, fmt.Errorf("wake word: %w", err)
	}
	keywords := make([]wakeword.Keyword, 0, len(ac.WakeWords))
	for _, w := range ac.WakeWords {
		keywords = append(keywords, wakeword.Keyword{Name: w.Keyword, Sensitivity: w.Sensitivity, Path: w.Path})
	}
	return d, keywords, nil
}

func startHotkey(ctx context.Context, ac config.ActivationConfig) (*hotkey.Monitor, error) {
	combo, err := hotkey.ParseCombo(ac.Hotkey)
	if err != nil {
		return nil, fmt.Errorf("hotkey: %w", err)
	}
	var source hotkey.Source = hotkey.HookSource{}
	if ac.HotkeySource == "register" {
		source = hotkey.RegisterSource{}
	}
	m := hotkey.NewMonitor(combo, source)
	if err := m.Start(ctx); err != nil {
		return nil, fmt.Errorf("hotkey: %w", err)
	}
	slog.Info("hotkey registered", "combo", combo, "source", ac.HotkeySource)
	return m, nil
}

func newRegistry(cfg *config.Config) *transcribe.Registry {
	r := transcribe.NewRegistry()
	r.Register(transcribe.NewWebSocketTransport(cfg.Transcription.URL))
	r.Register(openai.NewTransport(cfg.Transcription.Model))
	return r
}

func newTransport(cfg *config.Config) (transcribe.Transport, transcribe.Params, error) {
	tc := cfg.Transcription
	t := newRegistry(cfg).Get(tc.Transport)
	if t == nil {
		return nil, transcribe.Params{}, fmt.Errorf("unknown transcription transport %q", tc.Transport)
	}
	key, err := cfg.ResolveKey(tc.CredentialID, tc.Transport)
	if err != nil {
		return nil, transcribe.Params{}, fmt.Errorf("transcription: %w", err)
	}
	p := transcribe.DefaultParams()
	p.APIKey = key
	p.Language = tc.Language
	p.Keyterms = tc.Keyterms
	return t, p, nil
}

func newDispatcher(dc config.DeliveryConfig) (*delivery.Dispatcher, error) {
	clip := &clipboard.System{}

	strategies := []delivery.Strategy{
		&delivery.TypeStrategy{Typer: delivery.RobotTyper{}, Chunk: dc.TypeChunk},
		delivery.AccessibilityStrategy{},
	}
	if keys, err := delivery.NewKeybdPaster(); err != nil {
		slog.Warn("paste strategy disabled", "error", err)
	} else {
		strategies = append(strategies, delivery.NewPasteStrategy(clip, keys))
	}

	overrides := delivery.NewOverrides()
	for name, o := range dc.Overrides {
		var ov delivery.Override
		for _, spec := range o.Transforms {
			tr, err := delivery.ParseTransform(spec)
			if err != nil {
				return nil, fmt.Errorf("override %s: %w", name, err)
			}
			ov.Transforms = append(ov.Transforms, tr)
		}
		ov.Strategies = o.Strategies
		overrides.Register(name, ov)
	}

	return delivery.NewDispatcher(delivery.Config{
		Order:           dc.Strategies,
		SettleDelay:     config.Millis(dc.SettleDelayMS),
		StrategyTimeout: config.Millis(dc.StrategyTimeoutMS),
	}, clip, overrides, strategies...), nil
}

func openHistory(hc config.HistoryConfig) (*history.Store, error) {
	dir := hc.Dir
	if dir == "" {
		base, err := config.DataDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "history")
	}
	store, err := history.Open(history.Options{
		Dir:       dir,
		Retention: time.Duration(hc.RetentionDays) * 24 * time.Hour,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("history initialized", "path", dir)
	return store, nil
}
