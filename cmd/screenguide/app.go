package main

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/UmanUmair/ScreenGuide/internal/capture"
	"github.com/UmanUmair/ScreenGuide/internal/governance"
	"github.com/UmanUmair/ScreenGuide/internal/guidance"
	"github.com/UmanUmair/ScreenGuide/internal/instruction"
	"github.com/UmanUmair/ScreenGuide/internal/observability"
	"github.com/UmanUmair/ScreenGuide/internal/permission"
	"github.com/UmanUmair/ScreenGuide/internal/popup"
	"github.com/UmanUmair/ScreenGuide/internal/store"
	"github.com/UmanUmair/ScreenGuide/internal/vision"
	"github.com/UmanUmair/ScreenGuide/pkg/config"
)

// app holds every wired component of a running instance.
type app struct {
	cfg       *config.Config
	logger    *observability.Logger
	status    *observability.Status
	history   *store.HistoryStore
	screen    capture.ScreenSource
	perms     *permission.Gateway
	processor *instruction.Processor
	vision    *vision.Client
	poller    *vision.Poller
	inputs    *capture.Inputs
	orch      *guidance.Orchestrator
	guide     *popup.Guide
}

func newLogger(cfg *config.Config) (*observability.Logger, error) {
	return observability.NewLogger(observability.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		FilePath:    cfg.Log.FilePath,
		Development: cfg.Log.Development,
	})
}

func newScreen(cfg *config.Config) capture.ScreenSource {
	if cfg.Capture.Screen == "browser" {
		return capture.NewBrowserScreen(cfg.Capture.BrowserURL)
	}
	return capture.NewDesktopScreen(cfg.Capture.Display, cfg.Capture.FramesDir)
}

// newVision builds the model (nil in simulation mode) and the guarded client.
func newVision(cfg *config.Config, prompts *vision.PromptManager, logger *observability.Logger) (llms.Model, *vision.Client, error) {
	name, p := cfg.GetDefaultProvider()

	var model llms.Model
	if !cfg.SimulationMode() {
		var err error
		model, err = vision.NewModel(name, p, cfg.VisionAPIKey())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize vision model: %w", err)
		}
		logger.Info("vision model ready", zap.String("provider", name), zap.String("model", p.Model))
	} else {
		logger.Info("no vision API key configured, running in simulation mode")
	}

	analyzer := vision.NewAnalyzer(model, prompts, p, cfg.Guidance.SimulatedDelay, logger.Named("vision"))
	return model, vision.NewClient(analyzer), nil
}

func buildApp(cfg *config.Config, logger *observability.Logger) (*app, error) {
	history, err := store.NewHistoryStore(cfg.Memory.Path, cfg.Guidance.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		status:  observability.NewStatus(),
		history: history,
		screen:  newScreen(cfg),
	}

	policy := governance.NewDefaultPolicyEngine()
	for _, c := range cfg.Permissions.Denied {
		policy.DenyCapability(c)
	}
	policy.RequireSecureOrigin = cfg.Permissions.RequireSecureOrigin

	platform := capture.NewHostPlatform(a.screen, cfg.Capture.AudioDevice, cfg.Capture.CameraDevice)
	a.perms = permission.NewGateway(platform,
		permission.WithPolicy(policy),
		permission.WithOrigin(cfg.App.Origin),
		permission.WithLogger(logger.Named("permission")),
	)

	prompts := vision.NewPromptManager(cfg.App.Prompts)
	model, client, err := newVision(cfg, prompts, logger)
	if err != nil {
		history.Close()
		return nil, err
	}
	a.vision = client
	a.poller = vision.NewPoller(client, cfg.Guidance.AnalysisTimeout, logger.Named("poller"))

	ocr := capture.ChainOCR{}
	if model != nil {
		ocr = append(ocr, &capture.ModelOCR{Model: model, Prompts: prompts})
	}
	ocr = append(ocr, &capture.TesseractOCR{})

	a.inputs = &capture.Inputs{
		Screen:   a.screen,
		OCR:      ocr,
		Articles: capture.NewArticleFetcher(),
		Logger:   logger.Named("capture"),
	}
	if _, p := cfg.GetDefaultProvider(); !cfg.SimulationMode() && p.TranscriptionModel != "" {
		a.inputs.Transcriber = capture.NewRemoteTranscriber(p.BaseURL, cfg.VisionAPIKey(), p.TranscriptionModel)
	}

	a.processor = instruction.NewProcessor(cfg.Guidance.ProcessingDelay)
	if cfg.Guidance.MaxSteps > 0 {
		a.processor.MaxSteps = cfg.Guidance.MaxSteps
	}

	a.orch = guidance.New(a.processor, history, a.perms, a.poller,
		guidance.WithFrames(a.screen.Capture),
		guidance.WithTimings(guidance.Timings{
			PollInterval:     cfg.Guidance.PollInterval,
			StepAdvanceDelay: cfg.Guidance.StepAdvanceDelay,
			AICompleteDelay:  cfg.Guidance.AICompleteDelay,
		}),
		guidance.WithLogger(logger.Named("guidance")),
		guidance.WithStatus(a.status),
	)

	a.guide = popup.New(history,
		popup.WithInterval(cfg.Popup.AutoAdvance),
		popup.WithLogger(logger.Named("guide")),
		popup.OnComplete(func() { logger.Info("onboarding guide completed") }),
		popup.OnDismiss(func() { logger.Info("onboarding guide dismissed") }),
	)
	return a, nil
}

func (a *app) Close() {
	a.orch.Close()
	a.guide.Shutdown()
	if err := a.screen.Close(); err != nil {
		a.logger.Warn("failed to close screen source", zap.Error(err))
	}
	if err := a.history.Close(); err != nil {
		a.logger.Warn("failed to close history store", zap.Error(err))
	}
}
