package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UmanUmair/ScreenGuide/internal/gateway"
	"github.com/UmanUmair/ScreenGuide/internal/observability"
	"github.com/UmanUmair/ScreenGuide/internal/server"
	"github.com/UmanUmair/ScreenGuide/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and chat gateways",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	dashboard := cfg.Log.Dashboard && observability.IsTerminal()
	if dashboard {
		observability.PrintBanner()
		observability.InitializeTerminal()
		defer observability.CleanupTerminal()
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.guide.Open(); err != nil {
		logger.Warn("failed to restore onboarding guide", zap.Error(err))
	}

	srv := server.New(server.Deps{
		Orchestrator: a.orch,
		Inputs:       a.inputs,
		Processor:    a.processor,
		Vision:       a.vision,
		Permissions:  a.perms,
		Tasks:        a.history,
		Guide:        a.guide,
	}, server.WithListen(cfg.App.Listen), server.WithLogger(logger.Named("http")))

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	dispatcher := gateway.NewDispatcher(a.orch, a.inputs, logger.Named("gateway"))
	stopWatch := dispatcher.Watch()
	defer stopWatch()

	messengers := startGateways(cfg, dispatcher, logger, stop)
	defer func() {
		for _, m := range messengers {
			if err := m.Stop(); err != nil {
				logger.Warn("failed to stop gateway", zap.Error(err))
			}
		}
	}()

	if dashboard {
		go runTicker(ctx, time.Second, observability.NewDashboard(a.status).Print)
	}
	go runTicker(ctx, 30*time.Second, func() {
		a.status.Heartbeat()
		logger.LogHeartbeat()
	})

	<-ctx.Done()

	shutdownCtx := context.WithoutCancel(ctx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func startGateways(cfg *config.Config, dispatcher *gateway.Dispatcher, logger *observability.Logger, stop context.CancelFunc) []gateway.Messenger {
	var messengers []gateway.Messenger

	if tgCfg, ok := cfg.GetGatewayConfig("telegram"); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, dispatcher, logger.Named("telegram"))
		if err != nil {
			logger.Error("failed to start telegram gateway", zap.Error(err))
		} else {
			messengers = append(messengers, tg)
		}
	}
	if dcCfg, ok := cfg.GetGatewayConfig("discord"); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, dispatcher, logger.Named("discord"))
		if err != nil {
			logger.Error("failed to start discord gateway", zap.Error(err))
		} else {
			messengers = append(messengers, dc)
		}
	}

	for _, m := range messengers {
		go func(m gateway.Messenger) {
			if err := m.Start(); err != nil {
				logger.Error("gateway stopped", zap.Error(err))
				stop()
			}
		}(m)
	}
	return messengers
}

func runTicker(ctx context.Context, every time.Duration, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
