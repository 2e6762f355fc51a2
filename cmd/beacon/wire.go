package main

import (
	"context"
	"fmt"

	"github.com/dkeye/Beacon/internal/adapters/baas"
	"github.com/dkeye/Beacon/internal/adapters/device"
	"github.com/dkeye/Beacon/internal/adapters/events"
	router "github.com/dkeye/Beacon/internal/adapters/http"
	"github.com/dkeye/Beacon/internal/adapters/localstore"
	"github.com/dkeye/Beacon/internal/adapters/realtime"
	"github.com/dkeye/Beacon/internal/adapters/rtc"
	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/auth"
	"github.com/dkeye/Beacon/internal/app/directory"
	"github.com/dkeye/Beacon/internal/app/location"
	"github.com/dkeye/Beacon/internal/app/media"
	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/app/profile"
	"github.com/dkeye/Beacon/internal/app/push"
	"github.com/dkeye/Beacon/internal/config"
	"github.com/rs/zerolog/log"
)

// deps is everything one process needs, built from config.
type deps struct {
	store    *localstore.Store
	baas     *baas.Client
	realtime *realtime.Client
	alerts   *alert.Sink
	auth     *auth.Manager
	orch     *orch.Orchestrator
	services *router.Services
}

func build(ctx context.Context, cfg *config.Config) (*deps, error) {
	store, err := localstore.Open(ctx, cfg.StorePath, cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	alerts := alert.NewSink()
	api := baas.New(baas.Options{
		URL:         cfg.BaaS.URL,
		AnonKey:     cfg.BaaS.AnonKey,
		ChunkSize:   cfg.Upload.ChunkSize,
		RetryDelays: cfg.Upload.RetryDelays,
		OnProgress: func(object string, sent, total int64) {
			log.Debug().Str("module", "upload").Str("object", object).Int64("sent", sent).Int64("total", total).Msg("progress")
		},
	})
	rt := realtime.NewClient(realtime.Options{
		URL:             cfg.BaaS.URL,
		APIKey:          cfg.BaaS.AnonKey,
		Heartbeat:       cfg.Realtime.Heartbeat,
		JoinTimeout:     cfg.Realtime.JoinTimeout,
		EventsPerSecond: cfg.Realtime.EventsPerSecond,
		SendQueue:       cfg.Realtime.SendQueue,
	})

	mgr := auth.NewManager(api, store, device.NoBiometrics{}, alerts, cfg.Features.RefreshMargin)
	mgr.OnToken(func(token string) {
		api.SetAccessToken(token)
		rt.SetAuth(token)
	})

	webrtcAPI, err := rtc.NewAPI()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("webrtc api: %w", err)
	}
	prompter := device.Prompter{Granted: device.Permissions(cfg.Device.Permissions)}
	pipeline := media.NewPipeline(api, api, alerts, cfg.Upload.MaxBytes)
	dir := directory.NewService(api, alerts)

	o := &orch.Orchestrator{
		Registry:       app.NewRegistry(),
		Hub:            app.NewHub(app.TolerantPolicy{MaxStrikes: 8}),
		Identity:       mgr,
		Channels:       rt,
		Tables:         api,
		Pipeline:       pipeline,
		Directory:      dir,
		Media:          rtc.NewFactory(webrtcAPI, rtc.DefaultWebRTCConfig(cfg.Call.ICEServers)),
		Prompter:       prompter,
		Alerts:         alerts,
		HistoryLimit:   cfg.Features.ChatHistory,
		CursorThrottle: cfg.Features.CursorThrottle,
	}
	o.ForwardAlerts()

	return &deps{
		store:    store,
		baas:     api,
		realtime: rt,
		alerts:   alerts,
		auth:     mgr,
		orch:     o,
		services: &router.Services{
			Orch:      o,
			Auth:      mgr,
			Directory: dir,
			Location:  location.NewService(api, alerts),
			Profile:   profile.NewService(api, pipeline, alerts),
			Push:      push.NewRegistrar(api, prompter, alerts),
			Events:    &events.Controller{Orch: o, PingPeriod: cfg.PingPeriod, ReadLimit: cfg.ReadLimit},
		},
	}, nil
}

func (d *deps) Close(ctx context.Context) {
	if u, err := d.auth.User(); err == nil {
		d.orch.CloseAll(ctx, u.ID)
	}
	d.realtime.Close()
	if err := d.store.Close(); err != nil {
		log.Warn().Err(err).Msg("close local store")
	}
}
