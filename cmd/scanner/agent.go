package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xelth-com/yatrasync/internal/config"
	"github.com/xelth-com/yatrasync/internal/identity"
	"github.com/xelth-com/yatrasync/internal/localstore"
	"github.com/xelth-com/yatrasync/internal/logging"
	"github.com/xelth-com/yatrasync/internal/netmon"
	"github.com/xelth-com/yatrasync/internal/remote"
	yatrasync "github.com/xelth-com/yatrasync/internal/sync"
)

// agent bundles everything a scanner process owns
type agent struct {
	cfg    *config.DeviceConfig
	log    *logrus.Logger
	kv     *localstore.Store
	device identity.DeviceIdentity
	net    *netmon.Monitor
	engine *yatrasync.Engine
}

func openAgent(cmd *cobra.Command) (*agent, error) {
	cfg := config.LoadDeviceConfig()
	if data, _ := cmd.Flags().GetString("data"); data != "" {
		cfg.DataPath = data
	}

	log := logging.New(cfg.Log)
	for _, w := range cfg.Warnings {
		log.Warn("⚠️ " + w)
	}

	kv, err := localstore.Open(cfg.DataPath, log)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	device, err := identity.GetOrCreate(kv, cfg.DeviceID)
	if err != nil {
		kv.Close()
		return nil, err
	}
	if device.Generated {
		log.WithField("device_id", device.DeviceID).Info("🆔 New device identity created")
	}

	mon := netmon.New(cfg.Routes, log)
	client := remote.NewHTTPClient(mon.CurrentRoute, cfg.Token, device, cfg.Sync.Timeout())

	engine, err := yatrasync.NewEngine(yatrasync.Options{
		Device:  device,
		KV:      kv,
		Remote:  client,
		Network: mon,
		Config:  cfg.Sync,
		Logger:  log,
	})
	if err != nil {
		kv.Close()
		return nil, err
	}

	return &agent{cfg: cfg, log: log, kv: kv, device: device, net: mon, engine: engine}, nil
}

func (a *agent) Close() {
	a.engine.Stop()
	if err := a.kv.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close local store")
	}
}
