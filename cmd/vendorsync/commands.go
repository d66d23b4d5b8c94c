package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/vendorsync/internal/api"
	"github.com/nerrad567/vendorsync/internal/infrastructure/logging"
	"github.com/nerrad567/vendorsync/internal/orchestrator"
	"github.com/nerrad567/vendorsync/internal/pushchannel"
	"github.com/nerrad567/vendorsync/internal/trigger"
)

// runSync bootstraps every configured server, keeps its push channel up and
// applies change commands from the bus until ctx is cancelled or every
// channel has run out of reconnect attempts.
func runSync(ctx context.Context, a *app) error {
	changer, err := a.newChanger()
	if err != nil {
		return fmt.Errorf("creating change path: %w", err)
	}
	topics := a.bus.Topics()
	if err := a.bus.Subscribe(topics.AllStateCommands(), byte(a.cfg.MQTT.QoS), changer.CommandHandler(ctx, topics)); err != nil {
		return fmt.Errorf("subscribing to change commands: %w", err)
	}
	a.log.Info("listening for change commands", "topic", topics.AllStateCommands())

	relay := orchestrator.NewStateRelay(a.publisher, a.log)
	relayCtx, stopRelay := context.WithCancel(context.WithoutCancel(ctx))
	relayDone := make(chan struct{})
	go func() {
		relay.Run(relayCtx)
		close(relayDone)
	}()
	defer func() {
		stopRelay()
		<-relayDone
	}()

	workers := make([]serverWorker, 0, len(a.clients))
	channels := make([]api.Channel, 0, len(a.clients))

	for _, name := range a.cfg.Vendor.ServerNames() {
		log := a.log.With("server", name)

		orch, err := a.newOrchestrator(name)
		if err != nil {
			return fmt.Errorf("creating orchestrator for %q: %w", name, err)
		}
		if err := orch.Bootstrap(ctx); err != nil {
			log.Warn("initial login failed, the push channel will log in again", "error", err)
		} else {
			log.Info("topology bootstrapped")
		}

		var mgr *pushchannel.Manager
		mgr, err = pushchannel.New(pushchannel.Options{
			Server:      name,
			Address:     orch.Address,
			OnMessage:   orch.HandlePushMessage,
			HealthCheck: orch.HealthCheck,
			OnPhase: func(pushchannel.Phase, pushchannel.Phase) {
				relay.Offer(mgr.State())
			},
			Logger: log,
			Config: a.cfg.Vendor.PushChannel,
		})
		if err != nil {
			return fmt.Errorf("creating push channel for %q: %w", name, err)
		}
		workers = append(workers, serverWorker{name: name, log: log, ingest: orch.Run, channel: mgr.Run})
		channels = append(channels, mgr)
	}

	if a.cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:   a.cfg.API,
			Logger:   a.log,
			Channels: channels,
			Checks: map[string]api.Checker{
				"database": a.db,
				"redis":    a.kv,
				"mqtt":     a.bus,
				"influxdb": a.influx,
			},
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				a.log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	a.log.Info("initialisation complete, waiting for shutdown signal", "servers", len(workers))
	if err := runWorkers(ctx, workers); err != nil {
		return err
	}
	a.log.Info("vendorsync stopped")
	return nil
}

// errAllChannelsDown ends a sync run once no server has a push channel left.
var errAllChannelsDown = errors.New("every push channel ran out of reconnect attempts")

// serverWorker is the push pipeline of one server: the worker applying
// queued updates and the push channel feeding it.
type serverWorker struct {
	name    string
	log     *logging.Logger
	ingest  func(context.Context) error
	channel func(context.Context) error
}

// runWorkers runs every server's pipeline until ctx is cancelled. A channel
// that runs out of reconnect attempts stops alone: it is logged and the
// other servers keep syncing. The run fails once every channel has stopped
// that way, or when any pipeline returns another error.
func runWorkers(ctx context.Context, workers []serverWorker) error {
	g, gctx := errgroup.WithContext(ctx)
	var gaveUp atomic.Int32
	for _, w := range workers {
		g.Go(func() error {
			return w.ingest(gctx)
		})
		g.Go(func() error {
			err := w.channel(gctx)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, pushchannel.ErrRetriesExhausted):
				w.log.Error("push channel stopped, no more pushes from this server", "error", err)
				if int(gaveUp.Add(1)) == len(workers) {
					return errAllChannelsDown
				}
				return nil
			default:
				return fmt.Errorf("push channel %q: %w", w.name, err)
			}
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runChange asks for one parameter change on behalf of triggerCode.
func runChange(ctx context.Context, a *app, parameterID int64, value, triggerCode string) error {
	target, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("value %q is not a number: %w", value, err)
	}
	source, err := trigger.ParseSource(triggerCode)
	if err != nil {
		return err
	}

	changer, err := a.newChanger()
	if err != nil {
		return fmt.Errorf("creating change path: %w", err)
	}
	if err := changer.RequestChange(ctx, parameterID, target, source); err != nil {
		return fmt.Errorf("changing parameter %d: %w", parameterID, err)
	}
	a.log.Info("change requested", "parameter", parameterID, "value", target.String(), "trigger", source)
	return nil
}

// runCheckGateways polls every gateway once and records its online status.
func runCheckGateways(ctx context.Context, a *app) error {
	var errs []error
	for _, name := range a.cfg.Vendor.ServerNames() {
		orch, err := a.newOrchestrator(name)
		if err != nil {
			return fmt.Errorf("creating orchestrator for %q: %w", name, err)
		}
		res, err := orch.CheckGatewaysOnline(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		a.log.Info("gateways checked",
			"server", name,
			"online", res.OnlineCount(),
			"total", len(res.Online),
		)
	}
	return errors.Join(errs...)
}
