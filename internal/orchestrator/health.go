package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/nerrad567/vendorsync/internal/topology"
	"github.com/nerrad567/vendorsync/internal/vendor"
)

// CheckGateways polls the online flag of every gateway on the account for
// data updated since the given time. Each result is recorded as a gateway
// status measurement and as the gateway's online property. A gateway whose
// poll fails counts as offline.
func (o *Orchestrator) CheckGateways(ctx context.Context, since time.Time) (CheckResult, error) {
	list, err := o.client.GetGatewayList(ctx)
	if err != nil {
		return CheckResult{}, fmt.Errorf("listing gateways on %s: %w", o.Server(), err)
	}

	lastUpdate := vendor.LastUpdateTime(since, o.loc)
	now := o.now()
	res := CheckResult{Online: make(map[int64]bool, len(list)), Healthy: true}

	for _, entry := range list {
		online, err := o.client.CheckGatewayOnline(ctx, entry.GMACID, lastUpdate)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			o.logWarn("gateway status poll failed", "server", o.Server(),
				"gateway", entry.GMACID, "error", err)
			online = false
		}
		res.Online[entry.GMACID] = online
		if online {
			o.logDebug("gateway online", "server", o.Server(), "gateway", entry.GMACID, "name", entry.GN)
		} else {
			res.Healthy = false
			o.logWarn("gateway offline", "server", o.Server(), "gateway", entry.GMACID, "name", entry.GN)
		}
		o.recordGatewayStatus(ctx, entry.GMACID, now, online)
	}

	o.recordOnlineCount(res)
	return res, nil
}

// CheckGatewaysOnline is the scheduled liveness check. It looks back over
// the configured health-check window.
func (o *Orchestrator) CheckGatewaysOnline(ctx context.Context) (CheckResult, error) {
	return o.CheckGateways(ctx, o.now().Add(-o.window))
}

// HealthCheck is the push channel health check. It reports false when any
// gateway's online status changed since the previous check, because a
// transition may mean an update was missed. Offline gateways alone do not
// make the channel unhealthy. The first check only records a baseline.
func (o *Orchestrator) HealthCheck(ctx context.Context) (bool, error) {
	res, err := o.CheckGateways(ctx, o.now())
	if err != nil {
		return false, err
	}

	o.mu.Lock()
	previous := o.previous
	o.previous = res.Online
	o.mu.Unlock()

	if previous != nil && !maps.Equal(previous, res.Online) {
		o.logInfo("gateway online status changed since last health check", "server", o.Server(),
			"previous", fmt.Sprint(previous), "current", fmt.Sprint(res.Online))
		return false, nil
	}
	if !res.Healthy {
		o.logWarn("not all gateways are online", "server", o.Server(),
			"online", res.OnlineCount(), "total", len(res.Online))
	}
	return true, nil
}

func (o *Orchestrator) recordGatewayStatus(ctx context.Context, mac int64, t time.Time, online bool) {
	if err := o.store.AddGatewayStatus(ctx, strconv.FormatInt(mac, 10), t, online); err != nil {
		o.logWarn("recording gateway status failed", "server", o.Server(), "gateway", mac, "error", err)
	}

	gw, err := o.topology.GetGateway(ctx, o.vendor, mac)
	if err != nil {
		if !errors.Is(err, topology.ErrGatewayNotFound) {
			o.logWarn("loading gateway failed", "server", o.Server(), "gateway", mac, "error", err)
		}
		return
	}
	if err := o.topology.SetGatewayProperty(ctx, gw.ID, topology.PropertyOnline, strconv.FormatBool(online)); err != nil {
		o.logWarn("updating gateway online property failed", "server", o.Server(), "gateway", mac, "error", err)
	}
}
