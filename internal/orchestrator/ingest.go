package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nerrad567/vendorsync/internal/measurement"
	"github.com/nerrad567/vendorsync/internal/topology"
	"github.com/nerrad567/vendorsync/internal/trigger"
	"github.com/nerrad567/vendorsync/internal/vendor"
)

// IngestLogin reconciles a login snapshot into the topology store and
// records the current value of every known parameter.
//
// Gateways, devices and parameters are created on first sight. Records that
// cannot be interpreted are skipped with a warning and their siblings are
// still processed; storage failures are collected and returned together.
func (o *Orchestrator) IngestLogin(ctx context.Context, res *vendor.LoginResponse) error {
	if res == nil {
		return nil
	}
	var errs []error
	for _, state := range res.GDDO {
		if err := o.ingestSnapshotGateway(ctx, res, state); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ingestSnapshotGateway creates or refreshes one gateway from the snapshot
// and records its devices. A gateway absent from the GD configuration list
// is skipped since its device types cannot be resolved.
func (o *Orchestrator) ingestSnapshotGateway(ctx context.Context, res *vendor.LoginResponse, state vendor.GatewayState) error {
	mac := state.GMACID
	if !state.Online() {
		o.logWarn("gateway is offline", "server", o.Server(), "gateway", mac)
	}

	info, ok := res.GatewayInfo(mac)
	if !ok {
		o.logWarn("gateway missing from configuration data, skipping",
			"server", o.Server(), "gateway", mac)
		return nil
	}

	gw, created, err := o.topology.EnsureGateway(ctx, o.vendor, mac, o.site)
	if err != nil {
		return fmt.Errorf("gateway %d: %w", mac, err)
	}
	if created {
		o.logInfo("created gateway", "server", o.Server(), "gateway", mac, "id", gw.ID)
		if err := o.topology.SetGatewayProperty(ctx, gw.ID, topology.PropertyServer, o.Server()); err != nil {
			return fmt.Errorf("gateway %d: %w", mac, err)
		}
	}
	if name, ok := res.GatewayName(mac); ok {
		if _, err := o.topology.AddGatewayProperty(ctx, gw.ID, topology.PropertyName, name); err != nil {
			return fmt.Errorf("gateway %d: %w", mac, err)
		}
	}
	if serial := info.GSN.String(); serial != "" {
		if _, err := o.topology.AddGatewayProperty(ctx, gw.ID, topology.PropertySerial, serial); err != nil {
			return fmt.Errorf("gateway %d: %w", mac, err)
		}
	}

	// Device types come from the configuration list, values from the state
	// list; a device must appear in both.
	var errs []error
	for _, zone := range state.ZNDS {
		for _, ds := range zone.DDDO {
			dinfo, ok := info.Device(zone.ZID, ds.DRefID)
			if !ok {
				o.logWarn("device missing from configuration data, skipping", "server", o.Server(),
					"gateway", mac, "zone", zone.ZID, "device", ds.DRefID)
				continue
			}
			dtype, err := vendor.ResolveDeviceType(dinfo.DTID, dinfo.DPDO)
			if err != nil {
				o.logWarn("skipping device", "server", o.Server(),
					"gateway", mac, "device", ds.DRefID, "error", err)
				continue
			}
			dev, created, err := o.topology.EnsureDevice(ctx, gw.ID, ds.DRefID, string(dtype), zone.ZID)
			if err != nil {
				errs = append(errs, fmt.Errorf("gateway %d device %d: %w", mac, ds.DRefID, err))
				continue
			}
			if created {
				o.logInfo("created device", "server", o.Server(), "gateway", mac,
					"device", ds.DRefID, "type", dtype.Description())
			}
			if err := o.ingestDevice(ctx, gw, dev, dtype, ds.DPDO); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// IngestPush records the parameter values carried by one push update.
// Devices missing from the topology store are skipped; they are created by
// the next login snapshot.
//
// Parameters:
//   - ctx: Context for store and topology calls
//   - data: Decoded push update; records dropped while decoding are already
//     absent
//
// Returns:
//   - error: Storage failures of all devices joined, or nil
func (o *Orchestrator) IngestPush(ctx context.Context, data *vendor.PushData) error {
	state := data.GDDO
	gw, err := o.topology.GetGateway(ctx, o.vendor, state.GMACID)
	if errors.Is(err, topology.ErrGatewayNotFound) {
		o.logWarn("push update for unknown gateway", "server", o.Server(), "gateway", state.GMACID)
		return nil
	}
	if err != nil {
		return err
	}

	var errs []error
	for _, zone := range state.ZNDS {
		for _, ds := range zone.DDDO {
			dev, err := o.topology.GetDevice(ctx, gw.ID, ds.DRefID)
			if errors.Is(err, topology.ErrDeviceNotFound) {
				o.logWarn("push update for unknown device", "server", o.Server(),
					"gateway", state.GMACID, "device", ds.DRefID)
				continue
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			// Push updates carry no DTID; the device type stored at creation is used.
			if err := o.ingestDevice(ctx, gw, dev, vendor.DeviceType(dev.TypeCode), ds.DPDO); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ingestDevice records the supported parameters of one device, creating
// parameters seen for the first time.
func (o *Orchestrator) ingestDevice(ctx context.Context, gw *topology.Gateway, dev *topology.Device, dtype vendor.DeviceType, states []vendor.ParameterState) error {
	if !dtype.Known() {
		o.logWarn("unknown device type, skipping", "device", dev.ID, "type", string(dtype))
		return nil
	}

	var errs []error
	for _, st := range states {
		code := strconv.FormatInt(st.DPRefID, 10)
		if !dtype.Supports(code) {
			o.logDebug("ignoring unsupported parameter type", "device", dev.ID,
				"device_type", string(dtype), "parameter_type", code)
			continue
		}
		param, err := o.ensureParameter(ctx, dev, code)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := o.ingestState(ctx, gw, param, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ensureParameter returns the parameter of type code on dev, creating it
// with its catalogue unit when missing.
func (o *Orchestrator) ensureParameter(ctx context.Context, dev *topology.Device, code string) (*topology.Parameter, error) {
	unit, ok := vendor.UnitFor(code)
	if !ok {
		o.logWarn("no unit known for parameter type", "parameter_type", code)
	}
	param, created, err := o.topology.EnsureParameter(ctx, dev.ID, code, unit, o.vendor)
	if err != nil {
		return nil, fmt.Errorf("device %d parameter type %s: %w", dev.ID, code, err)
	}
	if created {
		o.logInfo("created parameter", "device", dev.ID, "parameter", param.ID,
			"type", vendor.ParameterDescription(code))
	}
	return param, nil
}

// ingestState decodes one parameter record, attributes it and stores it
// unless it is not newer than what is already stored.
func (o *Orchestrator) ingestState(ctx context.Context, gw *topology.Gateway, param *topology.Parameter, st vendor.ParameterState) error {
	// An unparseable value is still stored, as 0.
	value, ok := vendor.ParseValue(st.CV)
	if !ok {
		o.logError("unparseable parameter value, recording 0", "parameter", param.ID, "value", st.CV.String())
	}
	t, err := vendor.ParseLUT(st.LUT, o.loc)
	if err != nil {
		o.logWarn("unparseable last update time, skipping", "parameter", param.ID, "error", err)
		return nil
	}

	// Login snapshots replay values already recorded; only strictly newer
	// points are written.
	latest, err := o.store.Latest(ctx, param.ID)
	if err != nil {
		return fmt.Errorf("parameter %d: %w", param.ID, err)
	}
	if latest != nil && !t.After(latest.Time) {
		o.logDebug("ignoring state not newer than latest measurement", "parameter", param.ID,
			"time", t, "latest", latest.Time)
		return nil
	}

	source, err := o.correlator.Attribute(ctx, param.ID, value)
	if err != nil {
		o.logWarn("attribution failed, recording as on-device", "parameter", param.ID, "error", err)
		source = trigger.OnDevice
	}

	mp := measurement.Parameter{ID: param.ID, TypeCode: param.TypeCode, Site: gw.Site}
	if _, err := o.store.Add(ctx, mp, t, value, source, nil); err != nil {
		// The value is stored; a missed notification is logged by the store.
		if errors.Is(err, measurement.ErrNotifyFailed) {
			return nil
		}
		return err
	}
	return nil
}
