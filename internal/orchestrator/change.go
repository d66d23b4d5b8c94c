package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nerrad567/vendorsync/internal/infrastructure/mqtt"
	"github.com/nerrad567/vendorsync/internal/measurement"
	"github.com/nerrad567/vendorsync/internal/metrics"
	"github.com/nerrad567/vendorsync/internal/topology"
	"github.com/nerrad567/vendorsync/internal/trigger"
	"github.com/nerrad567/vendorsync/internal/vendor"
)

// ActionChangeRequest marks a ChangeRequestEvent on the bus.
const ActionChangeRequest = "change_request"

// ChangeRequestEvent announces that a parameter change was requested.
// Current is nil when the parameter has no recorded value yet.
type ChangeRequestEvent struct {
	ID              string           `json:"id"`
	Action          string           `json:"action"`
	DeviceParameter int64            `json:"device_parameter"`
	Type            string           `json:"type"`
	Current         *decimal.Decimal `json:"current"`
	Intent          decimal.Decimal  `json:"intent"`
	Trigger         trigger.Source   `json:"trigger"`
	Site            string           `json:"site"`
	Time            time.Time        `json:"time"`
}

// EventPublisher delivers change request events to the event bus.
type EventPublisher interface {
	PublishChangeRequest(ctx context.Context, ev ChangeRequestEvent) error
}

// ChangeRecorder keeps the pending change ledger.
type ChangeRecorder interface {
	RecordPendingChange(ctx context.Context, parameterID int64, target decimal.Decimal, source trigger.Source) error
}

// Actuator writes a parameter value on the system that owns the device.
type Actuator interface {
	Actuate(ctx context.Context, pc topology.ParameterContext, target decimal.Decimal) error
}

// ChangerOptions configures a Changer.
type ChangerOptions struct {
	Topology   topology.Repository
	Correlator ChangeRecorder
	Events     EventPublisher
	Logger     Logger

	// Store supplies the current value carried by change request events.
	// Optional.
	Store *measurement.Store

	// Actuators maps a parameter's capability name to its writer.
	Actuators map[string]Actuator

	Now func() time.Time
}

// Changer carries requested parameter changes out to the vendor.
type Changer struct {
	topology   topology.Repository
	correlator ChangeRecorder
	events     EventPublisher
	store      *measurement.Store
	actuators  map[string]Actuator
	logger     Logger
	now        func() time.Time
	newID      func() string
}

// NewChanger validates opts and builds a Changer.
func NewChanger(opts ChangerOptions) (*Changer, error) {
	if opts.Topology == nil {
		return nil, fmt.Errorf("topology repository is required")
	}
	if opts.Correlator == nil {
		return nil, fmt.Errorf("change recorder is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Changer{
		topology:   opts.Topology,
		correlator: opts.Correlator,
		events:     opts.Events,
		store:      opts.Store,
		actuators:  opts.Actuators,
		logger:     opts.Logger,
		now:        opts.Now,
		newID:      func() string { return uuid.NewString() },
	}, nil
}

// RequestChange asks for parameterID to take target on behalf of source.
//
// The request is announced on the bus and recorded in the pending change
// ledger before the write is issued, so the push that reports the new value
// is attributed to source. A parameter without a registered write
// capability fails with ErrNotWritable before anything is recorded.
func (c *Changer) RequestChange(ctx context.Context, parameterID int64, target decimal.Decimal, source trigger.Source) (err error) {
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
		}
		metrics.IncChangeRequest(result)
	}()

	if !source.Valid() {
		return fmt.Errorf("%w: %q", trigger.ErrUnknownSource, source)
	}
	pc, err := c.topology.ResolveParameter(ctx, parameterID)
	if err != nil {
		return err
	}
	if !pc.Parameter.Writable() {
		return fmt.Errorf("%w: parameter %d", ErrNotWritable, parameterID)
	}
	act, ok := c.actuators[pc.Parameter.Capability]
	if !ok {
		return fmt.Errorf("%w: parameter %d capability %q has no actuator",
			ErrNotWritable, parameterID, pc.Parameter.Capability)
	}

	c.announce(ctx, pc, target, source)

	if err := c.correlator.RecordPendingChange(ctx, parameterID, target, source); err != nil {
		return fmt.Errorf("recording pending change for parameter %d: %w", parameterID, err)
	}

	c.logInfo("requesting parameter change", "parameter", parameterID,
		"gateway", pc.Gateway.ExternalID, "target", target.String(), "trigger", string(source))
	if err := act.Actuate(ctx, *pc, target); err != nil {
		return fmt.Errorf("parameter %d: %w", parameterID, err)
	}
	return nil
}

// announce publishes the change request event. Failures are logged only.
func (c *Changer) announce(ctx context.Context, pc *topology.ParameterContext, target decimal.Decimal, source trigger.Source) {
	if c.events == nil {
		return
	}
	ev := ChangeRequestEvent{
		ID:              c.newID(),
		Action:          ActionChangeRequest,
		DeviceParameter: pc.Parameter.ID,
		Type:            pc.Parameter.TypeCode,
		Intent:          target,
		Trigger:         source,
		Site:            pc.Gateway.Site,
		Time:            c.now().UTC(),
	}
	if c.store != nil {
		latest, err := c.store.Latest(ctx, pc.Parameter.ID)
		if err != nil {
			c.logWarn("reading current value failed", "parameter", pc.Parameter.ID, "error", err)
		} else if latest != nil {
			current := latest.Value
			ev.Current = &current
		}
	}
	if err := c.events.PublishChangeRequest(ctx, ev); err != nil {
		c.logWarn("change request notification not delivered", "parameter", pc.Parameter.ID, "error", err)
	}
}

// ChangeCommand is a change request received on the bus. A bare number is
// accepted as a command with the API source.
type ChangeCommand struct {
	Value   *decimal.Decimal `json:"value"`
	Trigger trigger.Source   `json:"trigger,omitempty"`
}

// ParseCommand decodes a change command payload.
func ParseCommand(payload []byte) (ChangeCommand, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return ChangeCommand{}, fmt.Errorf("%w: empty payload", ErrBadCommand)
	}

	var cmd ChangeCommand
	if payload[0] == '{' {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return ChangeCommand{}, fmt.Errorf("%w: %w", ErrBadCommand, err)
		}
	} else {
		v, err := decimal.NewFromString(string(bytes.Trim(payload, `"`)))
		if err != nil {
			return ChangeCommand{}, fmt.Errorf("%w: %w", ErrBadCommand, err)
		}
		cmd.Value = &v
	}

	if cmd.Value == nil {
		return ChangeCommand{}, fmt.Errorf("%w: missing value", ErrBadCommand)
	}
	if cmd.Trigger == "" {
		cmd.Trigger = trigger.API
	}
	if !cmd.Trigger.Valid() {
		return ChangeCommand{}, fmt.Errorf("%w: %w: %q", ErrBadCommand, trigger.ErrUnknownSource, cmd.Trigger)
	}
	return cmd, nil
}

// CommandHandler returns an MQTT handler for state command topics.
func (c *Changer) CommandHandler(ctx context.Context, topics mqtt.Topics) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		id, ok := topics.ParseStateCommand(topic)
		if !ok {
			return fmt.Errorf("%w: topic %q", ErrBadCommand, topic)
		}
		cmd, err := ParseCommand(payload)
		if err != nil {
			return err
		}
		return c.RequestChange(ctx, id, *cmd.Value, cmd.Trigger)
	}
}

func (c *Changer) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Changer) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

// DeviceWriter is the write half of the vendor protocol client.
// *vendor.Client satisfies it.
type DeviceWriter interface {
	UpdateDeviceData(ctx context.Context, u vendor.DeviceUpdate) error
}

// VendorActuator writes parameters through the vendor protocol, choosing
// the client by the server recorded for the parameter's gateway.
type VendorActuator struct {
	clients map[string]DeviceWriter
}

// NewVendorActuator builds an actuator over clients keyed by server name.
func NewVendorActuator(clients map[string]DeviceWriter) *VendorActuator {
	return &VendorActuator{clients: clients}
}

// Actuate sends one device update.
func (a *VendorActuator) Actuate(ctx context.Context, pc topology.ParameterContext, target decimal.Decimal) error {
	w, ok := a.clients[pc.Server]
	if !ok {
		return fmt.Errorf("%w: %q for gateway %d", ErrUnknownServer, pc.Server, pc.Gateway.ExternalID)
	}
	ptype, err := strconv.ParseInt(pc.Parameter.TypeCode, 10, 64)
	if err != nil {
		return fmt.Errorf("parameter type %q is not a vendor type: %w", pc.Parameter.TypeCode, err)
	}
	return w.UpdateDeviceData(ctx, vendor.DeviceUpdate{
		GatewayMAC:    pc.Gateway.ExternalID,
		DeviceRef:     pc.Device.ExternalID,
		ParameterType: ptype,
		Value:         target.String(),
	})
}
