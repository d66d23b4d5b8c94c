package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nerrad567/vendorsync/internal/measurement"
	"github.com/nerrad567/vendorsync/internal/metrics"
	"github.com/nerrad567/vendorsync/internal/topology"
	"github.com/nerrad567/vendorsync/internal/trigger"
	"github.com/nerrad567/vendorsync/internal/vendor"
)

const (
	// DefaultVendor is the vendor name used when Options.Vendor is empty.
	DefaultVendor = "secure"

	defaultQueueSize = 100
)

// Logger is the logging surface the orchestrator needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// VendorClient is the part of the vendor protocol client the orchestrator
// drives. *vendor.Client satisfies it.
type VendorClient interface {
	Server() string
	SetOnLogin(fn vendor.LoginHook)
	Login(ctx context.Context) (*vendor.LoginResponse, error)
	GetGatewayList(ctx context.Context) ([]vendor.GatewayListEntry, error)
	CheckGatewayOnline(ctx context.Context, mac int64, lastUpdate string) (bool, error)
	WebSocketURL(ctx context.Context) (string, error)
}

// Attributor decides which source caused an observed value.
type Attributor interface {
	Attribute(ctx context.Context, parameterID int64, observed decimal.Decimal) (trigger.Source, error)
}

// Options configures an Orchestrator.
type Options struct {
	Client     VendorClient
	Topology   topology.Repository
	Store      *measurement.Store
	Correlator Attributor
	Logger     Logger

	// Vendor names the vendor in the topology store. It is also the write
	// capability given to every ingested parameter.
	Vendor string
	Site   string

	// Location is the zone vendor timestamps are written in. Nil means UTC.
	Location *time.Location

	// HealthCheckWindow is how far back the scheduled gateway check looks.
	HealthCheckWindow time.Duration

	// QueueSize bounds the push updates waiting to be applied.
	QueueSize int

	Now func() time.Time
}

// Orchestrator keeps one vendor server's data in sync: it ingests login
// snapshots and push updates, and checks gateway liveness for the push
// channel.
type Orchestrator struct {
	client     VendorClient
	topology   topology.Repository
	store      *measurement.Store
	correlator Attributor
	logger     Logger
	vendor     string
	site       string
	loc        *time.Location
	window     time.Duration
	now        func() time.Time

	queue   chan *vendor.PushData
	dropped atomic.Uint64

	mu       sync.Mutex
	previous map[int64]bool
}

// New validates opts, builds an Orchestrator and registers it as the
// client's login hook.
//
// Parameters:
//   - opts: Vendor client, topology repository, measurement store and
//     correlator (all required), plus logger, naming and queue settings
//
// Returns:
//   - *Orchestrator: Orchestrator with an empty push queue; call Run to
//     start applying updates
//   - error: If a required collaborator is missing
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Client == nil:
		return nil, fmt.Errorf("vendor client is required")
	case opts.Topology == nil:
		return nil, fmt.Errorf("topology repository is required")
	case opts.Store == nil:
		return nil, fmt.Errorf("measurement store is required")
	case opts.Correlator == nil:
		return nil, fmt.Errorf("trigger correlator is required")
	}
	if opts.Vendor == "" {
		opts.Vendor = DefaultVendor
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	o := &Orchestrator{
		client:     opts.Client,
		topology:   opts.Topology,
		store:      opts.Store,
		correlator: opts.Correlator,
		logger:     opts.Logger,
		vendor:     opts.Vendor,
		site:       opts.Site,
		loc:        opts.Location,
		window:     opts.HealthCheckWindow,
		now:        opts.Now,
		queue:      make(chan *vendor.PushData, opts.QueueSize),
	}
	o.client.SetOnLogin(o.IngestLogin)
	return o, nil
}

// Server returns the vendor server this orchestrator syncs.
func (o *Orchestrator) Server() string {
	return o.client.Server()
}

// Dropped returns the number of push updates discarded on a full queue.
func (o *Orchestrator) Dropped() uint64 {
	return o.dropped.Load()
}

// Bootstrap logs in and reconciles the returned snapshot.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	res, err := o.client.Login(ctx)
	if err != nil {
		return err
	}
	return o.IngestLogin(ctx, res)
}

// Address returns a fresh push channel address. Every call logs in again,
// and the snapshot of that login is ingested.
func (o *Orchestrator) Address(ctx context.Context) (string, error) {
	return o.client.WebSocketURL(ctx)
}

// HandlePushMessage decodes one push frame and queues its update. It
// returns false for frames that should force a reconnect: undecodable
// frames, vendor error frames and updates that do not fit in the queue.
// A malformed record inside an update is logged and left out; the rest of
// the update is still queued.
// The vendor resends full state on the next login, so a reconnect also
// recovers a dropped update.
func (o *Orchestrator) HandlePushMessage(_ context.Context, frame []byte) bool {
	data, ok, err := vendor.DecodePush(frame)
	if err != nil {
		o.logWarn("undecodable push frame", "server", o.Server(), "error", err)
		return false
	}
	if !ok {
		o.logInfo("received error frame from push channel", "server", o.Server(),
			"frame", string(frame))
		return false
	}
	for _, s := range data.GDDO.Skipped {
		o.logWarn("skipping malformed push record", "server", o.Server(),
			"gateway", data.GDDO.GMACID, "record", s.Path, "error", s.Err)
	}
	if err := o.enqueue(data); err != nil {
		o.logError("push queue full, dropping update", "server", o.Server(),
			"gateway", data.GDDO.GMACID)
		return false
	}
	return true
}

func (o *Orchestrator) enqueue(data *vendor.PushData) error {
	select {
	case o.queue <- data:
		return nil
	default:
		o.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run applies queued push updates until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-o.queue:
			o.applyPush(ctx, data)
		}
	}
}

func (o *Orchestrator) applyPush(ctx context.Context, data *vendor.PushData) {
	defer func() {
		if r := recover(); r != nil {
			o.logError("push update panic", "server", o.Server(), "panic", fmt.Sprint(r))
		}
	}()
	if err := o.IngestPush(ctx, data); err != nil && !errors.Is(err, context.Canceled) {
		o.logWarn("applying push update failed", "server", o.Server(),
			"gateway", data.GDDO.GMACID, "error", err)
	}
}

// CheckResult is the outcome of one gateway liveness poll.
type CheckResult struct {
	Online  map[int64]bool
	Healthy bool
}

// OnlineCount returns how many gateways were online.
func (r CheckResult) OnlineCount() int {
	n := 0
	for _, online := range r.Online {
		if online {
			n++
		}
	}
	return n
}

func (o *Orchestrator) recordOnlineCount(r CheckResult) {
	metrics.SetGatewaysOnline(o.Server(), r.OnlineCount())
}

func (o *Orchestrator) logDebug(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Debug(msg, args...)
	}
}

func (o *Orchestrator) logInfo(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Info(msg, args...)
	}
}

func (o *Orchestrator) logWarn(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, args...)
	}
}

func (o *Orchestrator) logError(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Error(msg, args...)
	}
}
