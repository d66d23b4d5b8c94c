package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"

	"github.com/nerrad567/vendorsync/internal/infrastructure/config"
	"github.com/nerrad567/vendorsync/internal/infrastructure/database"
	"github.com/nerrad567/vendorsync/internal/infrastructure/mqtt"
	"github.com/nerrad567/vendorsync/internal/infrastructure/redis"
	"github.com/nerrad567/vendorsync/internal/measurement"
	"github.com/nerrad567/vendorsync/internal/topology"
	"github.com/nerrad567/vendorsync/internal/trigger"
	"github.com/nerrad567/vendorsync/internal/vendor"
	"github.com/nerrad567/vendorsync/migrations"
)

const (
	testServer = "uk"
	testSite   = "holding"
	gatewayMAC = int64(4660)
	thermostat = int64(7)
	relay      = int64(8)
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClient stands in for the vendor protocol client.
type fakeClient struct {
	mu          sync.Mutex
	login       *vendor.LoginResponse
	loginErr    error
	gateways    []vendor.GatewayListEntry
	listErr     error
	online      map[int64]bool
	pollErr     map[int64]error
	lastUpdates []string
	hook        vendor.LoginHook
}

func (c *fakeClient) Server() string { return testServer }

func (c *fakeClient) SetOnLogin(fn vendor.LoginHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = fn
}

func (c *fakeClient) Login(context.Context) (*vendor.LoginResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login, c.loginErr
}

func (c *fakeClient) GetGatewayList(context.Context) ([]vendor.GatewayListEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gateways, c.listErr
}

func (c *fakeClient) CheckGatewayOnline(_ context.Context, mac int64, lastUpdate string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdates = append(c.lastUpdates, lastUpdate)
	if err := c.pollErr[mac]; err != nil {
		return false, err
	}
	return c.online[mac], nil
}

func (c *fakeClient) WebSocketURL(context.Context) (string, error) {
	return "ws://push.example.net/websocket/connectwebsocket", nil
}

func (c *fakeClient) setOnline(mac int64, online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online[mac] = online
}

// fakeBus records everything published through it.
type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeBus struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (b *fakeBus) PublishJSON(topic string, v any, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.msgs = append(b.msgs, published{topic: topic, payload: data, retained: retained})
	return nil
}

func (b *fakeBus) onTopic(topic string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, m := range b.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

type harness struct {
	orch       *Orchestrator
	client     *fakeClient
	repo       *topology.SQLiteRepository
	store      *measurement.Store
	correlator *trigger.Correlator
	bus        *fakeBus
	topics     mqtt.Topics
}

func newHarness(t *testing.T, queueSize int) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := topology.NewSQLiteRepository(db.DB)

	mr := miniredis.RunT(t)
	kv, err := redis.Connect(config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("redis.Connect() error = %v", err)
	}
	t.Cleanup(func() { kv.Close() }) //nolint:errcheck // Test cleanup
	correlator := trigger.NewCorrelator(kv, nil)

	bus := &fakeBus{}
	topics := mqtt.Topics{Prefix: "vendorsync"}
	store, err := measurement.NewStore(measurement.Options{
		Backend:   measurement.NewMemoryBackend(),
		Publisher: NewBusPublisher(bus, topics),
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	client := &fakeClient{login: loginFixture(), online: map[int64]bool{}, pollErr: map[int64]error{}}
	orch, err := New(Options{
		Client:            client,
		Topology:          repo,
		Store:             store,
		Correlator:        correlator,
		Site:              testSite,
		Location:          time.UTC,
		HealthCheckWindow: 15 * time.Minute,
		QueueSize:         queueSize,
		Now:               func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &harness{
		orch:       orch,
		client:     client,
		repo:       repo,
		store:      store,
		correlator: correlator,
		bus:        bus,
		topics:     topics,
	}
}

func lut(minute int) string {
	return fmt.Sprintf("2026-03-01T10:%02d:00", minute)
}

func lutTime(minute int) time.Time {
	return time.Date(2026, 3, 1, 10, minute, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// loginFixture is a snapshot with one gateway holding a thermostat, a
// switch relay, a device missing from the configuration and a device of an
// unknown type.
func loginFixture() *vendor.LoginResponse {
	return &vendor.LoginResponse{
		SSD: vendor.SessionData{AK: "key", AKID: "1"},
		GDDO: []vendor.GatewayState{{
			GMACID: gatewayMAC,
			GCS:    "1",
			ZNDS: []vendor.ZoneState{{
				ZID: 1,
				DDDO: []vendor.DeviceState{
					{DRefID: thermostat, DPDO: []vendor.ParameterState{
						{DPRefID: 201, CV: "21.5", LUT: lut(0)},
						{DPRefID: 202, CV: "19.25", LUT: lut(0)},
						{DPRefID: 999, CV: "1", LUT: lut(0)},
					}},
					{DRefID: relay, DPDO: []vendor.ParameterState{
						{DPRefID: 301, CV: "True", LUT: lut(0)},
					}},
					{DRefID: 9, DPDO: []vendor.ParameterState{{DPRefID: 201, CV: "1", LUT: lut(0)}}},
					{DRefID: 10, DPDO: []vendor.ParameterState{{DPRefID: 201, CV: "1", LUT: lut(0)}}},
				},
			}},
		}},
		GWUDO: []vendor.GatewayName{{GMACID: gatewayMAC, GN: "Flat 3"}},
		GD: []vendor.GatewayInfo{{
			GMACID: gatewayMAC,
			GSN:    "SN-0001",
			ZNS: []vendor.ZoneInfo{{
				ZID: 1,
				DVS: []vendor.DeviceInfo{
					{DRefID: thermostat, DTID: 2},
					{DRefID: relay, DTID: 4, DPDO: []vendor.ParameterState{{DPRefID: 102}, {DPRefID: 301}}},
					{DRefID: 10, DTID: 99},
				},
			}},
		}},
	}
}

func (h *harness) parameter(t *testing.T, deviceRef int64, code string) *topology.Parameter {
	t.Helper()
	ctx := context.Background()
	gw, err := h.repo.GetGateway(ctx, DefaultVendor, gatewayMAC)
	if err != nil {
		t.Fatalf("GetGateway() error = %v", err)
	}
	dev, err := h.repo.GetDevice(ctx, gw.ID, deviceRef)
	if err != nil {
		t.Fatalf("GetDevice(%d) error = %v", deviceRef, err)
	}
	p, err := h.repo.GetParameter(ctx, dev.ID, code)
	if err != nil {
		t.Fatalf("GetParameter(%d, %s) error = %v", deviceRef, code, err)
	}
	return p
}

func (h *harness) latest(t *testing.T, parameterID int64) *measurement.Measurement {
	t.Helper()
	m, err := h.store.Latest(context.Background(), parameterID)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	return m
}

func (h *harness) bootstrap(t *testing.T) {
	t.Helper()
	if err := h.orch.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
}

func pushFrame(t *testing.T, states ...vendor.ParameterState) []byte {
	t.Helper()
	return pushFrameFor(t, gatewayMAC, thermostat, states...)
}

func pushFrameFor(t *testing.T, mac, deviceRef int64, states ...vendor.ParameterState) []byte {
	t.Helper()
	data, err := json.Marshal(vendor.PushData{GDDO: vendor.GatewayState{
		GMACID: mac,
		ZNDS: []vendor.ZoneState{{
			ZID:  1,
			DDDO: []vendor.DeviceState{{DRefID: deviceRef, DPDO: states}},
		}},
	}})
	if err != nil {
		t.Fatalf("marshal push data: %v", err)
	}
	frame, err := json.Marshal(vendor.PushEnvelope{DataType: vendor.PushDataUpdate, Data: data})
	if err != nil {
		t.Fatalf("marshal push envelope: %v", err)
	}
	return frame
}

func decodePush(t *testing.T, frame []byte) *vendor.PushData {
	t.Helper()
	data, ok, err := vendor.DecodePush(frame)
	if err != nil || !ok {
		t.Fatalf("DecodePush() = %v, %v", ok, err)
	}
	return data
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNew_RequiresCollaborators(t *testing.T) {
	h := newHarness(t, 0)
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{name: "client", mutate: func(o *Options) { o.Client = nil }},
		{name: "topology", mutate: func(o *Options) { o.Topology = nil }},
		{name: "store", mutate: func(o *Options) { o.Store = nil }},
		{name: "correlator", mutate: func(o *Options) { o.Correlator = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{Client: h.client, Topology: h.repo, Store: h.store, Correlator: h.correlator}
			tt.mutate(&opts)
			if _, err := New(opts); err == nil || !strings.Contains(err.Error(), tt.name) {
				t.Errorf("New() error = %v, want mention of %s", err, tt.name)
			}
		})
	}
}

func TestNew_RegistersLoginHook(t *testing.T) {
	h := newHarness(t, 0)
	h.client.mu.Lock()
	hook := h.client.hook
	h.client.mu.Unlock()
	if hook == nil {
		t.Fatal("login hook not registered")
	}

	if err := hook(context.Background(), loginFixture()); err != nil {
		t.Fatalf("hook() error = %v", err)
	}
	if p := h.parameter(t, thermostat, "201"); h.latest(t, p.ID) == nil {
		t.Error("login hook did not ingest the snapshot")
	}
}

func TestBootstrap_CreatesTopology(t *testing.T) {
	h := newHarness(t, 0)
	h.bootstrap(t)
	ctx := context.Background()

	gateways, err := h.repo.ListGateways(ctx, DefaultVendor)
	if err != nil || len(gateways) != 1 {
		t.Fatalf("ListGateways() = %v, %v, want one gateway", gateways, err)
	}
	gw := gateways[0]
	if gw.ExternalID != gatewayMAC || gw.Site != testSite {
		t.Errorf("gateway = %+v", gw)
	}

	props, err := h.repo.GatewayProperties(ctx, gw.ID)
	if err != nil {
		t.Fatalf("GatewayProperties() error = %v", err)
	}
	want := map[string]string{
		topology.PropertyServer: testServer,
		topology.PropertyName:   "Flat 3",
		topology.PropertySerial: "SN-0001",
	}
	for k, v := range want {
		if props[k] != v {
			t.Errorf("property %s = %q, want %q", k, props[k], v)
		}
	}

	devices := []struct {
		ref      int64
		wantType string
	}{
		{ref: thermostat, wantType: string(vendor.DeviceThermostat)},
		{ref: relay, wantType: string(vendor.DeviceSwitchRelay)},
	}
	for _, d := range devices {
		dev, err := h.repo.GetDevice(ctx, gw.ID, d.ref)
		if err != nil {
			t.Fatalf("GetDevice(%d) error = %v", d.ref, err)
		}
		if dev.TypeCode != d.wantType || dev.ZoneID != 1 {
			t.Errorf("device %d = %+v, want type %s in zone 1", d.ref, dev, d.wantType)
		}
	}
	for _, ref := range []int64{9, 10} {
		if _, err := h.repo.GetDevice(ctx, gw.ID, ref); !errors.Is(err, topology.ErrDeviceNotFound) {
			t.Errorf("GetDevice(%d) error = %v, want ErrDeviceNotFound", ref, err)
		}
	}

	target := h.parameter(t, thermostat, "201")
	if target.Unit != vendor.UnitCelsius || target.Capability != DefaultVendor {
		t.Errorf("parameter 201 = %+v, want unit C and capability %s", target, DefaultVendor)
	}
	dev, _ := h.repo.GetDevice(ctx, gw.ID, thermostat)
	if _, err := h.repo.GetParameter(ctx, dev.ID, "999"); !errors.Is(err, topology.ErrParameterNotFound) {
		t.Errorf("unsupported parameter type stored: err = %v", err)
	}
}

func TestBootstrap_RecordsValues(t *testing.T) {
	h := newHarness(t, 0)
	h.bootstrap(t)

	tests := []struct {
		ref  int64
		code string
		want string
	}{
		{ref: thermostat, code: "201", want: "21.5"},
		{ref: thermostat, code: "202", want: "19.25"},
		{ref: relay, code: "301", want: "1"},
	}
	for _, tt := range tests {
		p := h.parameter(t, tt.ref, tt.code)
		m := h.latest(t, p.ID)
		if m == nil {
			t.Fatalf("parameter %s has no value", tt.code)
		}
		if !m.Value.Equal(dec(tt.want)) || !m.Time.Equal(lutTime(0)) {
			t.Errorf("parameter %s latest = %s at %v, want %s at %v", tt.code, m.Value, m.Time, tt.want, lutTime(0))
		}
		if got := m.Tags[measurement.TagTrigger]; got != string(trigger.OnDevice) {
			t.Errorf("parameter %s trigger = %q, want OD", tt.code, got)
		}
		if len(h.bus.onTopic(h.topics.ChangeRecord(p.ID))) != 1 {
			t.Errorf("parameter %s: want one change record", tt.code)
		}
	}
}

func TestBootstrap_IgnoresReplayedSnapshot(t *testing.T) {
	h := newHarness(t, 0)
	h.bootstrap(t)
	before := h.bus.count()

	h.bootstrap(t)

	p := h.parameter(t, thermostat, "201")
	n, err := h.store.Count(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d after replay, want 1", n)
	}
	if h.bus.count() != before {
		t.Errorf("replay published %d messages, want none", h.bus.count()-before)
	}
}

func TestBootstrap_LoginError(t *testing.T) {
	h := newHarness(t, 0)
	h.client.loginErr = vendor.ErrLoginFailed
	if err := h.orch.Bootstrap(context.Background()); !errors.Is(err, vendor.ErrLoginFailed) {
		t.Errorf("Bootstrap() error = %v, want ErrLoginFailed", err)
	}
}

func TestIngestLogin_BadValueRecordedAsZero(t *testing.T) {
	h := newHarness(t, 0)
	res := loginFixture()
	res.GDDO[0].ZNDS[0].DDDO[0].DPDO[0].CV = "n/a"

	if err := h.orch.IngestLogin(context.Background(), res); err != nil {
		t.Fatalf("IngestLogin() error = %v", err)
	}
	m := h.latest(t, h.parameter(t, thermostat, "201").ID)
	if m == nil || !m.Value.IsZero() {
		t.Errorf("latest = %+v, want 0", m)
	}
}

func TestIngestLogin_BadTimeSkipped(t *testing.T) {
	h := newHarness(t, 0)
	res := loginFixture()
	res.GDDO[0].ZNDS[0].DDDO[0].DPDO[0].LUT = "yesterday"

	if err := h.orch.IngestLogin(context.Background(), res); err != nil {
		t.Fatalf("IngestLogin() error = %v", err)
	}
	if m := h.latest(t, h.parameter(t, thermostat, "201").ID); m != nil {
		t.Errorf("latest = %+v, want nothing stored", m)
	}
	if m := h.latest(t, h.parameter(t, thermostat, "202").ID); m == nil {
		t.Error("sibling parameter not stored")
	}
}

func TestIngestLogin_LocalTimes(t *testing.T) {
	loc := time.FixedZone("UTC+1", 3600)
	h := newHarness(t, 0)
	h.orch.loc = loc
	h.bootstrap(t)

	m := h.latest(t, h.parameter(t, thermostat, "201").ID)
	if want := lutTime(0).Add(-time.Hour); !m.Time.Equal(want) {
		t.Errorf("latest time = %v, want %v", m.Time, want)
	}
}

func TestIngestLogin_GatewayWithoutConfigurationSkipped(t *testing.T) {
	h := newHarness(t, 0)
	res := loginFixture()
	res.GD = nil

	if err := h.orch.IngestLogin(context.Background(), res); err != nil {
		t.Fatalf("IngestLogin() error = %v", err)
	}
	if gws, _ := h.repo.ListGateways(context.Background(), DefaultVendor); len(gws) != 0 {
		t.Errorf("ListGateways() = %v, want none", gws)
	}
}

func TestIngestPush_RecordsNewerValues(t *testing.T) {
	h := newHarness(t, 0)
	h.bootstrap(t)
	ctx := context.Background()
	p := h.parameter(t, thermostat, "201")

	frame := pushFrame(t, vendor.ParameterState{DPRefID: 201, CV: "22", LUT: lut(5)})
	if err := h.orch.IngestPush(ctx, decodePush(t, frame)); err != nil {
		t.Fatalf("IngestPush() error = %v", err)
	}
	if m := h.latest(t, p.ID); !m.Value.Equal(dec("22")) || !m.Time.Equal(lutTime(5)) {
		t.Errorf("latest = %s at %v, want 22 at %v", m.Value, m.Time, lutTime(5))
	}

	// An older update is not recorded.
	frame = pushFrame(t, vendor.ParameterState{DPRefID: 201, CV: "18", LUT: lut(3)})
	if err := h.orch.IngestPush(ctx, decodePush(t, frame)); err != nil {
		t.Fatalf("IngestPush() error = %v", err)
	}
	if m := h.latest(t, p.ID); !m.Value.Equal(dec("22")) {
		t.Errorf("latest = %s after stale update, want 22", m.Value)
	}
	if n, _ := h.store.Count(ctx, p.ID); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestIngestPush_AttributesPendingChange(t *testing.T) {
	h := newHarness(t, 0)
	h.bootstrap(t)
	ctx := context.Background()
	p := h.parameter(t, thermostat, "201")

	if err := h.correlator.RecordPendingChange(ctx, p.ID, dec("23.0"), trigger.Schedule); err != nil {
		t.Fatalf("RecordPendingChange() error = %v", err)
	}
	frame := pushFrame(t, vendor.ParameterState{DPRefID: 201, CV: "23", LUT: lut(5)})
	if err := h.orch.IngestPush(ctx, decodePush(t, frame)); err != nil {
		t.Fatalf("IngestPush() error = %v", err)
	}

	records := h.bus.onTopic(h.topics.ChangeRecord(p.ID))
	if len(records) != 2 {
		t.Fatalf("change records = %d, want 2", len(records))
	}
	var ev measurement.ChangeEvent
	if err := json.Unmarshal(records[1].payload, &ev); err != nil {
		t.Fatalf("decode change record: %v", err)
	}
	if ev.Trigger != trigger.Schedule || ev.Previous == nil || !ev.Previous.Equal(dec("21.5")) {
		t.Errorf("change record = %+v, want SC from 21.5", ev)
	}

	// A different observed value is attributed to the device.
	frame = pushFrame(t, vendor.ParameterState{DPRefID: 201, CV: "24", LUT: lut(6)})
	if err := h.orch.IngestPush(ctx, decodePush(t, frame)); err != nil {
		t.Fatalf("IngestPush() error = %v", err)
	}
	if got := h.latest(t, p.ID).Tags[measurement.TagTrigger]; got != string(trigger.OnDevice) {
		t.Errorf("trigger = %q, want OD", got)
	}
}

func TestIngestPush_UnknownTargetsSkipped(t *testing.T) {
	h := newHarness(t, 0)
	h.bootstrap(t)
	ctx := context.Background()
	before := h.bus.count()

	frames := map[string][]byte{
		"unknown gateway": pushFrameFor(t, 1, thermostat, vendor.ParameterState{DPRefID: 201, CV: "1", LUT: lut(9)}),
		"unknown device":  pushFrameFor(t, gatewayMAC, 42, vendor.ParameterState{DPRefID: 201, CV: "1", LUT: lut(9)}),
		"unsupported":     pushFrame(t, vendor.ParameterState{DPRefID: 305, CV: "1", LUT: lut(9)}),
	}
	for name, frame := range frames {
		if err := h.orch.IngestPush(ctx, decodePush(t, frame)); err != nil {
			t.Errorf("%s: IngestPush() error = %v", name, err)
		}
	}
	if h.bus.count() != before {
		t.Errorf("published %d messages, want none", h.bus.count()-before)
	}
}

func TestIngestPush_CreatesMissingParameter(t *testing.T) {
	h := newHarness(t, 0)
	h.bootstrap(t)

	// Parameter 211 is in the thermostat catalogue but was not in the snapshot.
	frame := pushFrame(t, vendor.ParameterState{DPRefID: 211, CV: "20", LUT: lut(1)})
	if err := h.orch.IngestPush(context.Background(), decodePush(t, frame)); err != nil {
		t.Fatalf("IngestPush() error = %v", err)
	}
	p := h.parameter(t, thermostat, "211")
	if m := h.latest(t, p.ID); m == nil || !m.Value.Equal(dec("20")) {
		t.Errorf("latest = %+v, want 20", m)
	}
}

func TestHandlePushMessage(t *testing.T) {
	h := newHarness(t, 0)
	update := pushFrame(t, vendor.ParameterState{DPRefID: 201, CV: "22", LUT: lut(5)})

	tests := []struct {
		name  string
		frame []byte
		want  bool
	}{
		{name: "device update", frame: update, want: true},
		{name: "error frame", frame: []byte(`{"DataType":3,"Data":{"ERR":[{"ID":1}]}}`), want: false},
		{name: "not json", frame: []byte("not json"), want: false},
		{name: "bad data", frame: []byte(`{"DataType":0,"Data":"x"}`), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.orch.HandlePushMessage(context.Background(), tt.frame); got != tt.want {
				t.Errorf("HandlePushMessage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandlePushMessage_MalformedRecordKeepsFrame(t *testing.T) {
	h := newHarness(t, 0)
	h.bootstrap(t)
	p := h.parameter(t, thermostat, "201")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.orch.Run(ctx) }()

	frame := fmt.Sprintf(`{"DataType":0,"Data":{"GDDO":{"GMACID":%d,"ZNDS":[{"ZID":1,"DDDO":[`+
		`{"DRefID":%d,"DPDO":[{"DPRefID":"301x","CV":{"bad":1},"LUT":%q}]},`+
		`{"DRefID":%d,"DPDO":[{"DPRefID":201,"CV":"23","LUT":%q}]}]}]}}}`,
		gatewayMAC, relay, lut(5), thermostat, lut(5))
	if !h.orch.HandlePushMessage(ctx, []byte(frame)) {
		t.Fatal("HandlePushMessage() = false, want the frame kept")
	}
	waitFor(t, func() bool {
		m := h.latest(t, p.ID)
		return m != nil && m.Value.Equal(dec("23"))
	})
}

func TestHandlePushMessage_FullQueueRejects(t *testing.T) {
	h := newHarness(t, 1)
	frame := pushFrame(t, vendor.ParameterState{DPRefID: 201, CV: "22", LUT: lut(5)})
	ctx := context.Background()

	if !h.orch.HandlePushMessage(ctx, frame) {
		t.Fatal("first frame rejected")
	}
	if h.orch.HandlePushMessage(ctx, frame) {
		t.Error("second frame accepted by a full queue")
	}
	if h.orch.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", h.orch.Dropped())
	}
}

func TestRun_AppliesQueuedUpdates(t *testing.T) {
	h := newHarness(t, 0)
	h.bootstrap(t)
	p := h.parameter(t, thermostat, "201")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	for i, v := range []string{"22", "22.5", "23"} {
		frame := pushFrame(t, vendor.ParameterState{DPRefID: 201, CV: vendor.Text(v), LUT: lut(i + 1)})
		if !h.orch.HandlePushMessage(ctx, frame) {
			t.Fatalf("frame %d rejected", i)
		}
	}
	waitFor(t, func() bool {
		m := h.latest(t, p.ID)
		return m != nil && m.Value.Equal(dec("23"))
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestAddress(t *testing.T) {
	h := newHarness(t, 0)
	addr, err := h.orch.Address(context.Background())
	if err != nil || !strings.HasPrefix(addr, "ws://") {
		t.Errorf("Address() = %q, %v", addr, err)
	}
}
