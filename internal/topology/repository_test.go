package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/vendorsync/internal/infrastructure/config"
	"github.com/nerrad567/vendorsync/internal/infrastructure/database"
	"github.com/nerrad567/vendorsync/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestEnsureGateway_Idempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	gw, created, err := r.EnsureGateway(ctx, "secure", 4660, "holding")
	if err != nil || !created {
		t.Fatalf("EnsureGateway() = %v, %v, %v", gw, created, err)
	}
	again, created, err := r.EnsureGateway(ctx, "secure", 4660, "other-site")
	if err != nil || created {
		t.Fatalf("second EnsureGateway() created = %v, err = %v", created, err)
	}
	if again.ID != gw.ID || again.Site != "holding" {
		t.Errorf("second EnsureGateway() = %+v, want original row", again)
	}
	if gw.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	// Same MAC under another vendor is a different gateway.
	other, created, _ := r.EnsureGateway(ctx, "prefect", 4660, "holding")
	if !created || other.ID == gw.ID {
		t.Error("gateways should be scoped by vendor")
	}
}

func TestGetGateway_NotFound(t *testing.T) {
	r := newTestRepo(t)
	if _, err := r.GetGateway(context.Background(), "secure", 1); !errors.Is(err, ErrGatewayNotFound) {
		t.Errorf("GetGateway() error = %v, want ErrGatewayNotFound", err)
	}
}

func TestListGateways(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for _, mac := range []int64{30, 10, 20} {
		if _, _, err := r.EnsureGateway(ctx, "secure", mac, "s"); err != nil {
			t.Fatalf("EnsureGateway() error = %v", err)
		}
	}

	list, err := r.ListGateways(ctx, "secure")
	if err != nil {
		t.Fatalf("ListGateways() error = %v", err)
	}
	if len(list) != 3 || list[0].ExternalID != 10 || list[2].ExternalID != 30 {
		t.Errorf("ListGateways() = %+v", list)
	}
}

func TestGatewayProperties(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	gw, _, _ := r.EnsureGateway(ctx, "secure", 1, "s")

	added, err := r.AddGatewayProperty(ctx, gw.ID, PropertyName, "Hall")
	if err != nil || !added {
		t.Fatalf("AddGatewayProperty() = %v, %v", added, err)
	}
	added, _ = r.AddGatewayProperty(ctx, gw.ID, PropertyName, "Kitchen")
	if added {
		t.Error("AddGatewayProperty() should not overwrite")
	}
	if v, ok, _ := r.GetGatewayProperty(ctx, gw.ID, PropertyName); !ok || v != "Hall" {
		t.Errorf("GN = %q, %v; want Hall", v, ok)
	}

	if err := r.SetGatewayProperty(ctx, gw.ID, PropertyOnline, "true"); err != nil {
		t.Fatalf("SetGatewayProperty() error = %v", err)
	}
	if err := r.SetGatewayProperty(ctx, gw.ID, PropertyOnline, "false"); err != nil {
		t.Fatalf("SetGatewayProperty() error = %v", err)
	}
	props, err := r.GatewayProperties(ctx, gw.ID)
	if err != nil {
		t.Fatalf("GatewayProperties() error = %v", err)
	}
	if props[PropertyOnline] != "false" || len(props) != 2 {
		t.Errorf("GatewayProperties() = %v", props)
	}

	if _, ok, err := r.GetGatewayProperty(ctx, gw.ID, "missing"); ok || err != nil {
		t.Errorf("missing property = ok %v, err %v", ok, err)
	}
}

func TestDevicesAndParameters(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	gw, _, _ := r.EnsureGateway(ctx, "secure", 4660, "s")
	_ = r.SetGatewayProperty(ctx, gw.ID, PropertyServer, "uk")

	dev, created, err := r.EnsureDevice(ctx, gw.ID, 3, "ST", 1)
	if err != nil || !created {
		t.Fatalf("EnsureDevice() = %v, %v, %v", dev, created, err)
	}
	again, created, _ := r.EnsureDevice(ctx, gw.ID, 3, "SP", 2)
	if created || again.TypeCode != "ST" || again.ZoneID != 1 {
		t.Errorf("second EnsureDevice() = %+v, created %v", again, created)
	}

	p, created, err := r.EnsureParameter(ctx, dev.ID, "201", "C", "secure")
	if err != nil || !created {
		t.Fatalf("EnsureParameter() = %v, %v, %v", p, created, err)
	}
	if !p.Writable() {
		t.Error("parameter with capability should be writable")
	}

	pc, err := r.ResolveParameter(ctx, p.ID)
	if err != nil {
		t.Fatalf("ResolveParameter() error = %v", err)
	}
	if pc.Server != "uk" || pc.Gateway.ExternalID != 4660 || pc.Device.ExternalID != 3 || pc.Parameter.TypeCode != "201" {
		t.Errorf("ResolveParameter() = %+v", pc)
	}

	if _, err := r.ResolveParameter(ctx, 999); !errors.Is(err, ErrParameterNotFound) {
		t.Errorf("ResolveParameter(999) error = %v, want ErrParameterNotFound", err)
	}
	if _, err := r.GetDevice(ctx, gw.ID, 42); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice(42) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestResolveParameter_NoServerProperty(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	gw, _, _ := r.EnsureGateway(ctx, "secure", 1, "s")
	dev, _, _ := r.EnsureDevice(ctx, gw.ID, 1, "SM", 0)
	p, _, _ := r.EnsureParameter(ctx, dev.ID, "115", "N", "")

	pc, err := r.ResolveParameter(ctx, p.ID)
	if err != nil {
		t.Fatalf("ResolveParameter() error = %v", err)
	}
	if pc.Server != "" || pc.Parameter.Writable() {
		t.Errorf("ResolveParameter() = %+v", pc)
	}
}
