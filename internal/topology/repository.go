package topology

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository persists the gateway, device and parameter topology.
type Repository interface {
	EnsureGateway(ctx context.Context, vendor string, externalID int64, site string) (*Gateway, bool, error)
	GetGateway(ctx context.Context, vendor string, externalID int64) (*Gateway, error)
	ListGateways(ctx context.Context, vendor string) ([]Gateway, error)

	SetGatewayProperty(ctx context.Context, gatewayID int64, key, value string) error
	AddGatewayProperty(ctx context.Context, gatewayID int64, key, value string) (bool, error)
	GetGatewayProperty(ctx context.Context, gatewayID int64, key string) (string, bool, error)
	GatewayProperties(ctx context.Context, gatewayID int64) (map[string]string, error)

	EnsureDevice(ctx context.Context, gatewayID, externalID int64, typeCode string, zoneID int64) (*Device, bool, error)
	GetDevice(ctx context.Context, gatewayID, externalID int64) (*Device, error)

	EnsureParameter(ctx context.Context, deviceID int64, typeCode, unit, capability string) (*Parameter, bool, error)
	GetParameter(ctx context.Context, deviceID int64, typeCode string) (*Parameter, error)
	ResolveParameter(ctx context.Context, id int64) (*ParameterContext, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed topology repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

// EnsureGateway returns the gateway for (vendor, externalID), creating it in
// site when absent. created reports whether it was inserted.
func (r *SQLiteRepository) EnsureGateway(ctx context.Context, vendor string, externalID int64, site string) (*Gateway, bool, error) {
	const query = `INSERT INTO gateways (external_id, vendor, site, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (vendor, external_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, externalID, vendor, site, r.timestamp())
	if err != nil {
		return nil, false, fmt.Errorf("inserting gateway %d: %w", externalID, err)
	}
	gw, err := r.GetGateway(ctx, vendor, externalID)
	if err != nil {
		return nil, false, err
	}
	return gw, affected(res) == 1, nil
}

// GetGateway returns the gateway with the given vendor MAC id.
func (r *SQLiteRepository) GetGateway(ctx context.Context, vendor string, externalID int64) (*Gateway, error) {
	const query = `SELECT id, external_id, vendor, site, created_at
		FROM gateways WHERE vendor = ? AND external_id = ?`
	gw, err := scanGateway(r.db.QueryRowContext(ctx, query, vendor, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%d", ErrGatewayNotFound, vendor, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying gateway %d: %w", externalID, err)
	}
	return gw, nil
}

// ListGateways returns every gateway of vendor ordered by MAC id.
func (r *SQLiteRepository) ListGateways(ctx context.Context, vendor string) ([]Gateway, error) {
	const query = `SELECT id, external_id, vendor, site, created_at
		FROM gateways WHERE vendor = ? ORDER BY external_id`
	rows, err := r.db.QueryContext(ctx, query, vendor)
	if err != nil {
		return nil, fmt.Errorf("listing gateways: %w", err)
	}
	defer rows.Close()

	var out []Gateway
	for rows.Next() {
		gw, err := scanGateway(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning gateway: %w", err)
		}
		out = append(out, *gw)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGateway(s scanner) (*Gateway, error) {
	var gw Gateway
	var created string
	if err := s.Scan(&gw.ID, &gw.ExternalID, &gw.Vendor, &gw.Site, &created); err != nil {
		return nil, err
	}
	gw.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &gw, nil
}

// SetGatewayProperty stores key=value, replacing an existing value.
func (r *SQLiteRepository) SetGatewayProperty(ctx context.Context, gatewayID int64, key, value string) error {
	const query = `INSERT INTO gateway_properties (gateway_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (gateway_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := r.db.ExecContext(ctx, query, gatewayID, key, value, r.timestamp()); err != nil {
		return fmt.Errorf("setting gateway %d property %s: %w", gatewayID, key, err)
	}
	return nil
}

// AddGatewayProperty stores key=value only if the key is not yet set.
// added reports whether it was stored.
func (r *SQLiteRepository) AddGatewayProperty(ctx context.Context, gatewayID int64, key, value string) (bool, error) {
	const query = `INSERT INTO gateway_properties (gateway_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (gateway_id, key) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, gatewayID, key, value, r.timestamp())
	if err != nil {
		return false, fmt.Errorf("adding gateway %d property %s: %w", gatewayID, key, err)
	}
	return affected(res) == 1, nil
}

// GetGatewayProperty returns the value of key. ok is false when unset.
func (r *SQLiteRepository) GetGatewayProperty(ctx context.Context, gatewayID int64, key string) (string, bool, error) {
	const query = `SELECT value FROM gateway_properties WHERE gateway_id = ? AND key = ?`
	var value string
	err := r.db.QueryRowContext(ctx, query, gatewayID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying gateway %d property %s: %w", gatewayID, key, err)
	}
	return value, true, nil
}

// GatewayProperties returns every property of a gateway.
func (r *SQLiteRepository) GatewayProperties(ctx context.Context, gatewayID int64) (map[string]string, error) {
	const query = `SELECT key, value FROM gateway_properties WHERE gateway_id = ?`
	rows, err := r.db.QueryContext(ctx, query, gatewayID)
	if err != nil {
		return nil, fmt.Errorf("listing gateway %d properties: %w", gatewayID, err)
	}
	defer rows.Close()

	props := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning gateway property: %w", err)
		}
		props[k] = v
	}
	return props, rows.Err()
}

// EnsureDevice returns the device with externalID on the gateway, creating
// it when absent. An existing device keeps its type and zone.
func (r *SQLiteRepository) EnsureDevice(ctx context.Context, gatewayID, externalID int64, typeCode string, zoneID int64) (*Device, bool, error) {
	const query = `INSERT INTO devices (gateway_id, external_id, type_code, zone_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (gateway_id, external_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, gatewayID, externalID, typeCode, zoneID, r.timestamp())
	if err != nil {
		return nil, false, fmt.Errorf("inserting device %d: %w", externalID, err)
	}
	d, err := r.GetDevice(ctx, gatewayID, externalID)
	if err != nil {
		return nil, false, err
	}
	return d, affected(res) == 1, nil
}

// GetDevice returns the device with externalID on the gateway.
func (r *SQLiteRepository) GetDevice(ctx context.Context, gatewayID, externalID int64) (*Device, error) {
	const query = `SELECT id, gateway_id, external_id, type_code, zone_id
		FROM devices WHERE gateway_id = ? AND external_id = ?`
	var d Device
	err := r.db.QueryRowContext(ctx, query, gatewayID, externalID).
		Scan(&d.ID, &d.GatewayID, &d.ExternalID, &d.TypeCode, &d.ZoneID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: gateway %d device %d", ErrDeviceNotFound, gatewayID, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying device %d: %w", externalID, err)
	}
	return &d, nil
}

// EnsureParameter returns the parameter of typeCode on the device, creating
// it with unit and capability when absent.
func (r *SQLiteRepository) EnsureParameter(ctx context.Context, deviceID int64, typeCode, unit, capability string) (*Parameter, bool, error) {
	const query = `INSERT INTO parameters (device_id, type_code, unit, capability, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (device_id, type_code) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, deviceID, typeCode, unit, capability, r.timestamp())
	if err != nil {
		return nil, false, fmt.Errorf("inserting parameter %s: %w", typeCode, err)
	}
	p, err := r.GetParameter(ctx, deviceID, typeCode)
	if err != nil {
		return nil, false, err
	}
	return p, affected(res) == 1, nil
}

// GetParameter returns the parameter of typeCode on the device.
func (r *SQLiteRepository) GetParameter(ctx context.Context, deviceID int64, typeCode string) (*Parameter, error) {
	const query = `SELECT id, device_id, type_code, unit, capability
		FROM parameters WHERE device_id = ? AND type_code = ?`
	var p Parameter
	err := r.db.QueryRowContext(ctx, query, deviceID, typeCode).
		Scan(&p.ID, &p.DeviceID, &p.TypeCode, &p.Unit, &p.Capability)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: device %d type %s", ErrParameterNotFound, deviceID, typeCode)
	}
	if err != nil {
		return nil, fmt.Errorf("querying parameter %s: %w", typeCode, err)
	}
	return &p, nil
}

// ResolveParameter loads a parameter with its device, gateway and server.
func (r *SQLiteRepository) ResolveParameter(ctx context.Context, id int64) (*ParameterContext, error) {
	const query = `SELECT p.id, p.device_id, p.type_code, p.unit, p.capability,
		d.id, d.gateway_id, d.external_id, d.type_code, d.zone_id,
		g.id, g.external_id, g.vendor, g.site, g.created_at,
		COALESCE(gp.value, '')
		FROM parameters p
		JOIN devices d ON d.id = p.device_id
		JOIN gateways g ON g.id = d.gateway_id
		LEFT JOIN gateway_properties gp ON gp.gateway_id = g.id AND gp.key = ?
		WHERE p.id = ?`

	var pc ParameterContext
	var created string
	err := r.db.QueryRowContext(ctx, query, PropertyServer, id).Scan(
		&pc.Parameter.ID, &pc.Parameter.DeviceID, &pc.Parameter.TypeCode, &pc.Parameter.Unit, &pc.Parameter.Capability,
		&pc.Device.ID, &pc.Device.GatewayID, &pc.Device.ExternalID, &pc.Device.TypeCode, &pc.Device.ZoneID,
		&pc.Gateway.ID, &pc.Gateway.ExternalID, &pc.Gateway.Vendor, &pc.Gateway.Site, &created,
		&pc.Server,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrParameterNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving parameter %d: %w", id, err)
	}
	pc.Gateway.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &pc, nil
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
