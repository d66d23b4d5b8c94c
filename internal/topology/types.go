package topology

import "time"

// Gateway property keys.
const (
	PropertyServer = "server"
	PropertyName   = "GN"
	PropertySerial = "GSN"
	PropertyOnline = "online"
)

// Gateway is a vendor hub. ExternalID is the vendor MAC id.
type Gateway struct {
	ID         int64     `json:"id"`
	ExternalID int64     `json:"external_id"`
	Vendor     string    `json:"vendor"`
	Site       string    `json:"site"`
	CreatedAt  time.Time `json:"created_at"`
}

// Device is one vendor device attached to a gateway.
type Device struct {
	ID         int64  `json:"id"`
	GatewayID  int64  `json:"gateway_id"`
	ExternalID int64  `json:"external_id"`
	TypeCode   string `json:"type_code"`
	ZoneID     int64  `json:"zone_id"`
}

// Parameter is one observable or controllable quantity of a device.
// Capability names the actuator that can write it; empty means read-only.
type Parameter struct {
	ID         int64  `json:"id"`
	DeviceID   int64  `json:"device_id"`
	TypeCode   string `json:"type_code"`
	Unit       string `json:"unit"`
	Capability string `json:"capability"`
}

// Writable reports whether the parameter has a write capability.
func (p Parameter) Writable() bool {
	return p.Capability != ""
}

// ParameterContext is a parameter with everything needed to address it on
// the vendor side.
type ParameterContext struct {
	Parameter Parameter
	Device    Device
	Gateway   Gateway

	// Server is the vendor server recorded for the gateway, if any.
	Server string
}
