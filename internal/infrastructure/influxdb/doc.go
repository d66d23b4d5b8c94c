// Package influxdb provides InfluxDB connectivity for vendorsync.
//
// It wraps the official influxdb-client-go v2 library with blocking point
// writes and streamed Flux queries. The measurement package builds its
// device-parameter and gateway-status series on top of it.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.WritePoint(ctx, "device_parameters",
//	    map[string]string{"dp": "42", "type": "201", "trigger": "OD"},
//	    map[string]any{"value": 21.5, "decimal": "21.5"},
//	    ts)
//
//	for rec, err := range client.Query(ctx, flux) {
//	    ...
//	}
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
