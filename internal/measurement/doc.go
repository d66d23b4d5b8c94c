// Package measurement is the time-series store for device parameter values
// and gateway online status.
//
// Values are exact decimals. Every Add reads the parameter's latest value
// first; when there was none, or it differs, a change_record event is
// published so downstream consumers see each transition exactly once per
// write. Writes with the same time and tags as an existing point replace it.
//
// Series:
//
//	device_parameters{suffix}  tags dp, type, trigger (+ extra)
//	gateway_online{suffix}     tag external_id, value 1 or 0
package measurement
