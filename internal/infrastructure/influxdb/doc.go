// Package influxdb provides InfluxDB connectivity for gateway telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring. Every point
// is tagged with the site id.
//
// # Measurements
//
//   - commissioning: one point per commissioning/pairing attempt
//   - discovery: one point per device discovery run
//   - subsystem_readiness: readiness transitions per subsystem
//   - device_state: numeric attributes read by driver refreshes
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteSubsystemReadiness("matter", true)
package influxdb
