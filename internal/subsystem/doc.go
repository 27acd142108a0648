// Package subsystem manages the lifecycle of the gateway's network technology
// subsystems.
//
// A Registry keeps subsystems in registration order. At startup it compares
// each subsystem's declared schema Version with the last version persisted in
// the property store, runs Migrate when the declared version is newer,
// persists it, and calls Initialize. Shutdown runs in reverse order.
//
// Subsystems bring themselves up asynchronously, typically with a RetryLoop,
// and report readiness through the callbacks handed to Initialize. The
// registry aggregates those reports into the status document:
//
//	{
//	  "matter": {"ready": true, "fabric_id": 1, ...},
//	  "zigbee": {"ready": false, ...},
//	  "ready":  {"pairing": true, "operation": false}
//	}
package subsystem
