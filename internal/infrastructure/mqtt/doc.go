// Package mqtt provides the gateway's MQTT event bus client.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Replay of retained state after a reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Topics
//
// Everything lives under graylogic/gateway:
//
//	graylogic/gateway/availability              online/offline + LWT (retained)
//	graylogic/gateway/status                    subsystem status document (retained)
//	graylogic/gateway/subsystem/{name}/status   readiness transitions (retained)
//	graylogic/gateway/commissioning/progress    commissioning state changes
//	graylogic/gateway/device/{id}/announce      newly onboarded devices
//	graylogic/gateway/device/{id}/state         driver refresh snapshots
//	graylogic/gateway/device/{id}/refresh       inbound: re-read a device
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.SubsystemStatus("matter"), snapshot, true)
package mqtt
