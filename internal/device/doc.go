// Package device provides the gateway's device registry and device service.
//
// A device record is created when a commissioned (or paired) node is
// announced. It binds the protocol node id to a driver, the identity read
// during discovery, the node's endpoint metadata and the last state the
// driver refreshed.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                           Device Service                         │
//	│  Announce / SetState / Save+LoadNodeMetadata / FindByNodeID      │
//	│        │                                   │                     │
//	│        ▼                                   ▼                     │
//	│  ┌──────────────┐   ┌──────────────┐   ┌──────────────────────┐  │
//	│  │   Registry   │──▶│  Repository  │   │ MQTT announce/state  │  │
//	│  │ cache + node │   │   (SQLite)   │   │ InfluxDB state point │  │
//	│  │    index     │   └──────────────┘   │ Prometheus counter   │  │
//	│  └──────────────┘                      └──────────────────────┘  │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	svc := device.NewService(registry, device.ServiceDeps{Publisher: mqttClient})
//
//	dev := &device.Device{Name: "Hall light", Protocol: device.ProtocolMatter, NodeID: node}
//	if err := svc.Announce(ctx, dev); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// Registry and Service are safe for concurrent use. Devices returned from
// either are deep copies.
package device
