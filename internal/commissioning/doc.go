// Package commissioning onboards Matter devices.
//
// The Orchestrator wraps the controller's callback-driven commissioning in
// two blocking calls:
//
//	Commission(code)   parse payload → register delegate → controller.Commission
//	                   → wait for success/failure (bounded) → Pair
//	Pair(node)         CompleteCommissioning → Discoverer → metadata store
//	                   → driver.Attach → device.Announce → driver.Refresh
//
// All controller work is scheduled on the stack executor; the caller only
// waits on a broadcast channel. Each status transition is passed to the
// progress function (the API streams it over WebSocket and MQTT) and each
// finished attempt to a Recorder (Prometheus, InfluxDB and the
// commissioning_attempts audit table).
//
// Usage:
//
//	orch, err := commissioning.NewOrchestrator(commissioning.Deps{
//	    Controller: sim,
//	    Executor:   exec,
//	    Drivers:    driver.NewFactory(sim, exec),
//	    Devices:    deviceService,
//	    Metadata:   metadataStore,
//	})
//	if err != nil {
//	    return err
//	}
//	ok := orch.Commission(ctx, "34970112332", 90*time.Second)
package commissioning
