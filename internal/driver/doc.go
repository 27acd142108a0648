// Package driver maps commissioned Matter nodes onto device classes.
//
// A Factory holds one Driver per class (light, plug, sensor, thermostat,
// bridge) plus a generic fallback. Select picks the class from the device
// types discovered on a node's endpoints. A Driver then:
//
//   - Attach: builds the device record for the node from its discovered
//     identity
//   - Refresh: reads the class's cluster attributes from every matching
//     endpoint and returns them as device state
//
// Refresh opens one operational session and reads each endpoint
// concurrently. All controller and session calls are scheduled onto the
// stack executor; Refresh itself blocks the calling goroutine until every
// read reports or ctx expires.
package driver
