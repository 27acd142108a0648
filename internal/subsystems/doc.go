// Package subsystems implements the gateway's network technology
// subsystems: matter, thread and zigbee.
//
// Each one satisfies subsystem.Subsystem and brings itself up with a
// subsystem.RetryLoop:
//
//	thread  ensure otbr-agent is supervised → dial its probe address
//	zigbee  ensure the HAL daemon is supervised → dial its probe address
//	matter  load fabric.yaml → start the controller backend
//
// Per-subsystem state lives in <state_dir>/<name>. Schema migrations create
// that directory (and, for matter, the fabric identity); config restore
// replaces it from an unpacked backup and the subsystem reloads it.
package subsystems
