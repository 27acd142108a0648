// Package process supervises the helper daemons that radio subsystems
// depend on: otbr-agent for Thread and the Zigbee HAL daemon.
//
// A Manager starts the daemon in its own process group, logs its output,
// optionally health-checks it, and restarts it after unexpected exits. The
// wait before each restart comes from a retry.Policy (exponential by
// default); a run longer than StableThreshold resets the restart counter and
// exit statuses listed in FatalExitCodes end supervision.
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "otbr-agent",
//	    Binary:           "/usr/sbin/otbr-agent",
//	    Args:             []string{"-I", "wpan0", "spinel+hdlc+uart:///dev/ttyACM0"},
//	    RestartOnFailure: true,
//	    RestartPolicy:    retry.Exponential{Initial: 5 * time.Second, Multiplier: 2, Max: 2 * time.Minute},
//	    OnRestart:        func(int, time.Duration) { m.IncDaemonRestarts("otbr-agent") },
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
