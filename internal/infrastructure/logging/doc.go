// Package logging builds the gateway's structured logger on log/slog.
//
// Every entry carries service=graylogic-gateway and the build version.
// Components log through Component("name"), which adds component=name:
//
//	log := logging.New(cfg.Logging, version)
//	log.Component("commissioning").Info("attempt finished", "status", st)
//
// The packages under internal/ declare their own Debug/Info/Warn/Error
// interface with a no-op default, so they never import this package;
// *Logger satisfies all of them. Setup codes, passcodes and JWT secrets
// must never be logged.
package logging
