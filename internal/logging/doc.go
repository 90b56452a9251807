// Package logging builds the daemon's zap logger: JSON or console output,
// an optional OpenTelemetry log bridge, and an encoder that redacts
// secrets and patient phone numbers before they reach any sink.
package logging
