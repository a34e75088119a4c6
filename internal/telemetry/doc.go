// Package telemetry sets up OpenTelemetry tracing and metrics for projectd.
//
// Sync passes run inside a "sync.pass" span carrying the pass id, the scope
// and per-result outcome counts. The HTTP surface records request metrics on
// the meter returned by Meter. Both export over OTLP (grpc or http/protobuf)
// when enabled:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  sampling:
//	    rate: 1.0
//	  metrics:
//	    export_interval: "15s"
//
// A provider that cannot be created leaves the instance degraded rather than
// failing startup. Tests use NewTestTelemetry, which records spans and
// metrics in memory.
package telemetry
