// Package logging provides structured logging for projectd.
//
// Logger wraps Zap with context-aware methods that prepend correlation
// fields found in the context: the OpenTelemetry trace and span ids, the
// HTTP request id, the project id and the sync pass id.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithPassID(ctx, passID)
//	logger.Info(ctx, "sync pass completed", zap.Int("outcomes", n))
//
// Output can be written to stdout, to an OpenTelemetry log provider, or
// both. Entries below Error are sampled when sampling is enabled. Fields
// whose key is listed in the redaction config, and string values matching a
// redaction pattern, are masked before they reach stdout.
//
// A custom TraceLevel sits below Debug for per-project sync resolution.
package logging
