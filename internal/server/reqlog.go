// reqlog.go - Request-scoped logging for analyses.
//
// Every line carries the request id. The client's verbose/quiet options
// tune this logger only; they never change what the engine does.
package server

import "context"

type requestLogger struct {
	rid     string
	verbose bool
	quiet   bool
}

func newRequestLogger(ctx context.Context, opts AnalyzeOptions) *requestLogger {
	return &requestLogger{
		rid:     RequestIDFromContext(ctx),
		verbose: opts.Verbose,
		// verbose wins when a client sets both.
		quiet: opts.Quiet && !opts.Verbose,
	}
}

func (l *requestLogger) with(fields map[string]any) map[string]any {
	if fields == nil {
		fields = make(map[string]any)
	}
	if l.rid != "" {
		fields["request_id"] = l.rid
	}
	return fields
}

// Debug is promoted to info for verbose requests.
func (l *requestLogger) Debug(msg string, fields map[string]any) {
	if l.verbose {
		Info(msg, l.with(fields))
		return
	}
	Debug(msg, l.with(fields))
}

// Info is dropped for quiet requests.
func (l *requestLogger) Info(msg string, fields map[string]any) {
	if l.quiet {
		return
	}
	Info(msg, l.with(fields))
}

func (l *requestLogger) Warn(msg string, fields map[string]any) {
	Warn(msg, l.with(fields))
}

func (l *requestLogger) Error(msg string, fields map[string]any, err error) {
	Error(msg, l.with(fields), err)
}
