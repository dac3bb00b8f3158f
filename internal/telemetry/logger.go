package telemetry

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry that carries a
// context with a valid span.
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level >= zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// LogOptions configures NewLogger.
type LogOptions struct {
	Service string
	Level   string
	// Console forces human-readable output; by default it is used when
	// out is a terminal.
	Console bool
}

// NewLogger creates a zerolog logger with the OTEL hook installed.
func NewLogger(out io.Writer, opts LogOptions) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if opts.Console || isTerminal(out) {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).
		With().
		Timestamp().
		Logger().
		Level(ParseLevel(opts.Level)).
		Hook(OTELHook{})
	if opts.Service != "" {
		logger = logger.With().Str("service", opts.Service).Logger()
	}
	return logger
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
