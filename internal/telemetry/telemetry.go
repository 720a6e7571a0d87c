// Package telemetry wires structured logging and distributed tracing for
// the daemon: go.uber.org/zap for logs (with gopkg.in/natefinch/
// lumberjack.v2 rotating the on-disk file sink) and go.opentelemetry.io/
// otel, exported over OTLP/gRPC, for traces.
//
// Neither banksean/sand nor theRebelliousNerd/codenerd actually wires
// these packages despite listing them as dependencies (codenerd's own
// internal/logging is a hand-rolled JSON-lines audit logger, and sand has
// no tracer provider setup at all), so there's no in-pack call site to
// adapt; New and NewTracerProvider are written directly against each
// library's own documented construction API instead.
package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config bounds the ambient-stack config keys that govern logging/tracing
// (spec §6's config surface, extended for the daemon's own observability
// needs rather than named by spec.md itself).
type Config struct {
	// LogPath is the rotating log file path; empty disables file output
	// and logs to stderr only.
	LogPath    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Debug      bool

	// OTLPEndpoint is the collector address traces are exported to;
	// empty disables tracing entirely.
	OTLPEndpoint string
	ServiceName  string
}

// New builds a zap.Logger writing JSON lines to stderr and, if
// cfg.LogPath is set, to a lumberjack-rotated file, mirroring the
// stderr+file tee shape a daemon process needs (an interactive CLI gets
// away with stderr alone; a long-running daemon does not).
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), level),
	}
	if cfg.LogPath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// NewTracerProvider builds an OTLP/gRPC tracer provider and registers it
// as the global provider, returning a shutdown func the caller must defer.
// If cfg.OTLPEndpoint is empty, tracing is a no-op: Shutdown is still
// safe to call.
func NewTracerProvider(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "tangramd"
	}
	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
