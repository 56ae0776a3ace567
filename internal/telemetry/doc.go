// Package telemetry provides OpenTelemetry instrumentation for memoryd.
//
// # Overview
//
// This package implements distributed tracing and metrics collection using the
// OpenTelemetry Go SDK. Telemetry is exported over OTLP, by gRPC by default or
// http/protobuf when configured, to whatever collector the deployment runs.
//
// # Usage
//
// Create a telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	cfg.Enabled = true
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("memoryd.retrieval")
//	ctx, span := tracer.Start(ctx, "Retrieve")
//	defer span.End()
//
//	meter := tel.Meter("memoryd.store")
//	counter, _ := meter.Int64Counter("store.chunks_added")
//	counter.Add(ctx, 1)
//
// # Configuration
//
// The daemon maps its observability config section onto this package's Config:
//
//	observability:
//	  enable_telemetry: true
//	  service_name: "memoryd"
//	  endpoint: "localhost:4317"
//	  protocol: "grpc"
//
// Sampling rate, metric export interval, and shutdown timeout come from
// NewDefaultConfig and can be overridden field by field.
//
// # Error Handling
//
// Telemetry failures do not crash the daemon. If a provider cannot be
// initialized the instance degrades to no-op providers and records the
// reason, which Health exposes.
//
// # Testing
//
// Use TestTelemetry for in-memory span and metric capture:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
