// Package engine wires all Steward subsystems together and provides
// the primary application-level API for creating and inspecting
// workflows.
//
// The engine package exists to break a fundamental import cycle: the
// root steward package defines Entity (imported by workflow, scheduler,
// etc.) and therefore cannot import those packages back. Engine sits
// above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	s, err := steward.New(
//	    steward.WithConfig(cfg),
//	    steward.WithLogger(logger),
//	)
//
//	eng, err := engine.Build(s,
//	    engine.WithDefinitions(myDefinition),
//	    engine.WithClient("charge-fee", myInvoker),
//	)
//
// # Running Workflows
//
//	inst, err := eng.CreateWorkflow(ctx, "compliance-check", input)
//	inst, err = eng.GetWorkflow(ctx, inst.ID)
//
//	s.Start(ctx)   // begins trigger sweeps and instance processing
//	defer s.Stop(ctx)
//
// Inbound provider callbacks are served by mounting eng.WebhookHandler()
// on the application's HTTP server.
//
// # Options
//
//   - [WithDefinitions] — register workflow definitions beyond the defaults
//   - [WithClient] — bind a capability to a custom invoker
//   - [WithMiddleware] — add middleware to every integration client
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
