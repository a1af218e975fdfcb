// Package engine wires the job subsystems together and provides the
// application-level API for registering and enqueuing work.
//
// The engine package exists to break an import cycle: the root jobs
// package defines Entity and the error taxonomy (imported by job, cron,
// handler, etc.) and therefore cannot import those packages back. Engine
// sits above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	eng, err := engine.New(pgStore,
//	    engine.WithConfig(cfg),
//	    engine.WithExtension(redis.NewProgressStream(rdb)),
//	    engine.WithJobStore(redis.NewCancelCache(rdb, pgStore)),
//	    engine.WithTypeLimits(job.TypeAkeneoImport, queue.Limits{MaxConcurrency: 2}),
//	    engine.WithDispatcherOptions(
//	        dynamiccron.WithTenants(resolver),
//	        dynamiccron.WithMailer(mailer),
//	    ),
//	)
//
// The dynamic_cron dispatcher is registered by the engine. Every other
// kind is registered by the application:
//
//	tasks.NewWebhookDelivery(httpclient.New(), pgStore).Register(eng.Registry())
//	tasks.NewCleanup(eng.Dispatcher().Guard()).Register(eng.Registry())
//
// Start fails with a configuration error when a required job type has no
// handler. By default every kind in job.Types() is required; narrow the
// set with [WithRequiredTypes].
//
// # Enqueuing Jobs
//
//	j, err := eng.Enqueue(ctx, job.TypeWebhookDelivery, payload,
//	    job.WithStoreID("store-1"),
//	    job.WithPriority(5),
//	)
//
// # Options
//
//   - [WithConfig]: concurrency, polling and timeout settings
//   - [WithLogger]: structured logger for every subsystem
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithJobStore]: override job persistence, e.g. with a cancel cache
//   - [WithTypeLimits], [WithStoreLimits]: admission control
//   - [WithDispatcherOptions]: configure the dynamic_cron dispatcher
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
