// Package guard wires the callguard components into one process-scoped
// Runtime.
//
// A Runtime is built once at startup from a config.Config and passed to the
// code that makes guarded calls. It owns the telemetry Observer, the failure
// Handler (installed as the process default), the circuit breaker registry,
// the named caches and a health Aggregator over all of them.
//
//	cfg := config.MustLoad()
//	rt, err := guard.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	rt.Start(ctx)
//	defer rt.Stop(context.Background())
//
//	repos, _ := rt.Cache("github")
//	repo, err := guard.Protect(ctx, rt, guard.Call{
//	    Service:  "github",
//	    Category: failure.CategoryExternalService,
//	    Severity: failure.SeverityHigh,
//	}, fetchRepo)
package guard
