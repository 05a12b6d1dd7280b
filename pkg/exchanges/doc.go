// Package exchanges records HTTP request/response exchanges and keeps a
// bounded window of the most recent ones in memory for operators to inspect.
//
// A Policy decides which parts of an exchange are copied. The Recorder
// applies it when an exchange completes and produces an immutable Exchange,
// which is then handed to a Repository:
//
//	repo, err := exchanges.NewInMemoryRepository(exchanges.DefaultCapacity)
//	if err != nil {
//	    return err
//	}
//	rec := exchanges.NewRecorder(exchanges.DefaultIncludes())
//	repo.Add(rec.Record(req, resp, principal, session, start))
//	recent := repo.FindAll() // newest first
//
// Interception of live traffic lives in the middleware package; this package
// has no knowledge of how requests are served.
package exchanges
