// Package delivery is the notification delivery engine.
//
// Callers submit pre-rendered notifications through Enqueue. A Dispatcher
// polls due records, consults the Gate (opt-outs, preferences, quiet hours,
// daily caps) and the Limiter (per recipient, channel and category window),
// claims each record by a version compare-and-swap and hands it to the
// channel Adapter. Outcomes drive the lifecycle:
//
//	pending|scheduled -> dispatching -> sent
//	                                 -> retry_scheduled -> dispatching ...
//	                                 -> failed
//	any non-terminal  -> cancelled (opt-out, disabled preference, expiry)
//
// Every transition appends an Event; the Tracker answers status queries from
// the record and its history. Storage is pluggable through the interfaces in
// storage.go. MemoryStorage serves tests and single-process setups; see the
// pgstore and redisstore packages for shared backends.
//
// Basic wiring:
//
//	store := delivery.NewMemoryStorage()
//	engine, err := delivery.NewEngine(store.Stores(), directory,
//	    delivery.NewAdapters(emailAdapter, smsAdapter),
//	    delivery.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	g.Go(engine.Dispatcher().Run(ctx))
//
//	id, err := engine.Enqueue(ctx, delivery.EnqueueRequest{...})
package delivery
