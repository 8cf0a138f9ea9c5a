// Package eventbus publishes delivery events to RabbitMQ.
//
// Every event appended to a notification's history is sent as JSON to a
// durable topic exchange with the routing key "notification.<kind>", so
// analytics consumers can bind to "notification.#" or to single kinds such as
// "notification.bounced".
//
//	bus, err := eventbus.Dial(ctx, cfg, log)
//	engine, err := delivery.NewEngine(stores, directory, adapters,
//		delivery.WithEventStream(bus))
//
// Publish failures are reported to the caller; the delivery tracker logs them
// without failing the history append.
package eventbus
