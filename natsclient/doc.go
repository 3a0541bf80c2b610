// Package natsclient mirrors the sensor event stream onto NATS.
//
// Client wraps a nats.go connection with a circuit breaker: after a threshold
// of consecutive connect failures (default 5) Connect fails fast with
// ErrCircuitOpen until the backoff elapses, and the backoff doubles each time
// the circuit reopens, up to a maximum. Reconnection after a successful
// connect is left to nats.go and reported through the connection status.
//
// EventPublisher publishes each event as JSON on "<prefix>.<sensor type>",
// for example sensors.events.accelerometer:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("sensorhub"))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	mirror := natsclient.NewEventPublisher(client, "sensors.events", logger)
//	dispatcher.AddSink(mirror)
package natsclient
