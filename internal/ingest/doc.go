// Package ingest turns device telemetry arriving over MQTT into stored
// readings and live broadcasts.
//
// # Pipeline
//
//	MQTT <ns>/devices/<id>/data
//	        │
//	    Ingress ── decode flat JSON
//	        │
//	    Reconciler ── one transaction: device lookup, mark online, upsert fields
//	        │ (after commit)
//	    Queue ── FIFO handoff, Close is the terminal marker
//	        │
//	    Worker ── serialise once, broadcast to observers, relay
//
// Message handlers run on the MQTT client's goroutines; the single Worker
// is the only reader of the Queue, so events leave in the order they were
// committed.
//
// # Failure handling
//
// Nothing in the pipeline stops on a bad message. Malformed topics and
// payloads, unknown devices and store errors are logged, counted and
// dropped. A store error means nothing was committed and nothing is
// broadcast. A field with an unusable key or value is skipped while the
// rest of the message is stored.
//
// # Commands
//
// Ingress.PublishCommand sends JSON to <ns>/devices/<id>/command at QoS 1.
// Delivery to the broker is all that is promised.
//
// # Lifecycle
//
//	svc, err := ingest.NewService(ingest.Options{
//	    Store:    repo,
//	    Broker:   mqttClient,
//	    Registry: registry,
//	})
//	if err := svc.Start(ctx); err != nil { ... }
//	...
//	svc.Stop(shutdownCtx) // then close the MQTT client
package ingest
