// Package mqtt provides the bridge's MQTT client.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and connect-retry
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) on <namespace>/bridge/status
//
// # Connection model
//
// New builds the client; Start connects. If the broker is down at startup,
// Start returns ErrConnectionFailed but the client keeps retrying, and any
// Subscribe calls made in the meantime take effect when it connects.
//
// Handlers are dispatched in order: a slow handler delays the next message
// rather than running concurrently with it.
//
// # Security Considerations
//
//   - Set Broker.TLS for anything beyond a local broker
//   - Broker.CAFile pins a private CA instead of the system roots
//   - Credentials are validated against the broker ACL
//
// # Usage
//
//	client, err := mqtt.New(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	if err := client.Start(ctx); err != nil {
//	    log.Warn("broker unavailable, retrying", "error", err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("iot/devices/+/data", 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
//
//	client.Publish("iot/devices/D1/command", []byte(`{"action":"feed"}`), 1, false)
package mqtt
