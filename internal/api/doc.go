// Package api implements the HTTP collaborator surface of the IoT bridge.
//
// This package provides:
//   - Device registration and queries (the ingestion core never creates devices)
//   - Latest readings per device and across the fleet
//   - Command creation: stored as pending, recorded in history, then published
//     to the device's MQTT command topic
//   - History queries over device and command events
//   - WebSocket observers at /ws and /ws/sensor_data, registered in the
//     observer registry so every reconciled event reaches them
//   - A JSON system snapshot and, optionally, Prometheus metrics
//
// # Graceful Degradation
//
// The server runs without a broker connection: reads and WebSocket
// observers keep working and command creation answers 502 after storing
// the command.
package api
