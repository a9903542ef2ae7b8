// Package observer maintains the set of live observers that receive
// broadcast telemetry events.
//
// A Registry is safe for concurrent Connect, Disconnect and Broadcast calls.
// Broadcast delivers one serialised payload to every observer in a snapshot
// of the live set; any observer whose Send fails is removed and closed within
// the same call, so dead connections never accumulate and a failing observer
// never stops delivery to the others.
//
// Observers must not block in Send. The WebSocket observer in the api
// package and the Channel observer here both enqueue into a bounded buffer
// and report ErrObserverSlow when it is full.
//
//	reg := observer.NewRegistry()
//	reg.Connect(ws)
//	result := reg.Broadcast(payload)
//	// result.Failed observers are already gone from reg
package observer
