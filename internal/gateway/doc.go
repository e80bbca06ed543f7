// Package gateway keeps a single habitat device in sync over MQTT.
//
// A Gateway owns one broker session at a time and orchestrates:
//   - TopicSet: the subscribe and publish topics derived from a device id
//   - DecodePayload: tolerant decoding of telemetry in four payload shapes
//   - StateStore: the merged, observable device properties
//   - DebugRecorder: a bounded trace of traffic and state changes
//   - ResponseCorrelator: matching command responses to pending requests
//   - PollingScheduler: periodic shadow refresh while connected
//
// # Connection lifecycle
//
//	Disconnected → Connecting → Connected → ConnectionLost → Connecting
//	                    ↓   ↑
//	               ConnectFailed
//
// Entering Connected subscribes every topic and starts polling. Leaving
// it stops polling. Pending commands are never failed by a disconnect;
// each resolves through its own response or timeout.
//
// # Commands
//
// SendBatch rejects empty and conflicting requests before any I/O and
// otherwise publishes one command document with a fresh correlation id.
// Its callback runs exactly once.
//
//	gw.SendBatch(gateway.BatchCommand{Ventilation: &on}, func(res gateway.CommandResult) {
//	    if res.Err != nil {
//	        log.Printf("command failed: %v", res.Err)
//	    }
//	})
package gateway
