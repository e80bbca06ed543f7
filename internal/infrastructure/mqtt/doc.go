// Package mqtt provides the MQTT 3.1.1 session used by the habitat gateway.
//
// This package manages:
//   - A single paho.mqtt.golang session per connection attempt
//   - Handshake with timeout and context cancellation
//   - Automatic reconnect after an established connection drops
//   - Publish and subscribe with acknowledgement timeouts
//   - Topic builders for the device platform's $oc/devices/... hierarchy
//   - Credential derivation (HMAC-SHA256 over an hourly timestamp)
//
// # Architecture
//
//	habitat gateway ↔ IoT platform broker ↔ habitat device
//
// The gateway never talks to the device directly. Shadow queries and
// control commands are request topics suffixed with request_id={id};
// the platform relays answers on fixed response topics.
//
// # Usage
//
//	creds := mqtt.ResolveCredentials(deviceID, "", "", "", secret, time.Now())
//	client, err := mqtt.New(mqtt.Options{
//	    ServerURI: "ssl://iot.example.com:8883",
//	    ClientID:  creds.ClientID,
//	    Username:  creds.Username,
//	    Password:  creds.Password,
//	})
//	if err != nil {
//	    return err
//	}
//	client.SetOnConnect(func() { ... })
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
