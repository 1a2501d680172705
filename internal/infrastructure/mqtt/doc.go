// Package mqtt provides MQTT client connectivity for the core's per-user
// integration bridges.
//
// This package manages:
//   - Connection to a broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Each user's MQTT bridge integration owns one Client, connected with a
// clientId and status topic scoped to that instance rather than the whole
// deployment; the broker is otherwise shared, per-user credentials
// permitting.
//
//	device state service -> integration.Manager -> per-user mqtt.Client -> broker
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, "nest/status")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Prefix: "nest", DiscoveryPrefix: "homeassistant"}
//	err = client.Subscribe(topics.DerivedCommandFilter(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	client.Publish(topics.DerivedState("D1", "mode"), []byte("heat"), 0, true)
package mqtt
