// Package mqtt provides the broker connection used to carry command intents
// out to field nodes and acknowledgements back to the engine.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS guarantees
//   - Subscriptions, restored after reconnect
//   - A retained status topic with a Last Will for offline detection
//
// # Topics
//
// Every topic lives under a configurable prefix (default "greenhouse"):
//
//	greenhouse/command/{zone}/{node}   engine → node, command intents
//	greenhouse/ack/{zone}/{node}       node → engine, acknowledgements
//	greenhouse/event/cycle/{zone}      engine → subscribers, cycle transitions
//	greenhouse/system/status           retained online/offline status
//
// A command addressed to a whole zone uses "_zone" as the node segment.
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) for anything beyond a local broker
//   - Credentials are checked against the broker ACL
//   - Payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().Command("zone-a", "node-7")
//	err = client.Publish(topic, payload, 1, false)
package mqtt
