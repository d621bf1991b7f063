// Package mqtt provides MQTT client connectivity for a Gray Logic node.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on the node status topic
//   - Connection health monitoring
//
// # Topics
//
// Devices driven over MQTT follow the cmnd/stat convention: the node
// publishes commands to cmnd/<topic> and devices report their state on
// stat/<topic>. Topics builds both, plus the node's own retained status
// topic graylogic/node/<node_id>/status.
//
// # Security Considerations
//
//   - TLS should be enabled outside a trusted LAN (cfg.Broker.TLS=true)
//   - Credentials come from config or GRAYLOGIC_MQTT_USERNAME/PASSWORD
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.State("hall/light"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("%s = %s", topic, payload)
//	        return nil
//	    })
//
//	client.Publish(mqtt.Topics{}.Command("hall/light"), []byte("ON"), 1, false)
//	client.PublishRetained(mqtt.Topics{}.NodeValue("workshop", "lamp"), []byte("1"))
package mqtt
