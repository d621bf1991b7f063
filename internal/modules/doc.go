// Package modules holds the concrete device adapters of a Gray Logic node.
//
// Importing the package registers every adapter type tag into
// node.Default, so a document naming "DigitalOutput" or "MqttSwitch" can be
// loaded with node.Load:
//
//	import _ "github.com/nerrad567/gray-logic-node/internal/modules"
//
// Adapter families:
//   - GPIO: DigitalInput, DigitalButton, DigitalOutput
//   - Serial: SerialInterface (comm), SerialInput, SerialOutput
//   - MQTT: MqttComm (comm), MqttInput, MqttButton, MqttSwitch, MqttVolume,
//     MqttAwning
//
// MQTT devices follow the cmnd/stat convention: commands are published to
// cmnd/<mqttTopic> and device state arrives on stat/<mqttTopic>. MQTT
// inputs listen on cmnd/<mqttTopic>, where wall switches and other nodes
// publish.
//
// Serial traffic is newline-delimited "<id>:<value>" text on a shared port.
package modules
