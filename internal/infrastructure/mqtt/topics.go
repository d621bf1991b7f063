package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes.
//
// Device topics follow the Tasmota-style convention used by the switches,
// dimmers and awning motors a node drives: commands go to cmnd/<topic> and
// devices report on stat/<topic>. Node-level topics live under
// graylogic/node/<node_id>.
const (
	// TopicPrefixCommand is prepended to a device topic for commands.
	TopicPrefixCommand = "cmnd"

	// TopicPrefixState is prepended to a device topic for state reports.
	TopicPrefixState = "stat"

	// TopicPrefixNode is the base for node-level topics.
	TopicPrefixNode = "graylogic/node"
)

// Topics provides builders for the topics a node publishes and subscribes to.
//
//	topics := mqtt.Topics{}
//	topics.Command("kitchen/light") // "cmnd/kitchen/light"
//	topics.NodeStatus("workshop")   // "graylogic/node/workshop/status"
type Topics struct{}

// Command returns the command topic for a device topic.
func (Topics) Command(deviceTopic string) string {
	return TopicPrefixCommand + "/" + strings.Trim(deviceTopic, "/")
}

// State returns the state-report topic for a device topic.
func (Topics) State(deviceTopic string) string {
	return TopicPrefixState + "/" + strings.Trim(deviceTopic, "/")
}

// NodeStatus returns the retained online/offline topic for a node.
//
// Example: graylogic/node/workshop/status
func (Topics) NodeStatus(nodeID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixNode, nodeID)
}

// NodeValue returns the topic a node publishes module value changes on.
//
// Example: graylogic/node/workshop/value/lamp
func (Topics) NodeValue(nodeID, moduleID string) string {
	return fmt.Sprintf("%s/%s/value/%s", TopicPrefixNode, nodeID, moduleID)
}

// AllNodeStatus returns the wildcard for every node's status topic.
func (Topics) AllNodeStatus() string {
	return TopicPrefixNode + "/+/status"
}

// ValidatePublishTopic rejects topics a client must not publish to:
// empty topics and topics containing wildcards.
func ValidatePublishTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
