package mqtt

import "strings"

// DefaultTopicPrefix is the root of every monomed topic.
const DefaultTopicPrefix = "monome"

// Topics builds monomed MQTT topics under a common prefix.
//
// Topic layout:
//   - {prefix}/state/{id}: retained device record
//   - {prefix}/input/{id}/{event}: key, tilt, enc and delta input
//   - {prefix}/command/{id}: LED and /sys commands into a device
//   - {prefix}/ack/{id}: one ack per command
//   - {prefix}/health and {prefix}/status: retained bridge state
//
// A zero Topics behaves like NewTopics("").
//
//	topics := mqtt.NewTopics("monome")
//	topics.State("m0-1")          // monome/state/m0-1
//	topics.Input("m0-1", "key")   // monome/input/m0-1/key
//	topics.Command("m0-1")        // monome/command/m0-1
type Topics struct {
	prefix string
}

// NewTopics returns topic builders under prefix. Leading and trailing
// slashes are dropped; an empty prefix means DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string { return t.root() }

// root is the effective prefix of a possibly zero Topics.
func (t Topics) root() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// State is the retained device record topic.
func (t Topics) State(deviceID string) string {
	return t.root() + "/state/" + deviceID
}

// Input carries key, tilt and delta events of a device.
func (t Topics) Input(deviceID, event string) string {
	return t.root() + "/input/" + deviceID + "/" + event
}

// Command receives LED and system commands for a device.
func (t Topics) Command(deviceID string) string {
	return t.root() + "/command/" + deviceID
}

// Ack carries command acknowledgements for a device.
func (t Topics) Ack(deviceID string) string {
	return t.root() + "/ack/" + deviceID
}

// Health is the retained bridge health topic.
func (t Topics) Health() string {
	return t.root() + "/health"
}

// Status is the retained daemon online/offline topic, also used as LWT.
func (t Topics) Status() string {
	return t.root() + "/status"
}

// AllCommands matches the command topic of every device.
func (t Topics) AllCommands() string {
	return t.root() + "/command/+"
}

// AllInput matches every input event.
func (t Topics) AllInput() string {
	return t.root() + "/input/#"
}

// DeviceFromCommand extracts the device id from a command topic.
//
// It returns false for topics outside this prefix, for an empty id and
// for ids containing a further level.
func (t Topics) DeviceFromCommand(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, t.root()+"/command/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
