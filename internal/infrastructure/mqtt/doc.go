// Package mqtt provides MQTT connectivity for the monomed bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and retained-state support
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) on the status topic
//
// # Topics
//
// Every topic lives under a configurable prefix (default "monome"):
//
//	monome/status                 retained daemon online/offline (LWT)
//	monome/health                 retained bridge health
//	monome/state/{device}         retained device record
//	monome/input/{device}/{event} key, tilt, delta events
//	monome/command/{device}       LED and /sys commands (subscribed)
//	monome/ack/{device}           command results
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.NewTopics(cfg.Bridge.TopicPrefix))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
