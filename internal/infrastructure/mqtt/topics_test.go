package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("monome")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state", topics.State("m0-1"), "monome/state/m0-1"},
		{"input", topics.Input("m0-1", "key"), "monome/input/m0-1/key"},
		{"command", topics.Command("m0-1"), "monome/command/m0-1"},
		{"ack", topics.Ack("m0-1"), "monome/ack/m0-1"},
		{"health", topics.Health(), "monome/health"},
		{"status", topics.Status(), "monome/status"},
		{"all commands", topics.AllCommands(), "monome/command/+"},
		{"all input", topics.AllInput(), "monome/input/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewTopicsPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "monome"},
		{"/studio/", "studio"},
		{"home/monome", "home/monome"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			if got := NewTopics(tt.prefix).Prefix(); got != tt.want {
				t.Errorf("NewTopics(%q).Prefix() = %q, want %q", tt.prefix, got, tt.want)
			}
		})
	}

	if got := (Topics{}).Health(); got != "monome/health" {
		t.Errorf("zero Topics.Health() = %q, want monome/health", got)
	}
}

func TestDeviceFromCommand(t *testing.T) {
	topics := NewTopics("monome")

	tests := []struct {
		topic string
		id    string
		ok    bool
	}{
		{"monome/command/m0-1", "m0-1", true},
		{"monome/command/", "", false},
		{"monome/command/m0-1/extra", "", false},
		{"monome/state/m0-1", "", false},
		{"other/command/m0-1", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, ok := topics.DeviceFromCommand(tt.topic)
			if id != tt.id || ok != tt.ok {
				t.Errorf("DeviceFromCommand(%q) = %q, %v; want %q, %v", tt.topic, id, ok, tt.id, tt.ok)
			}
		})
	}
}
