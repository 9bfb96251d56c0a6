package mqtt

import "testing"

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"transit/v1/changes/vehicles/+", "transit/v1/changes/vehicles/bus-12", true},
		{"transit/v1/changes/vehicles/+", "transit/v1/changes/vehicles/bus-12/extra", false},
		{"transit/v1/changes/#", "transit/v1/changes/vehicles/bus-12", true},
		{"transit/v1/changes/vehicles/bus-12", "transit/v1/changes/vehicles/bus-12", true},
		{"transit/v1/changes/vehicles/bus-12", "transit/v1/changes/vehicles/bus-13", false},
		{"transit/v1/+/vehicles/+", "transit/v1/changes/vehicles/x", true},
		{"transit/v1/changes/drivers/+", "transit/v1/changes/vehicles/x", false},
	}

	for _, tt := range tests {
		if got := topicsMatch(tt.filter, tt.topic); got != tt.want {
			t.Errorf("topicsMatch(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestTopicFilterStripsSharePrefix(t *testing.T) {
	if got := topicFilter("$share/app/transit/v1/changes/#"); got != "transit/v1/changes/#" {
		t.Errorf("topicFilter = %q", got)
	}
	if got := topicFilter("transit/v1/changes/#"); got != "transit/v1/changes/#" {
		t.Errorf("topicFilter = %q", got)
	}
}

func TestClientConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr bool
	}{
		{"ok", ClientConfig{BrokerURL: "tcp://localhost:1883", ClientID: "c1"}, false},
		{"missing url", ClientConfig{ClientID: "c1"}, true},
		{"missing scheme", ClientConfig{BrokerURL: "localhost", ClientID: "c1"}, true},
		{"missing client id", ClientConfig{BrokerURL: "tcp://localhost:1883"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
