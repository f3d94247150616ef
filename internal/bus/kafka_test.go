package bus

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
)

// TestKafkaConfig_Validation tests configuration validation.
func TestKafkaConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     KafkaConfig
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "test-group",
			},
			wantErr: false,
		},
		{
			name: "empty brokers",
			cfg: KafkaConfig{
				Brokers:       []string{},
				ConsumerGroup: "test-group",
			},
			wantErr: true,
		},
		{
			name: "empty consumer group",
			cfg: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "",
			},
			wantErr: true,
		},
		{
			name: "invalid kafka version",
			cfg: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "test-group",
				Version:       "invalid",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKafkaConfig_Defaults(t *testing.T) {
	cfg := KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "g"}

	version, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.ClientID != "tnsample-bus" {
		t.Errorf("ClientID = %s, want tnsample-bus", cfg.ClientID)
	}
	if !version.IsAtLeast(sarama.V2_8_0_0) {
		t.Errorf("version = %s, want at least 2.8.0", version)
	}

	sc := cfg.saramaConfig(version)
	if !sc.Producer.Return.Successes {
		t.Error("sync producer requires Return.Successes")
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("sarama config invalid: %v", err)
	}
}

func TestEncodeMessage(t *testing.T) {
	ev := NewEvent(TopicTensorCompleted, "sample", "run-1", TensorCompleted{Index: 4, Path: "a.tns"})

	msg, err := encodeMessage(TopicTensorCompleted, ev)
	if err != nil {
		t.Fatalf("encodeMessage() error = %v", err)
	}

	if msg.Topic != TopicTensorCompleted {
		t.Errorf("Topic = %s, want %s", msg.Topic, TopicTensorCompleted)
	}

	key, _ := msg.Key.Encode()
	if string(key) != "run-1" {
		t.Errorf("Key = %s, want run-1 (events of a run share a partition)", key)
	}

	value, _ := msg.Value.Encode()
	var back Event
	if err := json.Unmarshal(value, &back); err != nil {
		t.Fatalf("value is not an event: %v", err)
	}
	if back.ID != ev.ID || back.RunID != "run-1" {
		t.Errorf("decoded event = %+v, want ID %s", back, ev.ID)
	}

	// Without a run the event ID is the key
	ev.RunID = ""
	msg, _ = encodeMessage(TopicTensorCompleted, ev)
	key, _ = msg.Key.Encode()
	if string(key) != ev.ID {
		t.Errorf("Key = %s, want %s", key, ev.ID)
	}
}
