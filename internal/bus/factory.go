package bus

import (
	"fmt"
	"strings"

	"github.com/sptensor/tnsample/internal/config"
	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/pkg/logger"
)

// NewBus creates the bus selected by cfg. When event logging is enabled the
// bus is wrapped so every published event is also appended to disk.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	var inner Bus

	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		inner = NewMemoryBus(log)

	case "kafka":
		brokers := cfg.KafkaBrokerList()
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		group := cfg.KafkaGroup
		if group == "" {
			group = "tnsample"
		}

		kb, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: group,
			ClientID:      "tnsample-bus",
		}, log)
		if err != nil {
			return nil, err
		}
		inner = kb

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if !cfg.EventLogEnabled {
		return inner, nil
	}

	events, err := NewEventLogger(cfg.EventLogPath, true)
	if err != nil {
		inner.Close()
		return nil, err
	}
	return NewLoggedBus(inner, events, log), nil
}
