package desk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bloveless/esp32-iot-desk/internal/observability"
)

const DefaultTopic = "/esp32_iot_desk/{device_id}/command"

// Publisher is the broker surface the dispatcher needs.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type Dispatcher struct {
	pub   Publisher
	topic string
}

// NewDispatcher publishes to topic with {device_id} replaced per command.
// An empty topic selects DefaultTopic.
func NewDispatcher(pub Publisher, topic string) *Dispatcher {
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}
	return &Dispatcher{pub: pub, topic: topic}
}

func (d *Dispatcher) Topic(deviceID string) string {
	return strings.ReplaceAll(d.topic, "{device_id}", deviceID)
}

// Dispatch publishes the code for preset to the device's command topic. It
// reports false without an error when preset is not a known name; nothing is
// published in that case.
func (d *Dispatcher) Dispatch(ctx context.Context, preset, deviceID string) (bool, error) {
	p, ok := ParsePreset(preset)
	if !ok {
		slog.DebugContext(ctx, "ignoring unknown preset", "preset", preset, "device_id", deviceID)
		observability.DeskCommandCounter.WithLabelValues("unknown", "ignored").Inc()
		return false, nil
	}
	topic := d.Topic(deviceID)
	if err := d.pub.Publish(topic, []byte(p.Code)); err != nil {
		observability.DeskCommandCounter.WithLabelValues(p.Name, "failed").Inc()
		return false, fmt.Errorf("publish %s: %w", topic, err)
	}
	observability.DeskCommandCounter.WithLabelValues(p.Name, "published").Inc()
	slog.InfoContext(ctx, "desk command published", "device_id", deviceID, "preset", p.Name, "topic", topic)
	return true, nil
}
