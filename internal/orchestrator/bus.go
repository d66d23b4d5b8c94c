package orchestrator

import (
	"context"

	"github.com/nerrad567/vendorsync/internal/infrastructure/mqtt"
	"github.com/nerrad567/vendorsync/internal/measurement"
	"github.com/nerrad567/vendorsync/internal/pushchannel"
)

// Bus is the publishing surface of the MQTT client.
type Bus interface {
	PublishJSON(topic string, v any, retained bool) error
}

// BusPublisher puts change records, change requests and push channel state
// on their MQTT topics.
type BusPublisher struct {
	bus    Bus
	topics mqtt.Topics
}

// NewBusPublisher builds a publisher over bus.
func NewBusPublisher(bus Bus, topics mqtt.Topics) *BusPublisher {
	return &BusPublisher{bus: bus, topics: topics}
}

// PublishChange implements measurement.Publisher.
func (p *BusPublisher) PublishChange(_ context.Context, ev measurement.ChangeEvent) error {
	return p.bus.PublishJSON(p.topics.ChangeRecord(ev.DeviceParameter), ev, false)
}

// PublishChangeRequest implements EventPublisher.
func (p *BusPublisher) PublishChangeRequest(_ context.Context, ev ChangeRequestEvent) error {
	return p.bus.PublishJSON(p.topics.ChangeRequest(ev.DeviceParameter), ev, false)
}

// PublishChannelState publishes s as the retained status of its channel.
func (p *BusPublisher) PublishChannelState(s pushchannel.State) error {
	return p.bus.PublishJSON(p.topics.PushChannelStatus(s.Server), s, true)
}
