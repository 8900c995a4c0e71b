package processor

import (
	"github.com/fogline/fogline/pkg/fogline/event"
	"github.com/fogline/fogline/pkg/fogline/transport"
)

// RouteFor maps an event type to its downstream topic. Unknown types go
// to the dead-letter topic so nothing is silently discarded.
func RouteFor(eventType string) string {
	switch eventType {
	case event.TypeCrowdGathering, event.TypeSuddenSpike, event.TypeProlongedCrowd:
		return transport.TopicAlerts
	case event.TypeRoutineUpdate, event.TypeRateAnomaly:
		return transport.TopicOps
	case event.TypeCameraOffline, event.TypeConnectionLost:
		return transport.TopicTickets
	default:
		return transport.TopicDeadLetter
	}
}
