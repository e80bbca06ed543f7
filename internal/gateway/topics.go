package gateway

import (
	"strings"

	"github.com/petnestiq/habitat-gateway/internal/infrastructure/mqtt"
)

// TopicKind classifies an inbound topic for routing.
type TopicKind int

const (
	KindUnknown TopicKind = iota
	KindShadowGetResponse
	KindShadowUpdateResponse
	KindPropertiesReport
	KindMessagesUp
	KindEventsUp
	KindCommandResponse
	KindGenericData
)

// String returns the label used in logs and metrics.
func (k TopicKind) String() string {
	switch k {
	case KindShadowGetResponse:
		return "shadow_get_response"
	case KindShadowUpdateResponse:
		return "shadow_update_response"
	case KindPropertiesReport:
		return "properties_report"
	case KindMessagesUp:
		return "messages_up"
	case KindEventsUp:
		return "events_up"
	case KindCommandResponse:
		return "command_response"
	case KindGenericData:
		return "generic_data"
	default:
		return "unknown"
	}
}

// carriesTelemetry reports whether messages of this kind feed the decoder.
func (k TopicKind) carriesTelemetry() bool {
	switch k {
	case KindShadowGetResponse, KindShadowUpdateResponse, KindPropertiesReport, KindGenericData:
		return true
	}
	return false
}

// Subscription is one topic filter the gateway subscribes to.
type Subscription struct {
	Topic string
	Kind  TopicKind
}

// TopicSet is the immutable set of topics for one device, built once per
// connection attempt.
type TopicSet struct {
	deviceID       string
	subs           []Subscription
	byTopic        map[string]TopicKind
	responsePrefix string
}

// NewTopicSet derives every subscribe and publish topic for deviceID.
func NewTopicSet(deviceID string) TopicSet {
	t := mqtt.Topics{}
	subs := []Subscription{
		{t.ShadowGetResponse(deviceID), KindShadowGetResponse},
		{t.ShadowUpdateResponse(deviceID), KindShadowUpdateResponse},
		{t.PropertiesReport(deviceID), KindPropertiesReport},
		{t.MessagesUp(deviceID), KindMessagesUp},
		{t.EventsUp(deviceID), KindEventsUp},
		{t.CommandResponse(deviceID), KindCommandResponse},
		// Some platforms answer on commands/response/request_id={id}.
		{t.CommandResponse(deviceID) + "/+", KindCommandResponse},
	}
	for _, topic := range t.GenericData(deviceID) {
		subs = append(subs, Subscription{topic, KindGenericData})
	}

	byTopic := make(map[string]TopicKind, len(subs))
	for _, s := range subs {
		byTopic[s.Topic] = s.Kind
	}

	return TopicSet{
		deviceID:       deviceID,
		subs:           subs,
		byTopic:        byTopic,
		responsePrefix: t.CommandResponse(deviceID) + "/",
	}
}

// DeviceID returns the device the set was built for.
func (ts TopicSet) DeviceID() string { return ts.deviceID }

// Subscriptions returns a copy of the subscribe list.
func (ts TopicSet) Subscriptions() []Subscription {
	out := make([]Subscription, len(ts.subs))
	copy(out, ts.subs)
	return out
}

// Kind classifies a concrete inbound topic.
func (ts TopicSet) Kind(topic string) TopicKind {
	if k, ok := ts.byTopic[topic]; ok {
		return k
	}
	if strings.HasPrefix(topic, ts.responsePrefix) {
		return KindCommandResponse
	}
	return KindUnknown
}

// ShadowRequest returns the shadow-get topic for one request.
func (ts TopicSet) ShadowRequest(requestID string) string {
	return mqtt.Topics{}.ShadowGetRequest(ts.deviceID, requestID)
}

// CommandRequest returns the command topic for one request.
func (ts TopicSet) CommandRequest(requestID string) string {
	return mqtt.Topics{}.CommandRequest(ts.deviceID, requestID)
}

// MessagesUp returns the topic status reports are published to.
func (ts TopicSet) MessagesUp() string {
	return mqtt.Topics{}.MessagesUp(ts.deviceID)
}
