package model

import "strings"

// Field is the logical channel a topic carries.
type Field string

const (
	FieldTemperature  Field = "temperature"
	FieldHumidity     Field = "humidity"
	FieldStatus       Field = "status"
	FieldRelayControl Field = "relayControl"
	FieldRelayStatus  Field = "relayStatus"
)

const DefaultDevicePrefix = "hidroponik"

// TopicNames holds the suffixes appended to the device prefix.
type TopicNames struct {
	Temperature  string `yaml:"temperature"`
	Humidity     string `yaml:"humidity"`
	Status       string `yaml:"status"`
	RelayControl string `yaml:"relay_control"`
	RelayStatus  string `yaml:"relay_status"`
}

// DefaultTopicNames returns the standard topic layout. Older station
// firmware publishes temperature on "sensor/suhu"; set it through config.
func DefaultTopicNames() TopicNames {
	return TopicNames{
		Temperature:  "sensor/temperature",
		Humidity:     "sensor/humidity",
		Status:       "status/led",
		RelayControl: "control/relay",
		RelayStatus:  "status/relay",
	}
}

// TopicMap is the read-only mapping between logical fields and wire topics.
type TopicMap struct {
	byField map[Field]string
	byTopic map[string]Field
}

// NewTopicMap builds the map for one device. Empty names fall back to defaults.
func NewTopicMap(prefix string, names TopicNames) TopicMap {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultDevicePrefix
	}
	def := DefaultTopicNames()
	pick := func(v, d string) string {
		v = strings.Trim(strings.TrimSpace(v), "/")
		if v == "" {
			return d
		}
		return v
	}
	byField := map[Field]string{
		FieldTemperature:  prefix + "/" + pick(names.Temperature, def.Temperature),
		FieldHumidity:     prefix + "/" + pick(names.Humidity, def.Humidity),
		FieldStatus:       prefix + "/" + pick(names.Status, def.Status),
		FieldRelayControl: prefix + "/" + pick(names.RelayControl, def.RelayControl),
		FieldRelayStatus:  prefix + "/" + pick(names.RelayStatus, def.RelayStatus),
	}
	byTopic := make(map[string]Field, len(byField))
	for f, t := range byField {
		byTopic[t] = f
	}
	return TopicMap{byField: byField, byTopic: byTopic}
}

// Topic returns the wire topic of a field.
func (m TopicMap) Topic(f Field) string { return m.byField[f] }

// FieldFor resolves an inbound topic. ok is false for topics outside the map.
func (m TopicMap) FieldFor(topic string) (Field, bool) {
	f, ok := m.byTopic[topic]
	return f, ok
}

// SubscribeTopics lists the topics the bridge listens on.
// The control topic is publish-only and never included.
func (m TopicMap) SubscribeTopics() []string {
	out := make([]string, 0, 4)
	for _, f := range []Field{FieldTemperature, FieldHumidity, FieldStatus, FieldRelayStatus} {
		out = append(out, m.byField[f])
	}
	return out
}
