package mqtt

import (
	"encoding/json"
	"strings"

	"github.com/nugget/jarvis-core/internal/buildinfo"
	"github.com/nugget/jarvis-core/internal/events"
)

// Topics derives every topic from one prefix.
type Topics struct {
	Prefix string
}

// Event returns the topic for e.
func (t Topics) Event(e events.Event) string {
	return t.Prefix + "/events/" + segment(e.Source) + "/" + segment(e.Kind)
}

// Availability is the retained online/offline topic.
func (t Topics) Availability() string { return t.Prefix + "/availability" }

// ModelState holds the latest model status, retained.
func (t Topics) ModelState() string { return t.Prefix + "/model/state" }

// Command is the filter commands arrive on.
func (t Topics) Command() string { return t.Prefix + "/command/+" }

// CommandName extracts the command from a topic matching [Topics.Command].
func (t Topics) CommandName(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.Prefix+"/command/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// Discovery is the Home Assistant discovery topic for the model sensor.
func (t Topics) Discovery(haPrefix, nodeID string) string {
	return haPrefix + "/sensor/" + segment(nodeID) + "/model_status/config"
}

// segment makes s safe as a single topic level.
func segment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// Payload encodes e for publishing.
func Payload(e events.Event) ([]byte, error) {
	return json.Marshal(e)
}

// DeviceInfo is the Home Assistant device registry block.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is a Home Assistant MQTT sensor discovery payload.
type SensorConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	AvailabilityTopic   string     `json:"availability_topic"`
	JSONAttributesTopic string     `json:"json_attributes_topic,omitempty"`
	ValueTemplate       string     `json:"value_template,omitempty"`
	Icon                string     `json:"icon,omitempty"`
	Device              DeviceInfo `json:"device"`
}

// ModelSensor describes the model status sensor for client id.
func (t Topics) ModelSensor(id string) SensorConfig {
	return SensorConfig{
		Name:                "Model status",
		UniqueID:            id + "_model_status",
		StateTopic:          t.ModelState(),
		AvailabilityTopic:   t.Availability(),
		JSONAttributesTopic: t.ModelState(),
		ValueTemplate:       "{{ value_json.status }}",
		Icon:                "mdi:brain",
		Device: DeviceInfo{
			Identifiers:  []string{id},
			Name:         "Jarvis " + id,
			Manufacturer: "Jarvis",
			Model:        "Jarvis Core",
			SWVersion:    buildinfo.Version,
		},
	}
}
