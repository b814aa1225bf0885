package payload

import (
	"time"
)

// Payload is a document that can be published to the broker.
// It is implemented only by Config and State.
type Payload interface {
	isPayload()
}

// EntityCategory classifies a Home Assistant entity.
type EntityCategory string

// Entity categories understood by Home Assistant.
const (
	EntityCategoryConfig     EntityCategory = "config"
	EntityCategoryDiagnostic EntityCategory = "diagnostic"
)

// DeviceInfo is the device block shared by every entity of one meter.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// Config is a Home Assistant MQTT discovery document.
type Config struct {
	Name         string     `json:"name"`
	Device       DeviceInfo `json:"device"`
	UniqueID     string     `json:"unique_id"`
	EntityID     string     `json:"entity_id"`
	StateTopic   string     `json:"state_topic"`
	ExpiresAfter uint64     `json:"expires_after"`

	EntityCategory            *EntityCategory   `json:"entity_category,omitempty"`
	CommandTopic              *string           `json:"command_topic,omitempty"`
	PayloadOn                 *string           `json:"payload_on,omitempty"`
	PayloadOff                *string           `json:"payload_off,omitempty"`
	StateClass                *string           `json:"state_class,omitempty"`
	DeviceClass               *string           `json:"device_class,omitempty"`
	UnitOfMeasurement         *string           `json:"unit_of_measurement,omitempty"`
	Options                   []string          `json:"options,omitzero"`
	ValueTemplate             *string           `json:"value_template,omitempty"`
	SuggestedDisplayPrecision *uint8            `json:"suggested_display_precision,omitempty"`
	AssumedState              *bool             `json:"assumed_state,omitempty"`
	Attribution               *string           `json:"attribution,omitempty"`
	Available                 *bool             `json:"available,omitempty"`
	AvailabilityTopic         *string           `json:"availability_topic,omitempty"`
	EntityPicture             *string           `json:"entity_picture,omitempty"`
	ExtraStateAttributes      map[string]string `json:"extra_state_attributes,omitzero"`
	HasEntityName             *bool             `json:"has_entity_name,omitempty"`
	ShouldPoll                *bool             `json:"should_poll,omitempty"`
	TranslationKey            *string           `json:"translation_key,omitempty"`
	PayloadPress              *string           `json:"payload_press,omitempty"`
	Min                       *int32            `json:"min,omitempty"`
	Max                       *int32            `json:"max,omitempty"`
	Mode                      *string           `json:"mode,omitempty"`
	Step                      *int32            `json:"step,omitempty"`
	Icon                      *string           `json:"icon,omitempty"`
}

func (Config) isPayload() {}

// State is the current value of one sensor.
type State struct {
	Value       Value     `json:"value"`
	Label       *string   `json:"label,omitempty"`
	Description *string   `json:"description,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

func (State) isPayload() {}

// NewState returns a State carrying v, stamped with the given time in UTC.
func NewState(v Value, at time.Time) State {
	return State{Value: v, LastSeen: at.UTC()}
}

// String returns a pointer to s, for optional string fields.
func String(s string) *string { return &s }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Uint8 returns a pointer to n.
func Uint8(n uint8) *uint8 { return &n }

// Int32 returns a pointer to n.
func Int32(n int32) *int32 { return &n }

// Category returns a pointer to c.
func Category(c EntityCategory) *EntityCategory { return &c }
