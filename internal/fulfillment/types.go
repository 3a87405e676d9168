package fulfillment

import (
	"encoding/json"

	"github.com/bloveless/esp32-iot-desk/internal/desk"
)

const (
	IntentSync       = "action.devices.SYNC"
	IntentQuery      = "action.devices.QUERY"
	IntentExecute    = "action.devices.EXECUTE"
	IntentDisconnect = "action.devices.DISCONNECT"

	CommandSetModes = "action.devices.commands.SetModes"

	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"

	ErrorCodeHardError      = "hardError"
	ErrorCodeDeviceNotFound = "deviceNotFound"

	heightMode = "height"
)

type Request struct {
	RequestID string  `json:"requestId"`
	Inputs    []Input `json:"inputs"`
}

type Input struct {
	Intent  string          `json:"intent"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Response struct {
	RequestID string `json:"requestId"`
	Payload   any    `json:"payload"`
}

type DeviceRef struct {
	ID string `json:"id"`
}

// SYNC

type SyncPayload struct {
	AgentUserID string             `json:"agentUserId"`
	Devices     []DeviceDescriptor `json:"devices"`
}

type DeviceDescriptor struct {
	ID              string           `json:"id"`
	Type            string           `json:"type"`
	Traits          []string         `json:"traits"`
	Name            DeviceName       `json:"name"`
	WillReportState bool             `json:"willReportState"`
	Attributes      DeviceAttributes `json:"attributes"`
	DeviceInfo      DeviceInfo       `json:"deviceInfo"`
}

type DeviceName struct {
	DefaultNames []string `json:"defaultNames"`
	Name         string   `json:"name"`
	Nicknames    []string `json:"nicknames"`
}

type DeviceAttributes struct {
	AvailableModes []Mode `json:"availableModes"`
}

type Mode struct {
	Name       string        `json:"name"`
	NameValues []ModeName    `json:"name_values"`
	Settings   []ModeSetting `json:"settings"`
	Ordered    bool          `json:"ordered"`
}

type ModeName struct {
	NameSynonym []string `json:"name_synonym"`
	Lang        string   `json:"lang"`
}

type ModeSetting struct {
	SettingName   string         `json:"setting_name"`
	SettingValues []SettingValue `json:"setting_values"`
}

type SettingValue struct {
	SettingSynonym []string `json:"setting_synonym"`
	Lang           string   `json:"lang"`
}

type DeviceInfo struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	HwVersion    string `json:"hwVersion"`
	SwVersion    string `json:"swVersion"`
}

// describeDevice builds the SYNC descriptor for a desk. The height settings
// come from desk.Presets so discovery and execute accept the same names.
func describeDevice(id string) DeviceDescriptor {
	presets := desk.Presets()
	settings := make([]ModeSetting, 0, len(presets))
	for _, p := range presets {
		settings = append(settings, ModeSetting{
			SettingName:   p.Name,
			SettingValues: []SettingValue{{SettingSynonym: p.Synonyms, Lang: "en"}},
		})
	}
	return DeviceDescriptor{
		ID:     id,
		Type:   "action.devices.types.SENSOR",
		Traits: []string{"action.devices.traits.Modes"},
		Name: DeviceName{
			DefaultNames: []string{"My Desk"},
			Name:         "ESP32 IoT Desk",
			Nicknames:    []string{"desk", "iot desk", "my desk"},
		},
		WillReportState: true,
		Attributes: DeviceAttributes{
			AvailableModes: []Mode{{
				Name:       heightMode,
				NameValues: []ModeName{{NameSynonym: []string{"preset"}, Lang: "en"}},
				Settings:   settings,
				Ordered:    true,
			}},
		},
		DeviceInfo: DeviceInfo{
			Manufacturer: "Loveless Engineering",
			Model:        "349",
			HwVersion:    "0.0.1",
			SwVersion:    "0.0.1",
		},
	}
}

// QUERY

type QueryRequestPayload struct {
	Devices []DeviceRef `json:"devices"`
}

type QueryPayload struct {
	Devices map[string]DeviceState `json:"devices"`
}

type DeviceState struct {
	Height *string `json:"height,omitempty"`
}

// EXECUTE

type ExecuteRequestPayload struct {
	Commands []Command `json:"commands"`
}

type Command struct {
	Devices   []DeviceRef `json:"devices"`
	Execution []Execution `json:"execution"`
}

type Execution struct {
	Command string          `json:"command"`
	Params  ExecutionParams `json:"params"`
}

type ExecutionParams struct {
	UpdateModeSettings map[string]any `json:"updateModeSettings,omitempty"`
}

// requestedHeight returns the height setting of a SetModes execution.
func (e Execution) requestedHeight() (string, bool) {
	if e.Command != CommandSetModes {
		return "", false
	}
	h, ok := e.Params.UpdateModeSettings[heightMode].(string)
	if !ok || h == "" {
		return "", false
	}
	return h, true
}

type ExecutePayload struct {
	Commands []CommandResult `json:"commands"`
}

type CommandResult struct {
	IDs       []string          `json:"ids"`
	Status    string            `json:"status"`
	States    map[string]string `json:"states,omitempty"`
	ErrorCode string            `json:"errorCode,omitempty"`
}
