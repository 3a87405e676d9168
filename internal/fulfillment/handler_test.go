package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bloveless/esp32-iot-desk/internal/desk"
	"github.com/bloveless/esp32-iot-desk/internal/store"
)

type published struct {
	topic   string
	payload string
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic: topic, payload: string(payload)})
	return nil
}

type fixture struct {
	repo    *store.Repository
	pub     *fakePublisher
	handler *Handler
	user    *store.User
	token   string
}

func newFixture(t *testing.T, deviceIDs ...string) *fixture {
	t.Helper()
	dsn := "file:fulfillment_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := store.New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	user, err := repo.CreateUser(ctx, "desk@example.com", "Passw0rd!")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	for _, id := range deviceIDs {
		if _, err := repo.CreateDevice(ctx, user.ID, id); err != nil {
			t.Fatalf("create device %s: %v", id, err)
		}
	}
	token := "access-" + user.ID.String()
	if err := repo.SaveToken(ctx, &store.OAuthToken{
		AccessToken:          token,
		AccessTokenExpiresAt: time.Now().Add(time.Hour).UTC(),
		ClientID:             "google-home",
		UserID:               user.ID.String(),
	}); err != nil {
		t.Fatalf("save token: %v", err)
	}
	pub := &fakePublisher{}
	return &fixture{
		repo:    repo,
		pub:     pub,
		handler: NewHandler(repo, desk.NewDispatcher(pub, ""), false),
		user:    user,
		token:   token,
	}
}

func (f *fixture) do(t *testing.T, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/gaction/fulfillment", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) (string, T) {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		RequestID string `json:"requestId"`
		Payload   T      `json:"payload"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env.RequestID, env.Payload
}

func syncBody() string {
	return `{"requestId":"r-sync","inputs":[{"intent":"action.devices.SYNC"}]}`
}

func queryBody(ids ...string) string {
	refs := make([]string, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, `{"id":"`+id+`"}`)
	}
	return `{"requestId":"r-query","inputs":[{"intent":"action.devices.QUERY","payload":{"devices":[` + strings.Join(refs, ",") + `]}}]}`
}

func executeBody(height string, ids ...string) string {
	refs := make([]string, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, `{"id":"`+id+`"}`)
	}
	return `{"requestId":"r-exec","inputs":[{"intent":"action.devices.EXECUTE","payload":{"commands":[{"devices":[` +
		strings.Join(refs, ",") + `],"execution":[{"command":"action.devices.commands.SetModes","params":{"updateModeSettings":{"height":"` +
		height + `"}}}]}]}}]}`
}

func TestSyncWithoutDevices(t *testing.T) {
	f := newFixture(t)
	reqID, p := decodeResponse[SyncPayload](t, f.do(t, f.token, syncBody()))
	if reqID != "r-sync" {
		t.Fatalf("expected request id echoed, got %q", reqID)
	}
	if p.AgentUserID != f.user.ID.String() {
		t.Fatalf("expected agent user id %s, got %q", f.user.ID, p.AgentUserID)
	}
	if p.Devices == nil || len(p.Devices) != 0 {
		t.Fatalf("expected empty device list, got %+v", p.Devices)
	}
	if !strings.Contains(f.do(t, f.token, syncBody()).Body.String(), `"devices":[]`) {
		t.Fatalf("expected devices to encode as an empty array")
	}
}

func TestSyncDescribesOwnedDevices(t *testing.T) {
	f := newFixture(t, "D1", "D2")
	_, p := decodeResponse[SyncPayload](t, f.do(t, f.token, syncBody()))
	if len(p.Devices) != 2 || p.Devices[0].ID != "D1" || p.Devices[1].ID != "D2" {
		t.Fatalf("expected D1 and D2, got %+v", p.Devices)
	}
	d := p.Devices[0]
	if d.Type != "action.devices.types.SENSOR" || len(d.Traits) != 1 || d.Traits[0] != "action.devices.traits.Modes" {
		t.Fatalf("unexpected type/traits: %s %v", d.Type, d.Traits)
	}
	if !d.WillReportState || d.Name.Name != "ESP32 IoT Desk" || d.DeviceInfo.Manufacturer != "Loveless Engineering" || d.DeviceInfo.Model != "349" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
	modes := d.Attributes.AvailableModes
	if len(modes) != 1 || modes[0].Name != "height" || !modes[0].Ordered {
		t.Fatalf("expected single ordered height mode, got %+v", modes)
	}
	want := []string{"preset one", "preset two", "preset three"}
	if len(modes[0].Settings) != len(want) {
		t.Fatalf("expected %d settings, got %d", len(want), len(modes[0].Settings))
	}
	for i, s := range modes[0].Settings {
		if s.SettingName != want[i] {
			t.Fatalf("setting %d: expected %q, got %q", i, want[i], s.SettingName)
		}
	}
	if syn := modes[0].Settings[0].SettingValues[0].SettingSynonym; len(syn) != 2 || syn[0] != "preset 1" || syn[1] != "one" {
		t.Fatalf("unexpected synonyms: %v", syn)
	}
}

func TestSyncSettingsAreExecutable(t *testing.T) {
	f := newFixture(t, "D1")
	_, p := decodeResponse[SyncPayload](t, f.do(t, f.token, syncBody()))
	for _, s := range p.Devices[0].Attributes.AvailableModes[0].Settings {
		before := len(f.pub.msgs)
		decodeResponse[ExecutePayload](t, f.do(t, f.token, executeBody(s.SettingName, "D1")))
		if len(f.pub.msgs) != before+1 {
			t.Fatalf("setting %q from discovery was not dispatched", s.SettingName)
		}
	}
}

func TestExecuteEachPresetThenQuery(t *testing.T) {
	for _, p := range desk.Presets() {
		t.Run(p.Code, func(t *testing.T) {
			f := newFixture(t, "D1")
			_, out := decodeResponse[ExecutePayload](t, f.do(t, f.token, executeBody(p.Name, "D1")))

			if len(f.pub.msgs) != 1 {
				t.Fatalf("expected exactly one publish, got %d", len(f.pub.msgs))
			}
			if f.pub.msgs[0].topic != "/esp32_iot_desk/D1/command" || f.pub.msgs[0].payload != p.Code {
				t.Fatalf("unexpected publish %+v", f.pub.msgs[0])
			}
			if len(out.Commands) != 1 || out.Commands[0].Status != StatusSuccess || out.Commands[0].States["height"] != p.Name {
				t.Fatalf("unexpected execute result %+v", out.Commands)
			}

			_, q := decodeResponse[QueryPayload](t, f.do(t, f.token, queryBody("D1")))
			st, ok := q.Devices["D1"]
			if !ok || st.Height == nil || *st.Height != p.Name {
				t.Fatalf("expected D1 height %q, got %+v", p.Name, q.Devices)
			}
		})
	}
}

func TestExecuteUnknownPresetReportsSuccessWithoutPublishing(t *testing.T) {
	f := newFixture(t, "D1")
	_, out := decodeResponse[ExecutePayload](t, f.do(t, f.token, executeBody("preset eleven", "D1")))
	if len(f.pub.msgs) != 0 {
		t.Fatalf("expected no publish, got %+v", f.pub.msgs)
	}
	if len(out.Commands) != 1 || out.Commands[0].Status != StatusSuccess || out.Commands[0].IDs[0] != "D1" {
		t.Fatalf("expected success entry, got %+v", out.Commands)
	}
	_, q := decodeResponse[QueryPayload](t, f.do(t, f.token, queryBody("D1")))
	if q.Devices["D1"].Height != nil {
		t.Fatalf("expected height to stay unset, got %q", *q.Devices["D1"].Height)
	}
}

func TestExecuteReportsForeignDevices(t *testing.T) {
	f := newFixture(t, "D1")
	other, err := f.repo.CreateUser(context.Background(), "other@example.com", "pw")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := f.repo.CreateDevice(context.Background(), other.ID, "X1"); err != nil {
		t.Fatalf("create device: %v", err)
	}

	_, out := decodeResponse[ExecutePayload](t, f.do(t, f.token, executeBody("preset one", "D1", "X1")))
	if len(f.pub.msgs) != 1 || f.pub.msgs[0].topic != "/esp32_iot_desk/D1/command" {
		t.Fatalf("expected only D1 to be commanded, got %+v", f.pub.msgs)
	}
	if len(out.Commands) != 2 {
		t.Fatalf("expected success and not-found entries, got %+v", out.Commands)
	}
	if out.Commands[0].Status != StatusSuccess || len(out.Commands[0].IDs) != 1 || out.Commands[0].IDs[0] != "D1" {
		t.Fatalf("unexpected success entry %+v", out.Commands[0])
	}
	if out.Commands[1].Status != StatusError || out.Commands[1].ErrorCode != ErrorCodeDeviceNotFound || out.Commands[1].IDs[0] != "X1" {
		t.Fatalf("unexpected error entry %+v", out.Commands[1])
	}
	devices, _ := f.repo.ListDevicesByUser(context.Background(), other.ID)
	if devices[0].CurrentHeight != nil {
		t.Fatalf("foreign device must not be updated")
	}
}

func TestExecutePublishFailure(t *testing.T) {
	f := newFixture(t, "D1")
	f.pub.err = errors.New("broker down")

	_, out := decodeResponse[ExecutePayload](t, f.do(t, f.token, executeBody("preset two", "D1")))
	if len(out.Commands) != 1 || out.Commands[0].Status != StatusError || out.Commands[0].ErrorCode != ErrorCodeHardError {
		t.Fatalf("expected hardError entry, got %+v", out.Commands)
	}
	_, q := decodeResponse[QueryPayload](t, f.do(t, f.token, queryBody("D1")))
	if q.Devices["D1"].Height != nil {
		t.Fatalf("expected height not to be persisted after failed publish")
	}
}

// heightWriteFails stores everything except device heights.
type heightWriteFails struct {
	*store.Repository
}

func (heightWriteFails) SetDeviceHeight(context.Context, uuid.UUID, string, string) error {
	return errors.New("database is read only")
}

func TestExecuteHeightWriteFailure(t *testing.T) {
	f := newFixture(t, "D1")
	f.handler = NewHandler(heightWriteFails{f.repo}, desk.NewDispatcher(f.pub, ""), false)

	_, out := decodeResponse[ExecutePayload](t, f.do(t, f.token, executeBody("preset three", "D1")))
	if len(f.pub.msgs) != 1 || f.pub.msgs[0].topic != "/esp32_iot_desk/D1/command" {
		t.Fatalf("expected the command to be published once, got %+v", f.pub.msgs)
	}
	if len(out.Commands) != 1 || out.Commands[0].Status != StatusError || out.Commands[0].ErrorCode != ErrorCodeHardError {
		t.Fatalf("expected hardError entry, got %+v", out.Commands)
	}
	if out.Commands[0].IDs[0] != "D1" {
		t.Fatalf("expected D1 in the error entry, got %v", out.Commands[0].IDs)
	}
}

func TestExecuteUnknownPresetKeepsLastHeight(t *testing.T) {
	f := newFixture(t, "D1")
	decodeResponse[ExecutePayload](t, f.do(t, f.token, executeBody("preset one", "D1")))

	_, out := decodeResponse[ExecutePayload](t, f.do(t, f.token, executeBody("preset eleven", "D1")))
	if len(f.pub.msgs) != 1 {
		t.Fatalf("expected only the first command to be published, got %+v", f.pub.msgs)
	}
	if len(out.Commands) != 1 || out.Commands[0].Status != StatusSuccess {
		t.Fatalf("expected success entry, got %+v", out.Commands)
	}
	_, q := decodeResponse[QueryPayload](t, f.do(t, f.token, queryBody("D1")))
	if h := q.Devices["D1"].Height; h == nil || *h != "preset one" {
		t.Fatalf("expected height to stay preset one, got %+v", q.Devices["D1"])
	}
}

func TestQueryOmitsForeignAndUnknownDevices(t *testing.T) {
	f := newFixture(t, "D1")
	other, _ := f.repo.CreateUser(context.Background(), "other@example.com", "pw")
	if _, err := f.repo.CreateDevice(context.Background(), other.ID, "X1"); err != nil {
		t.Fatalf("create device: %v", err)
	}

	reqID, q := decodeResponse[QueryPayload](t, f.do(t, f.token, queryBody("D1", "X1", "nope", "D1")))
	if reqID != "r-query" {
		t.Fatalf("expected request id echoed, got %q", reqID)
	}
	if len(q.Devices) != 1 {
		t.Fatalf("expected only D1, got %+v", q.Devices)
	}
	if _, ok := q.Devices["D1"]; !ok {
		t.Fatalf("expected D1 in response")
	}
}

func TestRejectsUnresolvedToken(t *testing.T) {
	f := newFixture(t, "D1")
	for _, token := range []string{"", "unknown"} {
		rec := f.do(t, token, syncBody())
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %d", token, rec.Code)
		}
		var body map[string]string
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if body["error"] != "invalid_token" {
			t.Fatalf("expected invalid_token error, got %v", body)
		}
	}
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)
	cases := map[string]string{
		"invalid json":   `{`,
		"no inputs":      `{"requestId":"r","inputs":[]}`,
		"unknown intent": `{"requestId":"r","inputs":[{"intent":"action.devices.NOPE"}]}`,
		"bad payload":    `{"requestId":"r","inputs":[{"intent":"action.devices.QUERY","payload":{"devices":"D1"}}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if rec := f.do(t, f.token, body); rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestRejectsOversizedBody(t *testing.T) {
	f := newFixture(t, "D1")
	body := `{"requestId":"` + strings.Repeat("r", maxBodyBytes) + `","inputs":[{"intent":"action.devices.SYNC"}]}`
	rec := f.do(t, f.token, body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	var out map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out["error"] != "request_too_large" {
		t.Fatalf("expected request_too_large error, got %v", out)
	}
}

func TestDisconnectRevokesTokens(t *testing.T) {
	f := newFixture(t, "D1")
	rec := f.do(t, f.token, `{"requestId":"r","inputs":[{"intent":"action.devices.DISCONNECT"}]}`)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Fatalf("expected empty object, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, f.token, syncBody()); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected token to be revoked, got %d", rec.Code)
	}
}
