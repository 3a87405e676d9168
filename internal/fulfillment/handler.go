// Package fulfillment answers the smart home webhook: device discovery,
// state queries, command execution and account unlinking.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bloveless/esp32-iot-desk/internal/oauth"
	"github.com/bloveless/esp32-iot-desk/internal/observability"
	"github.com/bloveless/esp32-iot-desk/internal/store"
)

var (
	ErrUnknownIntent = errors.New("unknown intent")
	ErrNoInputs      = errors.New("request has no inputs")
	ErrBadPayload    = errors.New("malformed intent payload")
)

// Repository is the persistence the handler needs.
type Repository interface {
	GetUserByAccessToken(ctx context.Context, token string) (*store.User, error)
	ListDevicesByUser(ctx context.Context, userID uuid.UUID) ([]store.Device, error)
	ListDevicesByUserAndIDs(ctx context.Context, userID uuid.UUID, ids []string) ([]store.Device, error)
	SetDeviceHeight(ctx context.Context, userID uuid.UUID, deviceID, height string) error
	RevokeTokensForUser(ctx context.Context, userID string) (int64, error)
}

// Dispatcher sends a preset to a desk. It reports false for unknown presets.
type Dispatcher interface {
	Dispatch(ctx context.Context, preset, deviceID string) (bool, error)
}

type Handler struct {
	repo  Repository
	desk  Dispatcher
	debug bool
}

// NewHandler builds the webhook handler. With debug set, request and
// response bodies are logged at debug level.
func NewHandler(repo Repository, d Dispatcher, debug bool) *Handler {
	return &Handler{repo: repo, desk: d, debug: debug}
}

// maxBodyBytes caps webhook request bodies.
const maxBodyBytes = 1 << 20

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body exceeds 1 MiB")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}
	if len(req.Inputs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", ErrNoInputs.Error())
		return
	}
	intent := req.Inputs[0].Intent

	ctx, span := observability.Tracer().Start(r.Context(), "fulfillment "+intent)
	defer span.End()
	span.SetAttributes(attribute.String("fulfillment.intent", intent), attribute.String("fulfillment.request_id", req.RequestID))
	if h.debug {
		slog.DebugContext(ctx, "fulfillment request", "request_id", req.RequestID, "intent", intent, "inputs", len(req.Inputs))
	}

	user, err := h.repo.GetUserByAccessToken(ctx, oauth.RequestToken(r))
	if err != nil {
		slog.ErrorContext(ctx, "identity lookup failed", "error", err)
		observability.IntentCounter.WithLabelValues(intent, "error").Inc()
		writeError(w, http.StatusInternalServerError, "server_error", "identity lookup failed")
		return
	}
	if user == nil {
		observability.IntentCounter.WithLabelValues(intent, "unauthorized").Inc()
		writeError(w, http.StatusUnauthorized, "invalid_token", "access token does not resolve to a user")
		return
	}

	resp, err := h.handle(ctx, user, req)
	if errors.Is(err, ErrUnknownIntent) || errors.Is(err, ErrBadPayload) {
		observability.IntentCounter.WithLabelValues(intent, "unknown").Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "fulfillment failed", "intent", intent, "user_id", user.ID, "error", err)
		observability.IntentCounter.WithLabelValues(intent, "error").Inc()
		writeError(w, http.StatusInternalServerError, "server_error", "fulfillment failed")
		return
	}
	observability.IntentCounter.WithLabelValues(intent, "ok").Inc()
	if h.debug {
		slog.DebugContext(ctx, "fulfillment response", "request_id", req.RequestID, "payload", resp)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handle(ctx context.Context, user *store.User, req Request) (any, error) {
	switch intent := req.Inputs[0].Intent; intent {
	case IntentSync:
		return h.sync(ctx, user, req)
	case IntentQuery:
		return h.query(ctx, user, req)
	case IntentExecute:
		return h.execute(ctx, user, req)
	case IntentDisconnect:
		return h.disconnect(ctx, user)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, intent)
	}
}

func (h *Handler) sync(ctx context.Context, user *store.User, req Request) (*Response, error) {
	devices, err := h.repo.ListDevicesByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	descriptors := make([]DeviceDescriptor, 0, len(devices))
	for _, d := range devices {
		descriptors = append(descriptors, describeDevice(d.ID))
	}
	return &Response{
		RequestID: req.RequestID,
		Payload:   SyncPayload{AgentUserID: user.ID.String(), Devices: descriptors},
	}, nil
}

func (h *Handler) query(ctx context.Context, user *store.User, req Request) (*Response, error) {
	var ids []string
	for _, in := range req.Inputs {
		var p QueryRequestPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return nil, err
		}
		for _, d := range p.Devices {
			ids = append(ids, d.ID)
		}
	}
	devices, err := h.repo.ListDevicesByUserAndIDs(ctx, user.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	states := make(map[string]DeviceState, len(devices))
	for _, d := range devices {
		states[d.ID] = DeviceState{Height: d.CurrentHeight}
	}
	return &Response{RequestID: req.RequestID, Payload: QueryPayload{Devices: states}}, nil
}

// execute applies every SetModes height change to the caller's devices.
// Each command group yields a SUCCESS entry for the devices that took the
// change. Devices the caller does not own and devices whose publish or
// update failed are reported in separate ERROR entries.
func (h *Handler) execute(ctx context.Context, user *store.User, req Request) (*Response, error) {
	results := []CommandResult{}
	for _, in := range req.Inputs {
		var p ExecuteRequestPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return nil, err
		}
		for _, cmd := range p.Commands {
			res, err := h.executeCommand(ctx, user, cmd)
			if err != nil {
				return nil, err
			}
			results = append(results, res...)
		}
	}
	return &Response{RequestID: req.RequestID, Payload: ExecutePayload{Commands: results}}, nil
}

func (h *Handler) executeCommand(ctx context.Context, user *store.User, cmd Command) ([]CommandResult, error) {
	ids := make([]string, 0, len(cmd.Devices))
	for _, d := range cmd.Devices {
		ids = append(ids, d.ID)
	}
	owned, err := h.repo.ListDevicesByUserAndIDs(ctx, user.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	isOwned := make(map[string]bool, len(owned))
	for _, d := range owned {
		isOwned[d.ID] = true
	}

	var okIDs, failedIDs, missingIDs []string
	states := map[string]string{}
	failed := map[string]bool{}
	for _, id := range ids {
		if !isOwned[id] {
			missingIDs = append(missingIDs, id)
		}
	}
	for _, ex := range cmd.Execution {
		height, ok := ex.requestedHeight()
		if !ok {
			continue
		}
		states[heightMode] = height
		for _, id := range ids {
			if !isOwned[id] || failed[id] {
				continue
			}
			if err := h.apply(ctx, user, id, height); err != nil {
				slog.ErrorContext(ctx, "desk command failed", "device_id", id, "user_id", user.ID, "error", err)
				failed[id] = true
			}
		}
	}
	for _, id := range ids {
		switch {
		case !isOwned[id]:
		case failed[id]:
			failedIDs = append(failedIDs, id)
		default:
			okIDs = append(okIDs, id)
		}
	}

	var out []CommandResult
	if len(okIDs) > 0 || (len(failedIDs) == 0 && len(missingIDs) == 0) {
		if okIDs == nil {
			okIDs = []string{}
		}
		out = append(out, CommandResult{IDs: okIDs, Status: StatusSuccess, States: states})
	}
	if len(failedIDs) > 0 {
		out = append(out, CommandResult{IDs: failedIDs, Status: StatusError, ErrorCode: ErrorCodeHardError})
	}
	if len(missingIDs) > 0 {
		out = append(out, CommandResult{IDs: missingIDs, Status: StatusError, ErrorCode: ErrorCodeDeviceNotFound})
	}
	return out, nil
}

// apply publishes and then records a height. Unknown presets are a no-op.
func (h *Handler) apply(ctx context.Context, user *store.User, deviceID, height string) error {
	sent, err := h.desk.Dispatch(ctx, height, deviceID)
	if err != nil {
		return err
	}
	if !sent {
		return nil
	}
	if err := h.repo.SetDeviceHeight(ctx, user.ID, deviceID, height); err != nil {
		return fmt.Errorf("set device height: %w", err)
	}
	return nil
}

// disconnect unlinks the account by revoking every token the user holds.
func (h *Handler) disconnect(ctx context.Context, user *store.User) (any, error) {
	n, err := h.repo.RevokeTokensForUser(ctx, user.ID.String())
	if err != nil {
		return nil, fmt.Errorf("revoke tokens: %w", err)
	}
	slog.InfoContext(ctx, "account unlinked", "user_id", user.ID, "revoked", n)
	return struct{}{}, nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"error": code, "error_description": msg})
}
