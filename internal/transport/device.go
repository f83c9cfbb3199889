package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
)

const (
	DefaultDeviceTimeout = 6 * time.Second

	statePath = "/state"
	dataPath  = "/data"
)

// DeviceClient reads and commands the fan controller over HTTP.
type DeviceClient struct {
	client  *Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewDeviceClient(client *Client, timeout time.Duration, logger *slog.Logger) *DeviceClient {
	if timeout <= 0 {
		timeout = DefaultDeviceTimeout
	}
	return &DeviceClient{
		client:  client,
		timeout: timeout,
		logger:  logger.With("component", "device_client"),
	}
}

// GetState reads /state, falling back to the read-only /data endpoint.
func (d *DeviceClient) GetState(ctx context.Context, baseURL string) (model.DeviceState, error) {
	state, err := d.read(ctx, baseURL, statePath)
	if err == nil {
		return state, nil
	}
	if ctx.Err() != nil {
		return model.DeviceState{}, err
	}
	d.logger.Warn("device state read failed; falling back to data endpoint", "error", err)
	return d.read(ctx, baseURL, dataPath)
}

func (d *DeviceClient) read(ctx context.Context, baseURL, path string) (model.DeviceState, error) {
	var state model.DeviceState
	_, err := d.client.Do(ctx, model.SubsystemDevice, Request{
		URL:     joinURL(baseURL, path),
		Timeout: d.timeout,
		Decode: func(body []byte) error {
			s, err := decodeDeviceState(body)
			if err != nil {
				return err
			}
			state = s
			return nil
		},
	})
	if err != nil {
		return model.DeviceState{}, err
	}
	state.Endpoint = path
	state.ReadAt = time.Now()
	return state, nil
}

// SendCommand issues path (for example "/toggle" or "/set?speed=60").
// Firmware that acks with JSON state is taken at its word; a plain-text
// ack is followed by a fresh state read. The command itself is never
// re-sent because of an unparseable ack since /toggle is not idempotent.
func (d *DeviceClient) SendCommand(ctx context.Context, baseURL, path string) (model.DeviceState, error) {
	body, err := d.client.Do(ctx, model.SubsystemDevice, Request{
		URL:     joinURL(baseURL, path),
		Timeout: d.timeout,
	})
	if err != nil {
		return model.DeviceState{}, err
	}

	if state, decodeErr := decodeDeviceState(body); decodeErr == nil {
		state.Endpoint = path
		state.ReadAt = time.Now()
		return state, nil
	}

	d.logger.Debug("device acked command as text; re-reading state",
		"path", path,
		"ack", truncate(strings.TrimSpace(string(body)), 64),
	)
	return d.GetState(ctx, baseURL)
}

// SetDutyPath builds the /set command for duty.
func SetDutyPath(duty int) string {
	return fmt.Sprintf("/set?speed=%d", model.ClampDuty(duty))
}

const TogglePath = "/toggle"

type deviceStateWire struct {
	Temp     *float64  `json:"temp"`
	Humidity *float64  `json:"humidity"`
	DSTemp   *float64  `json:"ds_temp"`
	SHTOK    *flexBool `json:"sht_ok"`
	Auto     *flexBool `json:"auto"`
	RPM      *float64  `json:"rpm"`
	Speed    *float64  `json:"speed"`
	CmdSeq   *float64  `json:"cmd_seq"`
	LastCmd  string    `json:"last_cmd"`
	CmdAgeMS *float64  `json:"cmd_age_ms"`
}

func decodeDeviceState(body []byte) (model.DeviceState, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return model.DeviceState{}, fmt.Errorf("device reply is not a JSON object")
	}
	var w deviceStateWire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return model.DeviceState{}, err
	}
	if w.Speed == nil && w.RPM == nil {
		return model.DeviceState{}, fmt.Errorf("device reply has neither speed nor rpm")
	}

	state := model.DeviceState{
		Duty:      model.ClampDuty(roundOr(w.Speed, 0)),
		RPM:       max(0, roundOr(w.RPM, 0)),
		RoomTemp:  finite(w.Temp),
		Humidity:  finite(w.Humidity),
		ProbeTemp: finite(w.DSTemp),
		LastCmd:   w.LastCmd,
		CmdSeq:    int64(roundOr(w.CmdSeq, 0)),
		CmdAge:    time.Duration(roundOr(w.CmdAgeMS, 0)) * time.Millisecond,
	}
	if w.SHTOK != nil {
		state.SensorOK = bool(*w.SHTOK)
	}
	if w.Auto != nil {
		state.Auto = bool(*w.Auto)
	}
	return state, nil
}

func roundOr(v *float64, def int) int {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return def
	}
	return int(math.Round(*v))
}

func finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	out := *v
	return &out
}

// flexBool accepts true/false, 0/1 and their string forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.ToLower(strings.Trim(string(data), `"`)) {
	case "true", "1", "on", "yes":
		*b = true
	case "false", "0", "off", "no", "null", "":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
