package api

import (
	"net/http"
	"testing"

	"github.com/nerrad567/iot-bridge/internal/alert"
)

func TestAlertLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "D1", "Feeder")
	env.register(t, "D2", "Pump")

	var ids []string
	for _, body := range []map[string]any{
		{"device_id": "D1", "sensor_type": "temperature", "type": "threshold", "message": "above 30"},
		{"device_id": "D2", "type": "offline", "message": "no telemetry for 10m"},
	} {
		resp, data := env.do(t, http.MethodPost, "/api/v1/alerts", body)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create status = %d: %s", resp.StatusCode, data)
		}
		var a alert.Alert
		decode(t, data, &a)
		ids = append(ids, a.ID)
	}

	resp, body := env.do(t, http.MethodGet, "/api/v1/alerts?device_id=D1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list alert.ListResult
	decode(t, body, &list)
	if list.Total != 1 || list.Alerts[0].SensorType != "temperature" {
		t.Errorf("alerts = %+v", list)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/alerts/"+ids[1], nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d: %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/alerts/"+ids[0], nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	if resp, _ := env.do(t, http.MethodDelete, "/api/v1/alerts/"+ids[0], nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/alerts", nil)
	decode(t, body, &list)
	if resp.StatusCode != http.StatusOK || list.Total != 1 {
		t.Errorf("remaining alerts = %d, %+v", resp.StatusCode, list)
	}
}

func TestCreateAlertRejected(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "D1", "Feeder")

	tests := []struct {
		name string
		body any
		want int
	}{
		{"unknown device", map[string]any{"device_id": "nope", "type": "offline", "message": "gone"}, http.StatusNotFound},
		{"missing type", map[string]any{"device_id": "D1", "message": "gone"}, http.StatusBadRequest},
		{"missing message", map[string]any{"device_id": "D1", "type": "offline"}, http.StatusBadRequest},
		{"not json", "alert", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/v1/alerts", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tt.want, body)
			}
		})
	}
}

func TestAlertsWithoutRepository(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Alerts = nil })

	resp, _ := env.do(t, http.MethodGet, "/api/v1/alerts", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
