package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/iot-bridge/internal/audit"
	"github.com/nerrad567/iot-bridge/internal/device"
)

// scheduleBody mirrors scheduleResponse for decoding.
type scheduleBody struct {
	ID       string         `json:"id"`
	DeviceID string         `json:"device_id"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params"`
	Cron     string         `json:"cron"`
	Active   bool           `json:"active"`
	NextRun  *string        `json:"next_run"`
}

func TestScheduleLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "D1", "Feeder")

	resp, body := env.do(t, http.MethodPost, "/api/v1/schedules", map[string]any{
		"device_id": "D1",
		"action":    "feed",
		"params":    map[string]any{"portion": 2},
		"cron":      "0 8 * * *",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	var created scheduleBody
	decode(t, body, &created)
	if created.ID == "" || !created.Active || created.Cron != "0 8 * * *" {
		t.Errorf("created = %+v", created)
	}
	if created.NextRun == nil {
		t.Error("active schedule should report next_run")
	}
	if env.runner.Len() != 1 {
		t.Errorf("runner has %d schedules, want 1", env.runner.Len())
	}

	waitFor(t, "schedule history", func() bool {
		res, err := env.history.List(context.Background(), audit.Filter{EventType: audit.EventScheduleCreated})
		return err == nil && res.Total == 1 && res.Entries[0].RelatedID == created.ID
	})

	resp, body = env.do(t, http.MethodGet, "/api/v1/schedules/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d: %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPut, "/api/v1/schedules/"+created.ID, map[string]any{"active": false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d: %s", resp.StatusCode, body)
	}
	var updated scheduleBody
	decode(t, body, &updated)
	if updated.Active || updated.Action != "feed" || updated.Params["portion"] != float64(2) {
		t.Errorf("updated = %+v", updated)
	}
	if updated.NextRun != nil {
		t.Error("paused schedule should not report next_run")
	}
	if env.runner.Len() != 0 {
		t.Errorf("runner has %d schedules after pause, want 0", env.runner.Len())
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/schedules?device_id=D1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list struct {
		Schedules []scheduleBody `json:"schedules"`
		Count     int            `json:"count"`
	}
	decode(t, body, &list)
	if list.Count != 1 {
		t.Errorf("count = %d, want 1", list.Count)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/schedules?active=true", nil)
	decode(t, body, &list)
	if resp.StatusCode != http.StatusOK || list.Count != 0 {
		t.Errorf("active list = %d, %+v", resp.StatusCode, list)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/schedules/"+created.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	if resp, _ := env.do(t, http.MethodGet, "/api/v1/schedules/"+created.ID, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestCreateScheduleRejected(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "D1", "Feeder")

	tests := []struct {
		name string
		body any
		want int
	}{
		{"unknown device", map[string]any{"device_id": "nope", "action": "feed", "cron": "@hourly"}, http.StatusNotFound},
		{"bad cron", map[string]any{"device_id": "D1", "action": "feed", "cron": "sometimes"}, http.StatusBadRequest},
		{"missing cron", map[string]any{"device_id": "D1", "action": "feed"}, http.StatusBadRequest},
		{"missing action", map[string]any{"device_id": "D1", "cron": "@hourly"}, http.StatusBadRequest},
		{"not json", "feed", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/v1/schedules", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tt.want, body)
			}
		})
	}
	if env.runner.Len() != 0 {
		t.Errorf("runner has %d schedules, want 0", env.runner.Len())
	}
}

func TestUpdateScheduleRejected(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "D1", "Feeder")

	resp, body := env.do(t, http.MethodPost, "/api/v1/schedules", map[string]any{
		"device_id": "D1", "action": "feed", "cron": "@hourly",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	var created scheduleBody
	decode(t, body, &created)

	resp, _ = env.do(t, http.MethodPut, "/api/v1/schedules/"+created.ID, map[string]any{"cron": "61 * * * *"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad cron status = %d, want 400", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPut, "/api/v1/schedules/nope", map[string]any{"active": false})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", resp.StatusCode)
	}
}

func TestScheduleFiresCommand(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "D1", "Feeder")

	resp, body := env.do(t, http.MethodPost, "/api/v1/schedules", map[string]any{
		"device_id": "D1",
		"action":    "feed",
		"params":    map[string]any{"portion": 1},
		"cron":      "@every 1s",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}

	waitForWithin(t, "scheduled publish", 5*time.Second, func() bool { return len(env.bridge.commands()) > 0 })

	published := env.bridge.commands()[0]
	if published.DeviceID != "D1" || published.Payload["action"] != "feed" || published.Payload["portion"] != float64(1) {
		t.Errorf("published = %+v", published)
	}

	waitFor(t, "scheduled command stored", func() bool {
		commands, err := env.commands.ListByDevice(context.Background(), "D1")
		return err == nil && len(commands) > 0 && commands[0].Status == device.CommandPending
	})
	waitFor(t, "scheduled command history", func() bool {
		res, err := env.history.List(context.Background(), audit.Filter{EventType: audit.EventCommandCreated})
		return err == nil && res.Total > 0
	})
}

func TestSchedulesWithoutRepository(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Schedules = nil })

	resp, _ := env.do(t, http.MethodGet, "/api/v1/schedules", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
