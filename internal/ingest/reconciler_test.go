package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/iot-bridge/internal/device"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/database"
)

func newTestReconciler(t *testing.T) (*Reconciler, *device.SQLRepository, *Queue) {
	t.Helper()
	repo := newTestStore(t)
	q := NewQueue(0, OverflowBlock)
	r := NewReconciler(repo, q)
	r.SetClock(func() time.Time { return fixedNow })
	return r, repo, q
}

func popNow(t *testing.T, q *Queue) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := q.Pop(ctx)
	require.NoError(t, err)
	return got
}

func TestReconcile_StoresReadingsAndMarksOnline(t *testing.T) {
	r, repo, q := newTestReconciler(t)
	registerDevice(t, repo, "D1")
	ctx := context.Background()

	out, err := r.Reconcile(ctx, "D1", map[string]any{
		"temperature": json.Number("22.5"),
		"humidity":    "58%",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"humidity", "temperature"}, out.Applied)
	assert.Empty(t, out.Rejected)

	d, err := repo.GetByID(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, device.StatusOnline, d.Status)
	assert.True(t, d.UpdatedAt.Equal(fixedNow))

	assert.Equal(t, 22.5, readingValue(t, repo, "D1", "temperature"))
	assert.Equal(t, "58%", readingValue(t, repo, "D1", "humidity"))

	reading, err := repo.GetReading(ctx, "D1", "temperature")
	require.NoError(t, err)
	assert.True(t, reading.Timestamp.Equal(fixedNow))

	got := popNow(t, q)
	assert.Equal(t, "D1", got.DeviceID)
	assert.Equal(t, fixedNow, got.Timestamp)
	assert.Equal(t, "58%", got.Data["humidity"])
}

func TestReconcile_UpdateKeepsOtherReadings(t *testing.T) {
	r, repo, _ := newTestReconciler(t)
	registerDevice(t, repo, "D1")
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "D1", map[string]any{"temperature": 22.5, "humidity": "58%"})
	require.NoError(t, err)
	_, err = r.ReconcileAt(ctx, "D1", map[string]any{"temperature": 23.1}, fixedNow.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 23.1, readingValue(t, repo, "D1", "temperature"))
	assert.Equal(t, "58%", readingValue(t, repo, "D1", "humidity"))

	readings, err := repo.ListReadings(ctx, "D1")
	require.NoError(t, err)
	assert.Len(t, readings, 2, "upsert must not duplicate (device, type)")
}

func TestReconcile_RedeliveryIsIdempotent(t *testing.T) {
	r, repo, q := newTestReconciler(t)
	registerDevice(t, repo, "D1")
	ctx := context.Background()
	fields := map[string]any{"temperature": 22.5, "door": "open"}

	_, err := r.Reconcile(ctx, "D1", fields)
	require.NoError(t, err)
	first, err := repo.ListReadings(ctx, "D1")
	require.NoError(t, err)

	_, err = r.Reconcile(ctx, "D1", fields)
	require.NoError(t, err)
	second, err := repo.ListReadings(ctx, "D1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, q.Len(), "each delivery is broadcast")
}

func TestReconcile_UnknownDevice(t *testing.T) {
	r, repo, q := newTestReconciler(t)
	ctx := context.Background()

	out, err := r.Reconcile(ctx, "D9", map[string]any{"temperature": 20.0})
	assert.ErrorIs(t, err, ErrDeviceUnknown)
	assert.Nil(t, out)
	assert.Equal(t, 0, q.Len())

	readings, err := repo.ListAllReadings(ctx)
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestReconcile_FieldsAreIndependent(t *testing.T) {
	r, repo, q := newTestReconciler(t)
	registerDevice(t, repo, "D1")

	out, err := r.Reconcile(context.Background(), "D1", map[string]any{
		"temperature": 21.0,
		"door_open":   true,
		"broken":      nil,
		"config":      map[string]any{"mode": "eco"},
		"":            1.0,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"config", "door_open", "temperature"}, out.Applied)
	require.Len(t, out.Rejected, 2)
	assert.Equal(t, "", out.Rejected[0].Field)
	assert.ErrorIs(t, out.Rejected[0], device.ErrInvalidSensorType)
	assert.Equal(t, "broken", out.Rejected[1].Field)
	assert.ErrorIs(t, out.Rejected[1], device.ErrInvalidValue)

	assert.Equal(t, 1.0, readingValue(t, repo, "D1", "door_open"))
	assert.Equal(t, `{"mode":"eco"}`, readingValue(t, repo, "D1", "config"))

	// The broadcast carries the message as received.
	got := popNow(t, q)
	assert.Contains(t, got.Data, "broken")
}

func TestReconcile_EmptyMessageMarksOnline(t *testing.T) {
	r, repo, q := newTestReconciler(t)
	registerDevice(t, repo, "D1")
	ctx := context.Background()

	out, err := r.Reconcile(ctx, "D1", map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, out.Applied)

	d, err := repo.GetByID(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, device.StatusOnline, d.Status)

	got := popNow(t, q)
	assert.NotNil(t, got.Data)
	assert.Empty(t, got.Data)
}

func TestReconcile_EventIsolatedFromCaller(t *testing.T) {
	r, repo, q := newTestReconciler(t)
	registerDevice(t, repo, "D1")

	fields := map[string]any{"temperature": 20.0}
	_, err := r.Reconcile(context.Background(), "D1", fields)
	require.NoError(t, err)

	fields["temperature"] = 99.0
	fields["injected"] = "x"

	got := popNow(t, q)
	assert.Equal(t, 20.0, got.Data["temperature"])
	assert.NotContains(t, got.Data, "injected")
}

func TestReconcile_QueueClosedAfterCommit(t *testing.T) {
	r, repo, q := newTestReconciler(t)
	registerDevice(t, repo, "D1")
	q.Close()

	out, err := r.Reconcile(context.Background(), "D1", map[string]any{"temperature": 20.0})
	assert.ErrorIs(t, err, ErrQueueClosed)
	require.NotNil(t, out)

	// The store committed regardless.
	assert.Equal(t, 20.0, readingValue(t, repo, "D1", "temperature"))
}

type recordingSink struct {
	mu     sync.Mutex
	writes map[string]float64
}

func (s *recordingSink) WriteReading(deviceID, sensorType string, value float64, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writes == nil {
		s.writes = map[string]float64{}
	}
	s.writes[deviceID+"/"+sensorType] = value
}

func TestReconcile_MirrorsNumericReadings(t *testing.T) {
	r, repo, _ := newTestReconciler(t)
	registerDevice(t, repo, "D1")
	sink := &recordingSink{}
	r.SetSink(sink)

	_, err := r.Reconcile(context.Background(), "D1", map[string]any{
		"temperature": 21.5,
		"mode":        "auto",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"D1/temperature": 21.5}, sink.writes)
}

func TestReconcile_NoSinkWriteForUnknownDevice(t *testing.T) {
	r, _, _ := newTestReconciler(t)
	sink := &recordingSink{}
	r.SetSink(sink)

	_, err := r.Reconcile(context.Background(), "D9", map[string]any{"temperature": 21.5})
	require.Error(t, err)
	assert.Empty(t, sink.writes)
}

// newMockReconciler builds a reconciler over sqlmock to inject store failures.
func newMockReconciler(t *testing.T) (*Reconciler, sqlmock.Sqlmock, *Queue) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	q := NewQueue(0, OverflowBlock)
	r := NewReconciler(device.NewSQLRepository(db, database.DriverSQLite), q)
	r.SetClock(func() time.Time { return fixedNow })
	return r, mock, q
}

func expectDeviceLookup(mock sqlmock.Sqlmock, id string) {
	ts := fixedNow.Format(time.RFC3339Nano)
	mock.ExpectQuery(`SELECT (.+) FROM devices WHERE id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "type", "status", "created_at", "updated_at"}).
			AddRow(id, "Feeder", "feeder", "offline", ts, ts))
}

func TestReconcile_UpsertFailureRollsBack(t *testing.T) {
	r, mock, q := newMockReconciler(t)

	mock.ExpectBegin()
	expectDeviceLookup(mock, "D1")
	mock.ExpectExec(`UPDATE devices SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO sensor_readings`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO sensor_readings`).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := r.Reconcile(context.Background(), "D1", map[string]any{"a": 1.0, "b": 2.0})
	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, 0, q.Len(), "no broadcast on store failure")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_CommitFailure(t *testing.T) {
	r, mock, q := newMockReconciler(t)

	mock.ExpectBegin()
	expectDeviceLookup(mock, "D1")
	mock.ExpectExec(`UPDATE devices SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO sensor_readings`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	_, err := r.Reconcile(context.Background(), "D1", map[string]any{"temperature": 20.0})
	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, 0, q.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_BeginFailure(t *testing.T) {
	r, mock, q := newMockReconciler(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := r.Reconcile(context.Background(), "D1", map[string]any{"temperature": 20.0})
	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, 0, q.Len())
}

func TestHandleTelemetry_CountsOutcomes(t *testing.T) {
	r, repo, q := newTestReconciler(t)
	registerDevice(t, repo, "D1")
	metrics := newRecordingMetrics()
	r.SetMetrics(metrics)
	ctx := context.Background()

	r.HandleTelemetry(ctx, "D1", map[string]any{"temperature": 20.0, "bad": nil})
	r.HandleTelemetry(ctx, "D9", map[string]any{"temperature": 20.0})

	assert.Equal(t, 1, metrics.reconciled)
	assert.Equal(t, 1, metrics.rejected)
	assert.Equal(t, 1, metrics.droppedFor(DropUnknownDevice))
	assert.Equal(t, 1, q.Len())
}

func TestHandleTelemetry_StoreErrorIsCounted(t *testing.T) {
	r, mock, q := newMockReconciler(t)
	metrics := newRecordingMetrics()
	r.SetMetrics(metrics)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	r.HandleTelemetry(context.Background(), "D1", map[string]any{"temperature": 20.0})

	assert.Equal(t, 1, metrics.droppedFor(DropStoreError))
	assert.Equal(t, 0, q.Len())
}
