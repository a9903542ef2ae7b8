// Package device provides the reading store: registered devices, their
// latest sensor readings and the commands sent to them.
//
// # Key Types
//
//   - Device: a registered telemetry source with an online/offline Status
//   - Reading: the latest value of one sensor type on one device
//   - Value: a numeric or text sensor value, classified by ParseValue
//   - Command: an outbound instruction recorded before publishing
//
// # Storage
//
// SQLRepository runs on SQLite or PostgreSQL (see the database package).
// It serves two kinds of caller:
//
//   - Collaborators (HTTP API) use the Repository and CommandRepository
//     interfaces for CRUD and queries.
//   - Ingestion uses TelemetryStore.WithinTx so that the device status change
//     and all of a message's reading upserts commit atomically.
//
//	repo := device.NewSQLRepository(db.DB, db.Driver())
//	err := repo.WithinTx(ctx, func(tx device.TelemetryTx) error {
//	    if _, err := tx.GetDevice(ctx, "D1"); err != nil {
//	        return err
//	    }
//	    if err := tx.SetDeviceOnline(ctx, "D1", now); err != nil {
//	        return err
//	    }
//	    return tx.UpsertReading(ctx, "D1", "temp", device.NumberValue(21.5), nil, now)
//	})
//
// Readers never observe a device marked online without the readings that
// accompanied it, or the reverse.
package device
