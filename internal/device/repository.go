package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for device persistence operations.
// Devices are keyed by (daemon id, device port).
type Repository interface {
	// Upsert inserts a device or updates every column except first_seen.
	Upsert(ctx context.Context, d *Device) error

	// Get returns one device. Returns ErrDeviceNotFound if it does not exist.
	Get(ctx context.Context, id string, port int) (*Device, error)

	// List returns every stored device, oldest first.
	List(ctx context.Context) ([]Device, error)

	// SetOnline updates the online flag and last_seen.
	// Returns ErrDeviceNotFound if the device does not exist.
	SetOnline(ctx context.Context, id string, port int, online bool, at time.Time) error

	// MarkAllOffline clears the online flag on every row and returns
	// how many changed.
	MarkAllOffline(ctx context.Context) (int64, error)

	// Delete removes a device. Returns ErrDeviceNotFound if it does not exist.
	Delete(ctx context.Context, id string, port int) error
}

// SQLiteRepository implements Repository using SQLite.
//
// Timestamps are stored as RFC 3339 text in UTC and the online flag as
// 0 or 1, so the table stays readable from the sqlite3 shell.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a new SQLite-backed repository.
// The devices table must already exist (see the migrations package).
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// deviceColumns lists the devices columns in scanDevice order.
const deviceColumns = `id, device_port, kind, model, encoders, size_x, size_y,
	prefix, rotation, first_seen, last_seen, online`

// Upsert inserts d, or refreshes an existing row while keeping its first_seen.
//
// d is validated first. Zero FirstSeen and LastSeen are set to now on d
// itself, so the caller sees the stored values.
func (r *SQLiteRepository) Upsert(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}

	now := time.Now().UTC()
	if d.FirstSeen.IsZero() {
		d.FirstSeen = now
	}
	if d.LastSeen.IsZero() {
		d.LastSeen = now
	}

	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, device_port) DO UPDATE SET
			kind      = excluded.kind,
			model     = excluded.model,
			encoders  = excluded.encoders,
			size_x    = excluded.size_x,
			size_y    = excluded.size_y,
			prefix    = excluded.prefix,
			rotation  = excluded.rotation,
			last_seen = excluded.last_seen,
			online    = excluded.online`

	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.DevicePort,
		d.Kind,
		d.Model,
		d.Encoders,
		d.SizeX,
		d.SizeY,
		d.Prefix,
		d.Rotation,
		formatTime(d.FirstSeen),
		formatTime(d.LastSeen),
		boolToInt(d.Online),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// Get returns the device stored under (id, port).
// Returns ErrDeviceNotFound if there is none.
func (r *SQLiteRepository) Get(ctx context.Context, id string, port int) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ? AND device_port = ?`

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, id, port))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// List returns every device ordered by first_seen, then id and port.
// An empty table gives a nil slice and no error.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY first_seen, id, device_port`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// SetOnline records a connect or disconnect.
func (r *SQLiteRepository) SetOnline(ctx context.Context, id string, port int, online bool, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET online = ?, last_seen = ? WHERE id = ? AND device_port = ?`,
		boolToInt(online), formatTime(at), id, port,
	)
	if err != nil {
		return fmt.Errorf("updating device online state: %w", err)
	}
	return requireRow(result)
}

// MarkAllOffline is run at startup: nothing is online until the daemon
// announces it again.
func (r *SQLiteRepository) MarkAllOffline(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE devices SET online = 0 WHERE online != 0`)
	if err != nil {
		return 0, fmt.Errorf("marking devices offline: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Delete removes the device stored under (id, port).
func (r *SQLiteRepository) Delete(ctx context.Context, id string, port int) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM devices WHERE id = ? AND device_port = ?`, id, port)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice reads one row selected with deviceColumns.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var firstSeen, lastSeen string
	var online int

	err := scanner.Scan(
		&d.ID,
		&d.DevicePort,
		&d.Kind,
		&d.Model,
		&d.Encoders,
		&d.SizeX,
		&d.SizeY,
		&d.Prefix,
		&d.Rotation,
		&firstSeen,
		&lastSeen,
		&online,
	)
	if err != nil {
		return nil, err
	}

	if d.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
		return nil, fmt.Errorf("parsing first_seen: %w", err)
	}
	if d.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	d.Online = online != 0

	return &d, nil
}

// requireRow turns an update that matched nothing into ErrDeviceNotFound.
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
