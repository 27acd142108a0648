package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByNode retrieves the device bound to a protocol node id.
	// Returns ErrDeviceNotFound if no device is bound.
	GetByNode(ctx context.Context, protocol Protocol, node matter.NodeID) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the ID or (protocol, node) pair is taken.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateState merges state into the device's existing state.
	UpdateState(ctx context.Context, id string, state State) error

	// UpdateHealth updates the health status and last seen timestamp.
	UpdateHealth(ctx context.Context, id string, status HealthStatus, lastSeen time.Time) error

	// UpdateMetadata replaces the discovery metadata column.
	UpdateMetadata(ctx context.Context, id string, metadata json.RawMessage) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
		SELECT id, name, protocol, node_id, driver, vendor_name, product_name,
		       serial_number, firmware_version, device_types, metadata, state,
		       state_updated_at, health_status, health_last_seen, created_at, updated_at
		FROM devices`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	d, err := scanDeviceRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// GetByNode retrieves the device bound to (protocol, node).
func (r *SQLiteRepository) GetByNode(ctx context.Context, protocol Protocol, node matter.NodeID) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE protocol = ? AND node_id = ?`,
		string(protocol), int64(node)) //nolint:gosec // node ids round-trip through int64
	d, err := scanDeviceRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device by node: %w", err)
	}
	return d, nil
}

// List retrieves all devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDeviceRow(rows)
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

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	typesJSON, stateJSON, err := marshalColumns(device)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, name, protocol, node_id, driver, vendor_name, product_name,
			serial_number, firmware_version, device_types, metadata, state,
			state_updated_at, health_status, health_last_seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		string(device.Protocol),
		int64(device.NodeID), //nolint:gosec // node ids round-trip through int64
		device.Driver,
		device.VendorName,
		device.ProductName,
		device.SerialNumber,
		device.FirmwareVersion,
		string(typesJSON),
		nullableBytes(device.Metadata),
		string(stateJSON),
		nullableTime(device.StateUpdatedAt),
		string(device.HealthStatus),
		nullableTime(device.HealthLastSeen),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device. State and health are left to
// UpdateState and UpdateHealth.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	typesJSON, _, err := marshalColumns(device)
	if err != nil {
		return err
	}

	device.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE devices
		SET name = ?, protocol = ?, node_id = ?, driver = ?, vendor_name = ?,
		    product_name = ?, serial_number = ?, firmware_version = ?,
		    device_types = ?, metadata = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.Name,
		string(device.Protocol),
		int64(device.NodeID), //nolint:gosec // node ids round-trip through int64
		device.Driver,
		device.VendorName,
		device.ProductName,
		device.SerialNumber,
		device.FirmwareVersion,
		string(typesJSON),
		nullableBytes(device.Metadata),
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("updating device: %w", err)
	}
	return requireRow(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result)
}

// UpdateState merges the given state fields into the device's existing state.
// This allows partial updates (e.g., updating "on" without losing "level").
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	// json_patch(target, patch) keeps target keys absent from patch.
	query := `
		UPDATE devices
		SET state = json_patch(COALESCE(state, '{}'), ?),
		    state_updated_at = ?,
		    updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, string(stateJSON), now, now, id)
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}
	return requireRow(result)
}

// UpdateHealth updates the health status and last seen timestamp.
func (r *SQLiteRepository) UpdateHealth(ctx context.Context, id string, status HealthStatus, lastSeen time.Time) error {
	query := `
		UPDATE devices
		SET health_status = ?, health_last_seen = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(status),
		lastSeen.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device health: %w", err)
	}
	return requireRow(result)
}

// UpdateMetadata replaces the discovery metadata of a device.
func (r *SQLiteRepository) UpdateMetadata(ctx context.Context, id string, metadata json.RawMessage) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET metadata = ?, updated_at = ? WHERE id = ?`,
		nullableBytes(metadata),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device metadata: %w", err)
	}
	return requireRow(result)
}

func marshalColumns(device *Device) (typesJSON, stateJSON []byte, err error) {
	types := device.DeviceTypes
	if types == nil {
		types = []matter.DeviceTypeID{}
	}
	typesJSON, err = json.Marshal(types)
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling device_types: %w", err)
	}
	state := device.State
	if state == nil {
		state = State{}
	}
	stateJSON, err = json.Marshal(state)
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling state: %w", err)
	}
	return typesJSON, stateJSON, nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var nodeID int64
	var protocol, healthStatus string
	var typesJSON, stateJSON string
	var metadata sql.NullString
	var stateUpdatedAt, healthLastSeen sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&protocol,
		&nodeID,
		&d.Driver,
		&d.VendorName,
		&d.ProductName,
		&d.SerialNumber,
		&d.FirmwareVersion,
		&typesJSON,
		&metadata,
		&stateJSON,
		&stateUpdatedAt,
		&healthStatus,
		&healthLastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Protocol = Protocol(protocol)
	d.NodeID = matter.NodeID(nodeID) //nolint:gosec // stored from a uint64
	d.HealthStatus = HealthStatus(healthStatus)
	if metadata.Valid && metadata.String != "" {
		d.Metadata = json.RawMessage(metadata.String)
	}
	d.StateUpdatedAt = parseNullableTime(stateUpdatedAt)
	d.HealthLastSeen = parseNullableTime(healthLastSeen)

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(typesJSON), &d.DeviceTypes); err != nil {
		return nil, fmt.Errorf("unmarshalling device_types: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &d.State); err != nil {
		return nil, fmt.Errorf("unmarshalling state: %w", err)
	}

	return &d, nil
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullableBytes returns a sql.NullString for optional byte slices.
func nullableBytes(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
