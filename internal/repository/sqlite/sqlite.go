// Package sqlite mirrors the in-memory topology model to durable storage so
// the network picture survives restarts. The engine stays authoritative; this
// is a write-behind snapshot, not a query path.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"meshmap/internal/domain"
	"meshmap/internal/mesh"

	_ "modernc.org/sqlite"
)

// Repository persists node and connection snapshots in SQLite
type Repository struct {
	db *sql.DB
}

// New opens (or creates) the database at path and runs migrations
func New(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite writes are serialized anyway; a single connection avoids
	// SQLITE_BUSY churn under concurrent upserts.
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		node_id TEXT PRIMARY KEY,
		long_name TEXT,
		short_name TEXT,
		hardware_model INTEGER,
		role INTEGER,
		firmware_version TEXT,
		latitude REAL,
		longitude REAL,
		altitude REAL,
		position_quality TEXT NOT NULL DEFAULT 'unknown',
		battery_level INTEGER,
		voltage REAL,
		snr REAL,
		rssi INTEGER,
		last_seen DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS connections (
		from_node TEXT NOT NULL,
		to_node TEXT NOT NULL,
		packet_count INTEGER NOT NULL DEFAULT 0,
		snr_sum REAL NOT NULL DEFAULT 0,
		snr_count INTEGER NOT NULL DEFAULT 0,
		rssi_sum REAL NOT NULL DEFAULT 0,
		rssi_count INTEGER NOT NULL DEFAULT 0,
		last_seen DATETIME,
		PRIMARY KEY (from_node, to_node)
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_last_seen ON nodes(last_seen);
	CREATE INDEX IF NOT EXISTS idx_connections_last_seen ON connections(last_seen);
	`

	_, err := r.db.Exec(schema)
	return err
}

// UpsertNode writes the full current state of a node
func (r *Repository) UpsertNode(ctx context.Context, node domain.Node) error {
	var lat, lon, alt sql.NullFloat64
	if node.Position != nil {
		lat = sql.NullFloat64{Float64: node.Position.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: node.Position.Longitude, Valid: true}
		alt = floatPtrToNull(node.Position.Altitude)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO nodes (
			node_id, long_name, short_name, hardware_model, role,
			firmware_version, latitude, longitude, altitude, position_quality,
			battery_level, voltage, snr, rssi, last_seen, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			long_name = excluded.long_name,
			short_name = excluded.short_name,
			hardware_model = excluded.hardware_model,
			role = excluded.role,
			firmware_version = excluded.firmware_version,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude = excluded.altitude,
			position_quality = excluded.position_quality,
			battery_level = excluded.battery_level,
			voltage = excluded.voltage,
			snr = excluded.snr,
			rssi = excluded.rssi,
			last_seen = excluded.last_seen
	`,
		node.ID,
		stringToNull(node.LongName),
		stringToNull(node.ShortName),
		intPtrToNull(node.HardwareModel),
		intPtrToNull(node.Role),
		stringToNull(node.FirmwareVersion),
		lat, lon, alt,
		string(node.PositionQuality),
		intPtrToNull(node.BatteryLevel),
		floatPtrToNull(node.Voltage),
		floatPtrToNull(node.SNR),
		intPtrToNull(node.RSSI),
		node.LastSeen,
		node.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert node %s: %w", node.ID, err)
	}
	return nil
}

// UpsertConnection writes the full current aggregate of a directed pair
func (r *Repository) UpsertConnection(ctx context.Context, agg mesh.ConnectionAggregate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO connections (
			from_node, to_node, packet_count,
			snr_sum, snr_count, rssi_sum, rssi_count, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_node, to_node) DO UPDATE SET
			packet_count = excluded.packet_count,
			snr_sum = excluded.snr_sum,
			snr_count = excluded.snr_count,
			rssi_sum = excluded.rssi_sum,
			rssi_count = excluded.rssi_count,
			last_seen = excluded.last_seen
	`,
		agg.FromID, agg.ToID, agg.PacketCount,
		agg.SNRSum, agg.SNRCount, agg.RSSISum, agg.RSSICount,
		agg.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert connection %s>%s: %w", agg.FromID, agg.ToID, err)
	}
	return nil
}

// LoadNodes reads every persisted node
func (r *Repository) LoadNodes(ctx context.Context) ([]domain.Node, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_id, long_name, short_name, hardware_model, role,
		       firmware_version, latitude, longitude, altitude, position_quality,
		       battery_level, voltage, snr, rssi, last_seen, created_at
		FROM nodes
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []domain.Node
	for rows.Next() {
		var (
			node                domain.Node
			longName, shortName sql.NullString
			firmware, quality   sql.NullString
			hwModel, role       sql.NullInt64
			lat, lon, alt       sql.NullFloat64
			battery, rssi       sql.NullInt64
			voltage, snr        sql.NullFloat64
			lastSeen, createdAt sql.NullTime
		)
		if err := rows.Scan(
			&node.ID, &longName, &shortName, &hwModel, &role,
			&firmware, &lat, &lon, &alt, &quality,
			&battery, &voltage, &snr, &rssi, &lastSeen, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		node.LongName = nullToString(longName)
		node.ShortName = nullToString(shortName)
		node.FirmwareVersion = nullToString(firmware)
		node.HardwareModel = nullToIntPtr(hwModel)
		node.HardwareName = ""
		if node.HardwareModel != nil {
			node.HardwareName = domain.HardwareModelName(node.HardwareModel)
		}
		node.Role = nullToIntPtr(role)
		node.BatteryLevel = nullToIntPtr(battery)
		node.RSSI = nullToIntPtr(rssi)
		node.Voltage = nullToFloatPtr(voltage)
		node.SNR = nullToFloatPtr(snr)
		node.PositionQuality = domain.PositionUnknown
		if quality.Valid && quality.String != "" {
			node.PositionQuality = domain.PositionQuality(quality.String)
		}
		if lat.Valid && lon.Valid {
			node.Position = &domain.Position{
				Latitude:  lat.Float64,
				Longitude: lon.Float64,
				Altitude:  nullToFloatPtr(alt),
			}
		}
		node.LastSeen = nullToTime(lastSeen)
		node.CreatedAt = nullToTime(createdAt)

		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// LoadConnections reads every persisted connection aggregate
func (r *Repository) LoadConnections(ctx context.Context) ([]mesh.ConnectionAggregate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT from_node, to_node, packet_count,
		       snr_sum, snr_count, rssi_sum, rssi_count, last_seen
		FROM connections
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var aggs []mesh.ConnectionAggregate
	for rows.Next() {
		var agg mesh.ConnectionAggregate
		var lastSeen sql.NullTime
		if err := rows.Scan(
			&agg.FromID, &agg.ToID, &agg.PacketCount,
			&agg.SNRSum, &agg.SNRCount, &agg.RSSISum, &agg.RSSICount, &lastSeen,
		); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		agg.LastSeen = nullToTime(lastSeen)
		aggs = append(aggs, agg)
	}
	return aggs, rows.Err()
}

// Close releases the underlying database handle
func (r *Repository) Close() error {
	return r.db.Close()
}

func nullToTime(nt sql.NullTime) time.Time {
	if nt.Valid {
		return nt.Time
	}
	return time.Time{}
}
