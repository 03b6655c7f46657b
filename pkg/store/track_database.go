package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/markus-lassfolk/trackhub/pkg"
	"github.com/markus-lassfolk/trackhub/pkg/hub"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
	"github.com/markus-lassfolk/trackhub/pkg/utils"
)

// ErrTrackNotFound is returned when a track id does not exist
var ErrTrackNotFound = errors.New("track not found")

var _ hub.TrackStore = (*TrackDatabase)(nil)

// TrackDatabase is the sqlite backed track, point and waypoint store
type TrackDatabase struct {
	db       *sql.DB
	dbPath   string
	logger   *logx.Logger
	notifier utils.Notifier
}

// TrackDatabaseConfig holds configuration for the track database
type TrackDatabaseConfig struct {
	DatabasePath string        `json:"database_path"`
	BusyTimeout  time.Duration `json:"busy_timeout"`
}

// NewTrackDatabase opens (and creates if needed) the track database
func NewTrackDatabase(config *TrackDatabaseConfig, logger *logx.Logger) (*TrackDatabase, error) {
	if config == nil {
		config = &TrackDatabaseConfig{
			DatabasePath: "/var/lib/trackhub/tracks.db",
		}
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	dir := filepath.Dir(config.DatabasePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		config.DatabasePath, config.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	tdb := &TrackDatabase{
		db:     db,
		dbPath: config.DatabasePath,
		logger: logger,
	}

	if err := tdb.initializeDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("track_database_initialized", "database_path", config.DatabasePath)
	return tdb, nil
}

func (tdb *TrackDatabase) initializeDatabase() error {
	createTablesSQL := `
	CREATE TABLE IF NOT EXISTS tracks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		start_id INTEGER NOT NULL DEFAULT -1,
		stop_id INTEGER NOT NULL DEFAULT -1,
		num_points INTEGER NOT NULL DEFAULT 0,
		start_time INTEGER NOT NULL DEFAULT 0,
		stop_time INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS track_points (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		track_id INTEGER NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
		provider TEXT NOT NULL DEFAULT 'gps',
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		altitude REAL NOT NULL DEFAULT 0,
		accuracy REAL NOT NULL DEFAULT 0,
		speed REAL NOT NULL DEFAULT 0,
		bearing REAL NOT NULL DEFAULT 0,
		time INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS waypoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		track_id INTEGER NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		type INTEGER NOT NULL DEFAULT 0,
		provider TEXT NOT NULL DEFAULT 'gps',
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		altitude REAL NOT NULL DEFAULT 0,
		accuracy REAL NOT NULL DEFAULT 0,
		time INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_track_points_track ON track_points(track_id, id);
	CREATE INDEX IF NOT EXISTS idx_waypoints_track ON waypoints(track_id, id);
	`

	_, err := tdb.db.Exec(createTablesSQL)
	return err
}

// Subscribe registers fn for change tokens (hub.ChangeTracks,
// hub.ChangeTrackPoints, hub.ChangeWaypoints).
func (tdb *TrackDatabase) Subscribe(fn func(token string)) func() {
	return tdb.notifier.Subscribe(fn)
}

// CreateTrack inserts an empty track and returns its id
func (tdb *TrackDatabase) CreateTrack(ctx context.Context, name string, start time.Time) (int64, error) {
	result, err := tdb.db.ExecContext(ctx,
		"INSERT INTO tracks (name, start_time) VALUES (?, ?)", name, toMillis(start))
	if err != nil {
		return 0, fmt.Errorf("failed to create track: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	tdb.logger.Info("track_created", "track_id", id, "name", name)
	tdb.notifier.Notify(hub.ChangeTracks)
	return id, nil
}

// FinishTrack sets the stop time of a track
func (tdb *TrackDatabase) FinishTrack(ctx context.Context, trackID int64, stop time.Time) error {
	result, err := tdb.db.ExecContext(ctx, "UPDATE tracks SET stop_time = ? WHERE id = ?", toMillis(stop), trackID)
	if err != nil {
		return fmt.Errorf("failed to finish track %d: %w", trackID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("track %d: %w", trackID, ErrTrackNotFound)
	}
	tdb.notifier.Notify(hub.ChangeTracks)
	return nil
}

// InsertPoint appends a location to a track and returns the point id
func (tdb *TrackDatabase) InsertPoint(ctx context.Context, trackID int64, loc pkg.Location) (int64, error) {
	tx, err := tdb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
	INSERT INTO track_points (
		track_id, provider, latitude, longitude, altitude, accuracy, speed, bearing, time
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		trackID, loc.Provider, loc.Latitude, loc.Longitude, loc.Altitude,
		loc.Accuracy, loc.Speed, loc.Bearing, toMillis(loc.Time),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert point: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	updated, err := tx.ExecContext(ctx, `
	UPDATE tracks SET
		start_id = CASE WHEN start_id < 0 THEN ? ELSE start_id END,
		stop_id = ?,
		num_points = num_points + 1
	WHERE id = ?
	`, id, id, trackID)
	if err != nil {
		return 0, fmt.Errorf("failed to update track: %w", err)
	}
	if n, _ := updated.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("track %d: %w", trackID, ErrTrackNotFound)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	tdb.logger.LogDebugVerbose("track_point_stored", map[string]interface{}{
		"track_id": trackID,
		"point_id": id,
		"accuracy": loc.Accuracy,
	})
	tdb.notifier.Notify(hub.ChangeTrackPoints)
	tdb.notifier.Notify(hub.ChangeTracks)
	return id, nil
}

// InsertSplit stores a segment split marker
func (tdb *TrackDatabase) InsertSplit(ctx context.Context, trackID int64, at time.Time) (int64, error) {
	return tdb.InsertPoint(ctx, trackID, pkg.SplitMarker(at))
}

// InsertWaypoint stores a waypoint and returns its id
func (tdb *TrackDatabase) InsertWaypoint(ctx context.Context, wp pkg.Waypoint) (int64, error) {
	result, err := tdb.db.ExecContext(ctx, `
	INSERT INTO waypoints (
		track_id, name, description, type, provider, latitude, longitude, altitude, accuracy, time
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		wp.TrackID, wp.Name, wp.Description, int(wp.Type), wp.Location.Provider,
		wp.Location.Latitude, wp.Location.Longitude, wp.Location.Altitude,
		wp.Location.Accuracy, toMillis(wp.Location.Time),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert waypoint: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	tdb.notifier.Notify(hub.ChangeWaypoints)
	return id, nil
}

// DeleteTrack removes a track with its points and waypoints
func (tdb *TrackDatabase) DeleteTrack(ctx context.Context, trackID int64) error {
	if _, err := tdb.db.ExecContext(ctx, "DELETE FROM tracks WHERE id = ?", trackID); err != nil {
		return fmt.Errorf("failed to delete track %d: %w", trackID, err)
	}
	tdb.logger.Info("track_deleted", "track_id", trackID)
	tdb.notifier.Notify(hub.ChangeTracks)
	tdb.notifier.Notify(hub.ChangeTrackPoints)
	tdb.notifier.Notify(hub.ChangeWaypoints)
	return nil
}

const trackColumns = "id, name, start_id, stop_id, num_points, start_time, stop_time"

func scanTrack(row interface{ Scan(...interface{}) error }) (*pkg.Track, error) {
	var t pkg.Track
	var start, stop int64
	if err := row.Scan(&t.ID, &t.Name, &t.StartID, &t.StopID, &t.NumPoints, &start, &stop); err != nil {
		return nil, err
	}
	t.StartTime = fromMillis(start)
	t.StopTime = fromMillis(stop)
	return &t, nil
}

// GetTrack returns one track
func (tdb *TrackDatabase) GetTrack(ctx context.Context, id int64) (*pkg.Track, error) {
	row := tdb.db.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE id = ?", id)
	track, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("track %d: %w", id, ErrTrackNotFound)
	}
	return track, err
}

// ListTracks returns every track, newest first
func (tdb *TrackDatabase) ListTracks(ctx context.Context) ([]pkg.Track, error) {
	rows, err := tdb.db.QueryContext(ctx, "SELECT "+trackColumns+" FROM tracks ORDER BY id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []pkg.Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, *track)
	}
	return tracks, rows.Err()
}

// Points iterates the points of a track with id >= startID in id order
func (tdb *TrackDatabase) Points(ctx context.Context, trackID, startID int64) (hub.PointIterator, error) {
	rows, err := tdb.db.QueryContext(ctx, `
	SELECT id, track_id, provider, latitude, longitude, altitude, accuracy, speed, bearing, time
	FROM track_points
	WHERE track_id = ? AND id >= ?
	ORDER BY id ASC
	`, trackID, startID)
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	return &pointRows{rows: rows}, nil
}

// LastPointID returns the newest point id of a track, or -1
func (tdb *TrackDatabase) LastPointID(ctx context.Context, trackID int64) (int64, error) {
	var last sql.NullInt64
	err := tdb.db.QueryRowContext(ctx, "SELECT MAX(id) FROM track_points WHERE track_id = ?", trackID).Scan(&last)
	if err != nil {
		return -1, err
	}
	if !last.Valid {
		return -1, nil
	}
	return last.Int64, nil
}

// Waypoints returns up to limit waypoints of a track with id >= minID
func (tdb *TrackDatabase) Waypoints(ctx context.Context, trackID, minID int64, limit int) ([]pkg.Waypoint, error) {
	rows, err := tdb.db.QueryContext(ctx, `
	SELECT id, track_id, name, description, type, provider, latitude, longitude, altitude, accuracy, time
	FROM waypoints
	WHERE track_id = ? AND id >= ?
	ORDER BY id ASC
	LIMIT ?
	`, trackID, minID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var waypoints []pkg.Waypoint
	for rows.Next() {
		var wp pkg.Waypoint
		var wpType int
		var at int64
		if err := rows.Scan(&wp.ID, &wp.TrackID, &wp.Name, &wp.Description, &wpType,
			&wp.Location.Provider, &wp.Location.Latitude, &wp.Location.Longitude,
			&wp.Location.Altitude, &wp.Location.Accuracy, &at); err != nil {
			return nil, err
		}
		wp.Type = pkg.WaypointType(wpType)
		wp.Location.Time = fromMillis(at)
		waypoints = append(waypoints, wp)
	}
	return waypoints, rows.Err()
}

// GetStatistics returns database statistics
func (tdb *TrackDatabase) GetStatistics(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var tracks, points, waypoints int
	if err := tdb.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks").Scan(&tracks); err != nil {
		return nil, err
	}
	if err := tdb.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM track_points").Scan(&points); err != nil {
		return nil, err
	}
	if err := tdb.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM waypoints").Scan(&waypoints); err != nil {
		return nil, err
	}

	stats["tracks"] = tracks
	stats["track_points"] = points
	stats["waypoints"] = waypoints
	stats["database_path"] = tdb.dbPath
	return stats, nil
}

// Close closes the database connection
func (tdb *TrackDatabase) Close() error {
	if tdb.db != nil {
		return tdb.db.Close()
	}
	return nil
}

type pointRows struct {
	rows    *sql.Rows
	current pkg.TrackPoint
	err     error
}

func (p *pointRows) Next() bool {
	if p.err != nil || !p.rows.Next() {
		return false
	}
	var at int64
	loc := &p.current.Location
	if err := p.rows.Scan(&p.current.ID, &p.current.TrackID, &loc.Provider, &loc.Latitude,
		&loc.Longitude, &loc.Altitude, &loc.Accuracy, &loc.Speed, &loc.Bearing, &at); err != nil {
		p.err = err
		return false
	}
	loc.Time = fromMillis(at)
	return true
}

func (p *pointRows) Point() pkg.TrackPoint { return p.current }

func (p *pointRows) Err() error {
	if p.err != nil {
		return p.err
	}
	return p.rows.Err()
}

func (p *pointRows) Close() error { return p.rows.Close() }

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
