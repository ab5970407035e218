package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases intact and serializes writers.
	db.SetMaxOpenConns(1)
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) InitSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	strava_id INTEGER NOT NULL UNIQUE,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	detection_radius REAL NOT NULL,
	enabled_activities INTEGER NOT NULL,
	update_description INTEGER NOT NULL,
	post_summits INTEGER NOT NULL,
	ascents_public INTEGER NOT NULL,
	strava_access_token TEXT NOT NULL,
	strava_refresh_token TEXT NOT NULL,
	strava_token_expiry INTEGER NOT NULL,
	strava_scope INTEGER NOT NULL,
	pb_email TEXT NOT NULL,
	pb_password TEXT NOT NULL,
	pb_username TEXT NOT NULL,
	pb_units TEXT NOT NULL,
	pb_climber_id INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_user_id ON sessions (user_id);
CREATE TABLE IF NOT EXISTS peaks (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	elevation_ft REAL NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	prominence REAL
);
CREATE TABLE IF NOT EXISTS activities (
	user_strava_id INTEGER NOT NULL,
	id INTEGER NOT NULL,
	name TEXT NOT NULL,
	sport_type TEXT NOT NULL,
	start_date INTEGER NOT NULL,
	start_date_local INTEGER NOT NULL DEFAULT 0,
	summary_polyline TEXT NOT NULL,
	summited_peaks TEXT NOT NULL,
	nearby_peaks TEXT NOT NULL,
	logged_ascents TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (user_strava_id, id)
);
CREATE TABLE IF NOT EXISTS activity_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_strava_id INTEGER NOT NULL,
	activity_id INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	attempts INTEGER NOT NULL DEFAULT 0,
	next_run_at INTEGER NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	enqueued_at INTEGER NOT NULL,
	processed_at INTEGER
);
CREATE TABLE IF NOT EXISTS webhook_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	delivery_id TEXT NOT NULL,
	object_id INTEGER NOT NULL,
	object_type TEXT NOT NULL,
	aspect_type TEXT NOT NULL,
	owner_id INTEGER NOT NULL,
	raw_payload TEXT NOT NULL,
	received_at INTEGER NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const userColumns = `id, strava_id, first_name, last_name, detection_radius, enabled_activities,
	update_description, post_summits, ascents_public, strava_access_token, strava_refresh_token,
	strava_token_expiry, strava_scope, pb_email, pb_password, pb_username, pb_units, pb_climber_id, created_at`

func (s *SQLite) CreateUser(ctx context.Context, user User) (User, error) {
	if user.StravaID == 0 {
		return User{}, errors.New("strava id required")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO users (strava_id, first_name, last_name, detection_radius, enabled_activities,
	update_description, post_summits, ascents_public, strava_access_token, strava_refresh_token,
	strava_token_expiry, strava_scope, pb_email, pb_password, pb_username, pb_units, pb_climber_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, user.StravaID, user.FirstName, user.LastName, user.DetectionRadius, user.EnabledActivities,
		user.UpdateDescription, user.PostSummits, user.AscentsArePublic, user.StravaAccessToken, user.StravaRefreshToken,
		user.StravaTokenExpiry.Unix(), user.StravaApprovedScope, user.PBEmail, user.PBPassword, user.PBUsername,
		user.PBUnits, user.PBClimberID, user.CreatedAt.Unix())
	if err != nil {
		return User{}, err
	}
	user.ID, err = res.LastInsertId()
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *SQLite) GetUser(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *SQLite) GetUserByStravaID(ctx context.Context, stravaID int64) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE strava_id = ?`, stravaID)
	return scanUser(row)
}

func scanUser(row *sql.Row) (User, error) {
	var (
		u         User
		expiry    int64
		createdAt int64
	)
	err := row.Scan(&u.ID, &u.StravaID, &u.FirstName, &u.LastName, &u.DetectionRadius, &u.EnabledActivities,
		&u.UpdateDescription, &u.PostSummits, &u.AscentsArePublic, &u.StravaAccessToken, &u.StravaRefreshToken,
		&expiry, &u.StravaApprovedScope, &u.PBEmail, &u.PBPassword, &u.PBUsername, &u.PBUnits, &u.PBClimberID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.StravaTokenExpiry = time.Unix(expiry, 0)
	u.CreatedAt = time.Unix(createdAt, 0)
	return u, nil
}

func (s *SQLite) UpdateUser(ctx context.Context, user User) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE users SET
	first_name = ?,
	last_name = ?,
	detection_radius = ?,
	enabled_activities = ?,
	update_description = ?,
	post_summits = ?,
	ascents_public = ?,
	strava_access_token = ?,
	strava_refresh_token = ?,
	strava_token_expiry = ?,
	strava_scope = ?,
	pb_email = ?,
	pb_password = ?,
	pb_username = ?,
	pb_units = ?,
	pb_climber_id = ?
WHERE id = ?
`, user.FirstName, user.LastName, user.DetectionRadius, user.EnabledActivities,
		user.UpdateDescription, user.PostSummits, user.AscentsArePublic, user.StravaAccessToken, user.StravaRefreshToken,
		user.StravaTokenExpiry.Unix(), user.StravaApprovedScope, user.PBEmail, user.PBPassword, user.PBUsername,
		user.PBUnits, user.PBClimberID, user.ID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLite) DeleteUser(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return err
}

func (s *SQLite) InsertSession(ctx context.Context, session Session) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, user_id, expires_at)
VALUES (?, ?, ?)
`, session.ID, session.UserID, session.ExpiresAt.Unix())
	return err
}

func (s *SQLite) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, expires_at
FROM sessions
WHERE id = ?
`, id)
	var (
		session   Session
		expiresAt int64
	)
	if err := row.Scan(&session.ID, &session.UserID, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	session.ExpiresAt = time.Unix(expiresAt, 0)
	return session, nil
}

func (s *SQLite) UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET expires_at = ? WHERE id = ?`, expiresAt.Unix(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *SQLite) DeleteUserSessions(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	return err
}

func (s *SQLite) UpsertPeaks(ctx context.Context, peaks []Peak) error {
	if len(peaks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO peaks (id, name, elevation_ft, lat, lon, prominence)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	elevation_ft = excluded.elevation_ft,
	lat = excluded.lat,
	lon = excluded.lon,
	prominence = excluded.prominence
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range peaks {
		var prominence sql.NullFloat64
		if p.Prominence != nil {
			prominence = sql.NullFloat64{Float64: *p.Prominence, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.Name, p.ElevationFt, p.Lat, p.Lon, prominence); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) GetPeaks(ctx context.Context, ids []int64) ([]Peak, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, elevation_ft, lat, lon, prominence
FROM peaks
WHERE id IN (`+placeholders+`)
`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int64]Peak, len(ids))
	for rows.Next() {
		var (
			p          Peak
			prominence sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.ElevationFt, &p.Lat, &p.Lon, &prominence); err != nil {
			return nil, err
		}
		if prominence.Valid {
			v := prominence.Float64
			p.Prominence = &v
		}
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderPeaks(ids, byID), nil
}

func orderPeaks(ids []int64, byID map[int64]Peak) []Peak {
	out := make([]Peak, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *SQLite) PutActivity(ctx context.Context, activity Activity) error {
	if activity.ID == 0 || activity.UserStravaID == 0 {
		return errors.New("activity id and owner required")
	}
	summited, err := marshalList(activity.SummitedPeaks)
	if err != nil {
		return err
	}
	nearby, err := marshalList(activity.NearbyPeaks)
	if err != nil {
		return err
	}
	logged, err := marshalList(activity.LoggedAscents)
	if err != nil {
		return err
	}
	if activity.UpdatedAt.IsZero() {
		activity.UpdatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO activities (user_strava_id, id, name, sport_type, start_date, start_date_local,
	summary_polyline, summited_peaks, nearby_peaks, logged_ascents, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_strava_id, id) DO UPDATE SET
	name = excluded.name,
	sport_type = excluded.sport_type,
	start_date = excluded.start_date,
	start_date_local = excluded.start_date_local,
	summary_polyline = excluded.summary_polyline,
	summited_peaks = excluded.summited_peaks,
	nearby_peaks = excluded.nearby_peaks,
	logged_ascents = excluded.logged_ascents,
	updated_at = excluded.updated_at
`, activity.UserStravaID, activity.ID, activity.Name, activity.SportType, activity.StartDate.Unix(),
		unixOrZero(activity.StartDateLocal), activity.SummaryPolyline, summited, nearby, logged, activity.UpdatedAt.Unix())
	return err
}

func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

const activityColumns = `user_strava_id, id, name, sport_type, start_date, start_date_local,
	summary_polyline, summited_peaks, nearby_peaks, logged_ascents, updated_at`

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (Activity, error) {
	var (
		a                        Activity
		start, local, updated    int64
		summited, nearby, logged string
	)
	if err := row.Scan(&a.UserStravaID, &a.ID, &a.Name, &a.SportType, &start, &local, &a.SummaryPolyline,
		&summited, &nearby, &logged, &updated); err != nil {
		return Activity{}, err
	}
	if err := json.Unmarshal([]byte(summited), &a.SummitedPeaks); err != nil {
		return Activity{}, fmt.Errorf("decode summited peaks: %w", err)
	}
	if err := json.Unmarshal([]byte(nearby), &a.NearbyPeaks); err != nil {
		return Activity{}, fmt.Errorf("decode nearby peaks: %w", err)
	}
	if err := json.Unmarshal([]byte(logged), &a.LoggedAscents); err != nil {
		return Activity{}, fmt.Errorf("decode logged ascents: %w", err)
	}
	a.StartDate = time.Unix(start, 0)
	if local != 0 {
		a.StartDateLocal = time.Unix(local, 0).UTC()
	}
	a.UpdatedAt = time.Unix(updated, 0)
	return a, nil
}

func (s *SQLite) GetActivity(ctx context.Context, userStravaID, activityID int64) (Activity, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+activityColumns+`
FROM activities
WHERE user_strava_id = ? AND id = ?
`, userStravaID, activityID)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Activity{}, ErrNotFound
	}
	return a, err
}

func (s *SQLite) ListActivities(ctx context.Context, userStravaID int64, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+activityColumns+`
FROM activities
WHERE user_strava_id = ?
ORDER BY start_date DESC, id DESC
LIMIT ?
`, userStravaID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteActivity(ctx context.Context, userStravaID, activityID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE user_strava_id = ? AND id = ?`, userStravaID, activityID)
	return err
}

func (s *SQLite) DeleteUserActivities(ctx context.Context, userStravaID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE user_strava_id = ?`, userStravaID)
	return err
}

func (s *SQLite) InsertWebhookEvent(ctx context.Context, event WebhookEvent) (int64, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO webhook_events (delivery_id, object_id, object_type, aspect_type, owner_id, raw_payload, received_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, event.DeliveryID, event.ObjectID, event.ObjectType, event.AspectType, event.OwnerID, event.RawPayload, event.ReceivedAt.Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLite) CountWebhookEvents(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM webhook_events
`)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// EnqueueActivity is a no-op when the activity is already waiting in the queue.
func (s *SQLite) EnqueueActivity(ctx context.Context, userStravaID, activityID int64) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO activity_queue (user_strava_id, activity_id, next_run_at, enqueued_at)
SELECT ?, ?, ?, ?
WHERE NOT EXISTS (
	SELECT 1 FROM activity_queue
	WHERE user_strava_id = ? AND activity_id = ? AND status = 'queued'
)
`, userStravaID, activityID, now, now, userStravaID, activityID)
	return err
}

func (s *SQLite) ClaimQueueItem(ctx context.Context, now time.Time) (QueueItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return QueueItem{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
SELECT id, user_strava_id, activity_id, attempts, next_run_at, last_error, enqueued_at
FROM activity_queue
WHERE status = 'queued' AND next_run_at <= ?
ORDER BY next_run_at, id
LIMIT 1
`, now.Unix())
	var (
		item              QueueItem
		nextRun, enqueued int64
	)
	if err := row.Scan(&item.ID, &item.UserStravaID, &item.ActivityID, &item.Attempts, &nextRun, &item.LastError, &enqueued); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return QueueItem{}, ErrNotFound
		}
		return QueueItem{}, err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE activity_queue
SET status = 'running', attempts = attempts + 1
WHERE id = ?
`, item.ID); err != nil {
		return QueueItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return QueueItem{}, err
	}
	item.Attempts++
	item.NextRunAt = time.Unix(nextRun, 0)
	item.EnqueuedAt = time.Unix(enqueued, 0)
	return item, nil
}

func (s *SQLite) MarkQueueItemDone(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE activity_queue
SET status = 'done', processed_at = ?, last_error = ''
WHERE id = ?
`, time.Now().Unix(), id)
	return err
}

func (s *SQLite) MarkQueueItemRetry(ctx context.Context, id int64, lastErr string, nextRunAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE activity_queue
SET status = 'queued', next_run_at = ?, last_error = ?
WHERE id = ?
`, nextRunAt.Unix(), lastErr, id)
	return err
}

func (s *SQLite) MarkQueueItemFailed(ctx context.Context, id int64, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE activity_queue
SET status = 'failed', processed_at = ?, last_error = ?
WHERE id = ?
`, time.Now().Unix(), lastErr, id)
	return err
}

func (s *SQLite) ReleaseQueueItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE activity_queue
SET status = 'queued', attempts = MAX(attempts - 1, 0)
WHERE id = ? AND status = 'running'
`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLite) ResetRunningQueueItems(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE activity_queue
SET status = 'queued', attempts = MAX(attempts - 1, 0)
WHERE status = 'running'
`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLite) CountQueue(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM activity_queue
WHERE status IN ('queued', 'running')
`)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
