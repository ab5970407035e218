package storage

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"
)

type activityKey struct {
	owner int64
	id    int64
}

type queueEntry struct {
	item   QueueItem
	status string
}

// Memory is a Store held entirely in process memory.
type Memory struct {
	mu         sync.Mutex
	nextUserID int64
	users      map[int64]User
	sessions   map[string]Session
	peaks      map[int64]Peak
	activities map[activityKey]Activity
	events     []WebhookEvent
	queue      []*queueEntry
	nextQueue  int64
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:      make(map[int64]User),
		sessions:   make(map[string]Session),
		peaks:      make(map[int64]Peak),
		activities: make(map[activityKey]Activity),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateUser(_ context.Context, user User) (User, error) {
	if user.StravaID == 0 {
		return User{}, errors.New("strava id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.StravaID == user.StravaID {
			return User{}, errors.New("user with strava id already exists")
		}
	}
	m.nextUserID++
	user.ID = m.nextUserID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *Memory) GetUser(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByStravaID(_ context.Context, stravaID int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.StravaID == stravaID {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *Memory) UpdateUser(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	user.StravaID = existing.StravaID
	user.CreatedAt = existing.CreatedAt
	m.users[user.ID] = user
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *Memory) InsertSession(_ context.Context, session Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; ok {
		return errors.New("session already exists")
	}
	m.sessions[session.ID] = session
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) UpdateSessionExpiry(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.ExpiresAt = expiresAt
	m.sessions[id] = s
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *Memory) DeleteUserSessions(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *Memory) UpsertPeaks(_ context.Context, peaks []Peak) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range peaks {
		if p.Prominence != nil {
			v := *p.Prominence
			p.Prominence = &v
		}
		m.peaks[p.ID] = p
	}
	return nil
}

func (m *Memory) GetPeaks(_ context.Context, ids []int64) ([]Peak, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return orderPeaks(ids, m.peaks), nil
}

func cloneActivity(a Activity) Activity {
	a.SummitedPeaks = slices.Clone(a.SummitedPeaks)
	a.NearbyPeaks = slices.Clone(a.NearbyPeaks)
	a.LoggedAscents = slices.Clone(a.LoggedAscents)
	return a
}

func (m *Memory) PutActivity(_ context.Context, activity Activity) error {
	if activity.ID == 0 || activity.UserStravaID == 0 {
		return errors.New("activity id and owner required")
	}
	if activity.UpdatedAt.IsZero() {
		activity.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities[activityKey{activity.UserStravaID, activity.ID}] = cloneActivity(activity)
	return nil
}

func (m *Memory) GetActivity(_ context.Context, userStravaID, activityID int64) (Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[activityKey{userStravaID, activityID}]
	if !ok {
		return Activity{}, ErrNotFound
	}
	return cloneActivity(a), nil
}

func (m *Memory) ListActivities(_ context.Context, userStravaID int64, limit int) ([]Activity, error) {
	m.mu.Lock()
	var out []Activity
	for key, a := range m.activities {
		if key.owner == userStravaID {
			out = append(out, cloneActivity(a))
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.After(out[j].StartDate)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) DeleteActivity(_ context.Context, userStravaID, activityID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activities, activityKey{userStravaID, activityID})
	return nil
}

func (m *Memory) DeleteUserActivities(_ context.Context, userStravaID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.activities {
		if key.owner == userStravaID {
			delete(m.activities, key)
		}
	}
	return nil
}

func (m *Memory) InsertWebhookEvent(_ context.Context, event WebhookEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return event.ID, nil
}

func (m *Memory) CountWebhookEvents(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events), nil
}

func (m *Memory) EnqueueActivity(_ context.Context, userStravaID, activityID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.queue {
		if e.status == "queued" && e.item.UserStravaID == userStravaID && e.item.ActivityID == activityID {
			return nil
		}
	}
	now := time.Unix(time.Now().Unix(), 0)
	m.nextQueue++
	m.queue = append(m.queue, &queueEntry{
		status: "queued",
		item: QueueItem{
			ID:           m.nextQueue,
			UserStravaID: userStravaID,
			ActivityID:   activityID,
			NextRunAt:    now,
			EnqueuedAt:   now,
		},
	})
	return nil
}

func (m *Memory) ClaimQueueItem(_ context.Context, now time.Time) (QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *queueEntry
	for _, e := range m.queue {
		if e.status != "queued" || e.item.NextRunAt.After(now) {
			continue
		}
		if next == nil || e.item.NextRunAt.Before(next.item.NextRunAt) {
			next = e
		}
	}
	if next == nil {
		return QueueItem{}, ErrNotFound
	}
	next.status = "running"
	next.item.Attempts++
	return next.item, nil
}

func (m *Memory) entry(id int64) *queueEntry {
	for _, e := range m.queue {
		if e.item.ID == id {
			return e
		}
	}
	return nil
}

func (m *Memory) MarkQueueItemDone(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entry(id); e != nil {
		e.status = "done"
		e.item.LastError = ""
	}
	return nil
}

func (m *Memory) MarkQueueItemRetry(_ context.Context, id int64, lastErr string, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entry(id); e != nil {
		e.status = "queued"
		e.item.LastError = lastErr
		e.item.NextRunAt = time.Unix(nextRunAt.Unix(), 0)
	}
	return nil
}

func (m *Memory) MarkQueueItemFailed(_ context.Context, id int64, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entry(id); e != nil {
		e.status = "failed"
		e.item.LastError = lastErr
	}
	return nil
}

func (m *Memory) ReleaseQueueItem(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(id)
	if e == nil || e.status != "running" {
		return ErrNotFound
	}
	e.release()
	return nil
}

func (m *Memory) ResetRunningQueueItems(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.queue {
		if e.status == "running" {
			e.release()
			n++
		}
	}
	return n, nil
}

func (e *queueEntry) release() {
	e.status = "queued"
	if e.item.Attempts > 0 {
		e.item.Attempts--
	}
}

func (m *Memory) CountQueue(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.queue {
		if e.status == "queued" || e.status == "running" {
			count++
		}
	}
	return count, nil
}
