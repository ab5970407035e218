// Package storage persists users, sessions, peaks, analyzed activities and
// the activity work queue behind the Store interface.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

const DefaultDetectionRadius = 10.0

type User struct {
	ID                  int64
	StravaID            int64
	FirstName           string
	LastName            string
	DetectionRadius     float64
	EnabledActivities   int64
	UpdateDescription   bool
	PostSummits         bool
	AscentsArePublic    bool
	StravaAccessToken   string
	StravaRefreshToken  string
	StravaTokenExpiry   time.Time
	StravaApprovedScope int64
	PBEmail             string
	PBPassword          string
	PBUsername          string
	PBUnits             string
	PBClimberID         int64
	CreatedAt           time.Time
}

// HasClimber reports whether a Peakbagger account is linked.
func (u User) HasClimber() bool {
	return u.PBClimberID != 0 && u.PBEmail != "" && u.PBPassword != ""
}

func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}

type Session struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
}

// Peak is a cached Peakbagger peak. Prominence is nil when unknown.
type Peak struct {
	ID          int64
	Name        string
	ElevationFt float64
	Lat         float64
	Lon         float64
	Prominence  *float64
}

type PeakDistance struct {
	PeakID int64   `json:"pid"`
	Dist   float64 `json:"dist"`
}

type LoggedAscent struct {
	PeakID   int64 `json:"pid"`
	AscentID int64 `json:"aid"`
}

// Activity is the analysis record kept for one Strava activity.
type Activity struct {
	ID              int64
	UserStravaID    int64
	Name            string
	SportType       string
	StartDate       time.Time
	// StartDateLocal is the athlete's wall-clock start time, labelled UTC.
	StartDateLocal  time.Time
	SummaryPolyline string
	SummitedPeaks   []PeakDistance
	NearbyPeaks     []PeakDistance
	LoggedAscents   []LoggedAscent
	UpdatedAt       time.Time
}

// LocalDate is the calendar date the activity happened on where it took place.
func (a Activity) LocalDate() time.Time {
	t := a.StartDate.UTC()
	if !a.StartDateLocal.IsZero() {
		t = a.StartDateLocal
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (a Activity) HasSummit(peakID int64) bool {
	for _, p := range a.SummitedPeaks {
		if p.PeakID == peakID {
			return true
		}
	}
	return false
}

type WebhookEvent struct {
	ID         int64
	DeliveryID string
	ObjectID   int64
	ObjectType string
	AspectType string
	OwnerID    int64
	RawPayload string
	ReceivedAt time.Time
}

type QueueItem struct {
	ID           int64
	UserStravaID int64
	ActivityID   int64
	Attempts     int
	NextRunAt    time.Time
	LastError    string
	EnqueuedAt   time.Time
}

type Store interface {
	CreateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByStravaID(ctx context.Context, stravaID int64) (User, error)
	UpdateUser(ctx context.Context, user User) error
	DeleteUser(ctx context.Context, id int64) error

	InsertSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID int64) error

	UpsertPeaks(ctx context.Context, peaks []Peak) error
	// GetPeaks returns the known peaks in the order of ids, skipping unknown ids.
	GetPeaks(ctx context.Context, ids []int64) ([]Peak, error)

	PutActivity(ctx context.Context, activity Activity) error
	GetActivity(ctx context.Context, userStravaID, activityID int64) (Activity, error)
	// ListActivities returns the most recent activities first.
	ListActivities(ctx context.Context, userStravaID int64, limit int) ([]Activity, error)
	DeleteActivity(ctx context.Context, userStravaID, activityID int64) error
	DeleteUserActivities(ctx context.Context, userStravaID int64) error

	InsertWebhookEvent(ctx context.Context, event WebhookEvent) (int64, error)
	CountWebhookEvents(ctx context.Context) (int, error)

	EnqueueActivity(ctx context.Context, userStravaID, activityID int64) error
	// ClaimQueueItem marks the next due item as running and bumps its attempt count.
	ClaimQueueItem(ctx context.Context, now time.Time) (QueueItem, error)
	MarkQueueItemDone(ctx context.Context, id int64) error
	MarkQueueItemRetry(ctx context.Context, id int64, lastErr string, nextRunAt time.Time) error
	MarkQueueItemFailed(ctx context.Context, id int64, lastErr string) error
	// ReleaseQueueItem returns a claimed item to the queue without spending
	// the attempt its claim used.
	ReleaseQueueItem(ctx context.Context, id int64) error
	// ResetRunningQueueItems requeues items left running by a previous process.
	ResetRunningQueueItems(ctx context.Context) (int, error)
	CountQueue(ctx context.Context) (int, error)

	Close() error
}
