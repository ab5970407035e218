package strava

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"peaklogger/internal/logging"
	"peaklogger/internal/metrics"
)

const DefaultBaseURL = "https://www.strava.com/api/v3"

// Client calls the Strava REST API on behalf of whichever athlete's access
// token is passed to each method.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

type Activity struct {
	ID              int64
	AthleteID       int64
	Name            string
	Description     string
	Type            string
	SportType       string
	StartDate       time.Time
	StartDateLocal  time.Time
	Distance        float64
	Polyline        string
	SummaryPolyline string
}

// Path returns the most detailed encoded polyline available.
func (a Activity) Path() string {
	if a.Polyline != "" {
		return a.Polyline
	}
	return a.SummaryPolyline
}

// LocalDate is the calendar date the athlete started the activity on.
func (a Activity) LocalDate() time.Time {
	if !a.StartDateLocal.IsZero() {
		return a.StartDateLocal
	}
	return a.StartDate
}

type Athlete struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// Update is the body of an activity update. Nil fields are left unchanged.
type Update struct {
	Description *string `json:"description,omitempty"`
	Name        *string `json:"name,omitempty"`
}

type activityPayload struct {
	ID      int64 `json:"id"`
	Athlete struct {
		ID int64 `json:"id"`
	} `json:"athlete"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Type           string  `json:"type"`
	SportType      string  `json:"sport_type"`
	StartDate      string  `json:"start_date"`
	StartDateLocal string  `json:"start_date_local"`
	Distance       float64 `json:"distance"`
	Map            struct {
		Polyline        string `json:"polyline"`
		SummaryPolyline string `json:"summary_polyline"`
	} `json:"map"`
}

func (p activityPayload) toActivity() (Activity, error) {
	a := Activity{
		ID:              p.ID,
		AthleteID:       p.Athlete.ID,
		Name:            p.Name,
		Description:     p.Description,
		Type:            p.Type,
		SportType:       p.SportType,
		Distance:        p.Distance,
		Polyline:        p.Map.Polyline,
		SummaryPolyline: p.Map.SummaryPolyline,
	}
	if a.SportType == "" {
		a.SportType = a.Type
	}
	var err error
	if p.StartDate != "" {
		if a.StartDate, err = time.Parse(time.RFC3339, p.StartDate); err != nil {
			return Activity{}, fmt.Errorf("parse start_date: %w", err)
		}
	}
	if p.StartDateLocal != "" {
		if a.StartDateLocal, err = time.Parse(time.RFC3339, p.StartDateLocal); err != nil {
			return Activity{}, fmt.Errorf("parse start_date_local: %w", err)
		}
	}
	return a, nil
}

func (c *Client) GetActivity(ctx context.Context, token string, id int64) (Activity, error) {
	var payload activityPayload
	if err := c.doJSON(ctx, "get_activity", http.MethodGet, token, fmt.Sprintf("/activities/%d", id), nil, nil, &payload); err != nil {
		return Activity{}, err
	}
	return payload.toActivity()
}

// ListActivities returns one page of the athlete's activities, newest first.
func (c *Client) ListActivities(ctx context.Context, token string, perPage, page int) ([]Activity, error) {
	params := url.Values{}
	if perPage > 0 {
		params.Set("per_page", strconv.Itoa(perPage))
	}
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}

	var payload []activityPayload
	if err := c.doJSON(ctx, "list_activities", http.MethodGet, token, "/athlete/activities", params, nil, &payload); err != nil {
		return nil, err
	}

	activities := make([]Activity, 0, len(payload))
	for _, p := range payload {
		a, err := p.toActivity()
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, nil
}

// ListEnabledActivities is ListActivities filtered to the enabled sport types.
func (c *Client) ListEnabledActivities(ctx context.Context, token string, enabled Bitfield, perPage, page int) ([]Activity, error) {
	all, err := c.ListActivities(ctx, token, perPage, page)
	if err != nil {
		return nil, err
	}
	var out []Activity
	for _, a := range all {
		if ActivityEnabled(enabled, a.SportType) {
			out = append(out, a)
		}
	}
	return out, nil
}

// UpdateActivity reports whether Strava accepted the update with 200 OK.
// Other statuses are logged and reported as false without an error.
func (c *Client) UpdateActivity(ctx context.Context, token string, id int64, update Update) (bool, error) {
	err := c.doJSON(ctx, "update_activity", http.MethodPut, token, fmt.Sprintf("/activities/%d", id), nil, update, nil)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		logging.Ctx(ctx).Warn().
			Int64("activity_id", id).
			Int("status", apiErr.StatusCode).
			Msg("strava rejected activity update")
		return false, nil
	}
	return false, err
}

func (c *Client) GetAthlete(ctx context.Context, token string) (Athlete, error) {
	var athlete Athlete
	if err := c.doJSON(ctx, "get_athlete", http.MethodGet, token, "/athlete", nil, nil, &athlete); err != nil {
		return Athlete{}, err
	}
	return athlete, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, token, path string, params url.Values, body, target any) error {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	u, err := url.Parse(base)
	if err != nil {
		return err
	}
	joined, err := url.JoinPath(u.Path, path)
	if err != nil {
		return err
	}
	u.Path = joined
	if params != nil {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	logRequest(method, u.String())
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		metrics.StravaRequests.WithLabelValues(op, "error").Inc()
		return err
	}
	defer resp.Body.Close()
	metrics.StravaRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	// Only 200 counts as success for writes; reads accept any 2xx.
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if method == http.MethodPut {
		ok = resp.StatusCode == http.StatusOK
	}
	if !ok {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return newAPIError(resp, data)
	}

	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
