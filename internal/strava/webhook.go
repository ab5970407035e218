package strava

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

type Subscription struct {
	ID          int64  `json:"id"`
	CallbackURL string `json:"callback_url"`
}

type SubscriptionAction string

const (
	SubscriptionExists    SubscriptionAction = "exists"
	SubscriptionCreated   SubscriptionAction = "created"
	SubscriptionRecreated SubscriptionAction = "recreated"
	SubscriptionMismatch  SubscriptionAction = "mismatch"
)

var (
	ErrSubscriptionMismatch  = errors.New("subscription callback url mismatch")
	ErrMultipleSubscriptions = errors.New("multiple subscriptions returned")
)

// WebhookClient manages the application's single push subscription.
type WebhookClient struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

// EnsureSubscription makes callbackURL the registered webhook target. An
// existing subscription for another URL is only replaced when replace is set.
func (c *WebhookClient) EnsureSubscription(ctx context.Context, callbackURL, verifyToken string, replace bool) (SubscriptionAction, *Subscription, error) {
	if callbackURL == "" {
		return "", nil, fmt.Errorf("callback url required")
	}
	if verifyToken == "" {
		return "", nil, fmt.Errorf("verify token required")
	}

	subscriptions, err := c.ListSubscriptions(ctx)
	if err != nil {
		return "", nil, err
	}

	switch len(subscriptions) {
	case 0:
		sub, err := c.CreateSubscription(ctx, callbackURL, verifyToken)
		if err != nil {
			return "", nil, err
		}
		return SubscriptionCreated, sub, nil
	case 1:
	default:
		return "", nil, fmt.Errorf("%w: %d", ErrMultipleSubscriptions, len(subscriptions))
	}

	current := subscriptions[0]
	if strings.TrimRight(current.CallbackURL, "/") == strings.TrimRight(callbackURL, "/") {
		return SubscriptionExists, &current, nil
	}
	if !replace {
		return SubscriptionMismatch, &current, fmt.Errorf("%w: existing=%q desired=%q", ErrSubscriptionMismatch, current.CallbackURL, callbackURL)
	}

	if err := c.DeleteSubscription(ctx, current.ID); err != nil {
		return "", &current, err
	}
	sub, err := c.CreateSubscription(ctx, callbackURL, verifyToken)
	if err != nil {
		return "", &current, err
	}
	return SubscriptionRecreated, sub, nil
}

func (c *WebhookClient) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	if err := c.send(ctx, http.MethodGet, "/push_subscriptions", nil, &subs); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (c *WebhookClient) CreateSubscription(ctx context.Context, callbackURL, verifyToken string) (*Subscription, error) {
	form := url.Values{}
	form.Set("callback_url", callbackURL)
	form.Set("verify_token", verifyToken)

	var sub Subscription
	if err := c.send(ctx, http.MethodPost, "/push_subscriptions", form, &sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	if sub.ID == 0 {
		return nil, fmt.Errorf("create subscription response missing id")
	}
	if sub.CallbackURL == "" {
		sub.CallbackURL = callbackURL
	}
	return &sub, nil
}

func (c *WebhookClient) DeleteSubscription(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("subscription id required")
	}
	if err := c.send(ctx, http.MethodDelete, "/push_subscriptions/"+strconv.FormatInt(id, 10), nil, nil); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// send authenticates with client credentials: in the form body for POST,
// in the query string otherwise.
func (c *WebhookClient) send(ctx context.Context, method, path string, form url.Values, target any) error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("missing strava client credentials")
	}
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	endpoint, err := url.JoinPath(base, path)
	if err != nil {
		return err
	}

	var body io.Reader
	if method == http.MethodPost {
		if form == nil {
			form = url.Values{}
		}
		form.Set("client_id", c.ClientID)
		form.Set("client_secret", c.ClientSecret)
		body = strings.NewReader(form.Encode())
	} else {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return err
		}
		query := parsed.Query()
		query.Set("client_id", c.ClientID)
		query.Set("client_secret", c.ClientSecret)
		parsed.RawQuery = query.Encode()
		endpoint = parsed.String()
	}

	logRequest(method, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return newAPIError(resp, data)
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
