// Package habbo is a small client for the public Habbo web API: profile
// lookup by name and group membership by unique id.
package habbo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cdahabbo/rolesync/pkg/metrics"
)

var ErrNotFound = errors.New("habbo: not found")

// Profile is the subset of /api/public/users the bot relies on.
type Profile struct {
	UniqueID       string `json:"uniqueId"`
	Name           string `json:"name"`
	Motto          string `json:"motto"`
	Online         bool   `json:"online"`
	MemberSince    string `json:"memberSince"`
	LastAccessTime string `json:"lastAccessTime"`
}

type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Client talks to https://www.habbo.<realm>. Groups are always read from the
// default realm.
type Client struct {
	baseURL      string
	defaultRealm string
	http         *http.Client
	limiter      *rate.Limiter
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit spaces outgoing requests; rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient builds a client. baseURL is either a printf template with one %s
// for the realm ("https://www.habbo.%s") or a fixed URL.
func NewClient(baseURL, defaultRealm string, timeout time.Duration, opts ...Option) *Client {
	if defaultRealm == "" {
		defaultRealm = "com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultRealm: defaultRealm,
		http:         &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) DefaultRealm() string { return c.defaultRealm }

func (c *Client) base(realm string) string {
	if realm == "" {
		realm = c.defaultRealm
	}
	if strings.Contains(c.baseURL, "%s") {
		return fmt.Sprintf(c.baseURL, realm)
	}
	return c.baseURL
}

// FetchProfile looks a user up by name. Any non-200 answer or transport
// failure is reported as ErrNotFound.
func (c *Client) FetchProfile(ctx context.Context, name, realm string) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrNotFound)
	}
	u := c.base(realm) + "/api/public/users?name=" + url.QueryEscape(name)
	var p Profile
	if err := c.getJSON(ctx, "profile", u, &p); err != nil {
		return nil, err
	}
	if p.UniqueID == "" {
		metrics.HabboRequests.WithLabelValues("profile", "empty").Inc()
		return nil, fmt.Errorf("%w: profile %q has no unique id", ErrNotFound, name)
	}
	return &p, nil
}

// FetchGroups returns the group ids of a user in API order.
func (c *Client) FetchGroups(ctx context.Context, uniqueID string) ([]string, error) {
	if uniqueID == "" {
		return nil, fmt.Errorf("%w: empty unique id", ErrNotFound)
	}
	u := c.base(c.defaultRealm) + "/api/public/users/" + url.PathEscape(uniqueID) + "/groups"
	var groups []Group
	if err := c.getJSON(ctx, "groups", u, &groups); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		if g.ID != "" {
			ids = append(ids, g.ID)
		}
	}
	return ids, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, u string, v any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.HabboRequests.WithLabelValues(endpoint, "error").Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", ErrNotFound, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.HabboRequests.WithLabelValues(endpoint, "status_"+fmt.Sprint(resp.StatusCode)).Inc()
		return fmt.Errorf("%w: %s returned %d", ErrNotFound, endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		metrics.HabboRequests.WithLabelValues(endpoint, "decode_error").Inc()
		return fmt.Errorf("%w: decode %s: %v", ErrNotFound, endpoint, err)
	}
	metrics.HabboRequests.WithLabelValues(endpoint, "ok").Inc()
	return nil
}

// AvatarURL is the imaging URL used for embed thumbnails.
func AvatarURL(name string) string {
	return "https://www.habbo.com/habbo-imaging/avatarimage?user=" + url.QueryEscape(name) +
		"&direction=3&head_direction=3&gesture=nor&action=wav&size=l"
}
