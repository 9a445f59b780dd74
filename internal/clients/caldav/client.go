package caldav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

var ErrNotConfigured = errors.New("caldav is not configured")

// Client publishes reminder events into one CalDAV calendar.
type Client struct {
	baseURL  string
	username string
	password string
	calendar string // absolute collection path or display name

	mu           sync.Mutex
	client       *caldav.Client
	calendarPath string
}

// NewClient creates a new CalDAV client
func NewClient(baseURL, username, password, calendar string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		calendar: calendar,
	}
}

// IsConfigured returns true if the client has a server to talk to
func (c *Client) IsConfigured() bool {
	return c != nil && c.baseURL != ""
}

// connect establishes connection to CalDAV server and resolves the calendar
func (c *Client) connect(ctx context.Context) (*caldav.Client, string, error) {
	if !c.IsConfigured() {
		return nil, "", ErrNotConfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.calendarPath != "" {
		return c.client, c.calendarPath, nil
	}

	if c.client == nil {
		httpClient := &http.Client{
			Transport: &basicAuthTransport{
				username: c.username,
				password: c.password,
			},
			Timeout: 30 * time.Second,
		}

		client, err := caldav.NewClient(httpClient, c.baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("connect to CalDAV: %w", err)
		}
		c.client = client
	}

	calPath, err := c.findCalendar(ctx, c.client)
	if err != nil {
		return nil, "", err
	}
	c.calendarPath = calPath
	return c.client, calPath, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// findCalendar accepts an absolute collection path as is and otherwise looks
// the calendar up by display name in the user's calendar home.
func (c *Client) findCalendar(ctx context.Context, client *caldav.Client) (string, error) {
	if strings.HasPrefix(c.calendar, "/") {
		return c.calendar, nil
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("find calendars: %w", err)
	}

	for _, cal := range cals {
		if strings.EqualFold(cal.Name, c.calendar) || path.Base(strings.TrimSuffix(cal.Path, "/")) == c.calendar {
			return cal.Path, nil
		}
	}
	return "", fmt.Errorf("calendar %q not found in %s", c.calendar, homeSet)
}

func objectPath(calendarPath, uid string) string {
	if !strings.HasSuffix(calendarPath, "/") {
		calendarPath += "/"
	}
	return calendarPath + uid + ".ics"
}

// PutEvent creates or replaces the event with ev.UID
func (c *Client) PutEvent(ctx context.Context, ev Event) error {
	client, calPath, err := c.connect(ctx)
	if err != nil {
		return err
	}

	cal := NewCalendar(time.Now(), ev)
	if _, err := client.PutCalendarObject(ctx, objectPath(calPath, ev.UID), cal); err != nil {
		return fmt.Errorf("put event %s: %w", ev.UID, err)
	}
	return nil
}

// DeleteEvent deletes an event by UID
func (c *Client) DeleteEvent(ctx context.Context, uid string) error {
	client, calPath, err := c.connect(ctx)
	if err != nil {
		return err
	}

	if err := client.RemoveAll(ctx, objectPath(calPath, uid)); err != nil {
		return fmt.Errorf("delete event %s: %w", uid, err)
	}
	return nil
}

// ListUIDs returns the UIDs of every event in the calendar
func (c *Client) ListUIDs(ctx context.Context) ([]string, error) {
	client, calPath, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:  ical.CompEvent,
				Props: []string{ical.PropUID},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompEvent}},
		},
	}

	objects, err := client.QueryCalendar(ctx, calPath, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	var uids []string
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, comp := range obj.Data.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			if prop := comp.Props.Get(ical.PropUID); prop != nil {
				uids = append(uids, prop.Value)
			}
			break // Only the first VEVENT carries the UID we set
		}
	}
	return uids, nil
}
