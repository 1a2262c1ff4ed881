package caldav

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

const (
	// Apple iCloud CalDAV endpoint
	DefaultiCloudURL = "https://caldav.icloud.com"

	productID = "-//ExamTracker//CalDAV//EN"
)

// Client is a CalDAV client bound to one calendar
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string
	client       *caldav.Client
}

// NewClient creates a new CalDAV client
func NewClient(baseURL, username, password, calendarPath string) *Client {
	if baseURL == "" {
		baseURL = DefaultiCloudURL
	}
	return &Client{
		baseURL:      baseURL,
		username:     username,
		password:     password,
		calendarPath: calendarPath,
	}
}

// IsConfigured returns true if the client has credentials and a calendar
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != "" && c.calendarPath != ""
}

// connect establishes connection to CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
		},
		Timeout: 30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendars returns all calendars for the user
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var result []Calendar
	for _, cal := range cals {
		result = append(result, Calendar{
			ID:          cal.Path,
			DisplayName: cal.Name,
			URL:         cal.Path,
		})
	}

	return result, nil
}

// GetEvents returns events starting in [from, to)
func (c *Client) GetEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{
				{
					Name:  ical.CompEvent,
					Start: from,
					End:   to,
				},
			},
		},
	}

	objects, err := client.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	var events []Event
	for _, obj := range objects {
		event, err := parseCalendarObject(&obj)
		if err != nil {
			continue // Skip invalid events
		}
		events = append(events, event)
	}

	return events, nil
}

// PutEvent creates the event or replaces the one with the same UID
func (c *Client) PutEvent(ctx context.Context, event *Event) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	if event.UID == "" {
		return fmt.Errorf("event UID is required")
	}

	_, err = client.PutCalendarObject(ctx, c.eventPath(event.UID), EventToICS(event))
	if err != nil {
		return fmt.Errorf("put event: %w", err)
	}

	return nil
}

// DeleteEvent deletes an event by UID
func (c *Client) DeleteEvent(ctx context.Context, eventUID string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}

	if err := client.RemoveAll(ctx, c.eventPath(eventUID)); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}

	return nil
}

func (c *Client) eventPath(uid string) string {
	path := c.calendarPath
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path + uid + ".ics"
}

// parseCalendarObject parses a CalDAV object into an Event
func parseCalendarObject(obj *caldav.CalendarObject) (Event, error) {
	if obj.Data == nil {
		return Event{}, fmt.Errorf("no data in calendar object")
	}
	return ParseCalendar(obj.Data)
}

// ParseCalendar reads the first VEVENT of a calendar
func ParseCalendar(cal *ical.Calendar) (Event, error) {
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}

		event := Event{Extra: make(map[string]string)}

		if prop := comp.Props.Get(ical.PropUID); prop != nil {
			event.UID = prop.Value
		}
		if prop := comp.Props.Get(ical.PropSummary); prop != nil {
			event.Summary, _ = prop.Text()
		}
		if prop := comp.Props.Get(ical.PropDescription); prop != nil {
			event.Description, _ = prop.Text()
		}
		if prop := comp.Props.Get(ical.PropDateTimeStart); prop != nil {
			if t, err := prop.DateTime(time.UTC); err == nil {
				event.StartTime = t
			}
		}
		if prop := comp.Props.Get(ical.PropDateTimeEnd); prop != nil {
			if t, err := prop.DateTime(time.UTC); err == nil {
				event.EndTime = t
			}
		}

		for name, props := range comp.Props {
			if strings.HasPrefix(strings.ToUpper(name), "X-") && len(props) > 0 {
				value, err := props[0].Text()
				if err != nil {
					value = props[0].Value
				}
				event.Extra[strings.ToUpper(name)] = value
			}
		}

		return event, nil
	}

	return Event{}, fmt.Errorf("no VEVENT in calendar")
}

// EventToICS converts an Event to iCalendar format
func EventToICS(event *Event) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, event.UID)
	vevent.Props.SetText(ical.PropSummary, event.Summary)
	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}

	// UTC avoids VTIMEZONE handling
	vevent.Props.SetDateTime(ical.PropDateTimeStart, event.StartTime.UTC())
	if !event.EndTime.IsZero() {
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, event.EndTime.UTC())
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())

	for name, value := range event.Extra {
		vevent.Props.SetText(strings.ToUpper(name), value)
	}

	for _, r := range event.Reminders {
		alarm := ical.NewComponent(ical.CompAlarm)
		alarm.Props.SetText(ical.PropAction, "DISPLAY")
		alarm.Props.SetText(ical.PropDescription, event.Summary)

		trigger := ical.NewProp(ical.PropTrigger)
		trigger.SetValueType(ical.ValueDuration)
		trigger.Value = fmt.Sprintf("-PT%dM", r.MinutesBefore)
		alarm.Props.Set(trigger)

		vevent.Children = append(vevent.Children, alarm)
	}

	cal.Children = append(cal.Children, vevent.Component)
	return cal
}

// SerializeCalendar converts calendar to string (for debugging)
func SerializeCalendar(cal *ical.Calendar) string {
	var buf bytes.Buffer
	enc := ical.NewEncoder(&buf)
	_ = enc.Encode(cal)
	return buf.String()
}
