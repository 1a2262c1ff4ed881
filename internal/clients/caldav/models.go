package caldav

import "time"

// Calendar represents a CalDAV calendar
type Calendar struct {
	ID          string // Calendar path/URL
	DisplayName string
	URL         string
}

// Event represents a calendar event
type Event struct {
	UID         string // Unique ID in CalDAV
	Summary     string // Title
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Reminders   []Reminder
	// Extra holds X- properties, keyed by upper-case name
	Extra map[string]string
}

// Reminder is a display alarm on an event
type Reminder struct {
	MinutesBefore int
}
