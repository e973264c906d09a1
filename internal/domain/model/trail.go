package model

import "time"

// DayBucketLayout is the calendar-date format used for day buckets.
const DayBucketLayout = "2006-01-02"

// TrailPoint is one recorded position of a member on a given day.
type TrailPoint struct {
	ID        string    `json:"id"`
	MemberID  string    `json:"member_id"`
	CrewID    string    `json:"crew_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	DayBucket string    `json:"day_marker"`
}

// DayBucket returns the calendar date of t in loc. A nil loc means time.Local.
func DayBucket(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DayBucketLayout)
}
