package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of caller roles.
type Role string

const (
	RoleRider  Role = "RIDER"
	RoleDriver Role = "DRIVER"
	RoleAdmin  Role = "ADMIN"
)

// ParseRole accepts the canonical names case-insensitively. The legacy
// "USER" role maps to RoleRider.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RIDER", "USER":
		return RoleRider, nil
	case "DRIVER":
		return RoleDriver, nil
	case "ADMIN":
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	return r == RoleRider || r == RoleDriver || r == RoleAdmin
}

// Period is one of the two daily attendance windows.
type Period string

const (
	PeriodMorning Period = "morning"
	PeriodEvening Period = "evening"
)

func ParsePeriod(s string) (Period, error) {
	switch Period(strings.ToLower(strings.TrimSpace(s))) {
	case PeriodMorning:
		return PeriodMorning, nil
	case PeriodEvening:
		return PeriodEvening, nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// AttendanceStatus is a rider's answer for one period.
type AttendanceStatus string

const (
	StatusJoining    AttendanceStatus = "joining"
	StatusNotJoining AttendanceStatus = "not_joining"
)

func ParseStatus(s string) (AttendanceStatus, error) {
	switch AttendanceStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusJoining:
		return StatusJoining, nil
	case StatusNotJoining:
		return StatusNotJoining, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// DateLayout is the wire and storage format of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar day without time of day, kept in DateLayout.
type Date string

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(t.Format(DateLayout)), nil
}

func (d Date) String() string { return string(d) }

type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	Phone        string `json:"phone,omitempty"`
	Department   string `json:"department,omitempty"`
	PasswordHash string `json:"-"`

	MorningStatus          *AttendanceStatus `json:"morningStatus,omitempty"`
	EveningStatus          *AttendanceStatus `json:"eveningStatus,omitempty"`
	MorningStatusUpdatedAt *time.Time        `json:"morningStatusUpdatedAt,omitempty"`
	EveningStatusUpdatedAt *time.Time        `json:"eveningStatusUpdatedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Plate    string  `json:"plate"`
	Route    string  `json:"route,omitempty"`
	DriverID *string `json:"driverId"`

	CreatedAt time.Time `json:"createdAt"`
}

// HasDriver reports whether id is the configured driver of s.
func (s Service) HasDriver(id string) bool {
	return s.DriverID != nil && *s.DriverID == id
}

type Attendance struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Date      Date             `json:"date"`
	Period    Period           `json:"period"`
	Status    AttendanceStatus `json:"status"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// ColleagueStatus is one row of a home-service attendance roster.
// UpdatedAt is nil when the colleague has not reported for the period.
type ColleagueStatus struct {
	UserID    string           `json:"id"`
	Name      string           `json:"name"`
	Role      Role             `json:"role"`
	Status    AttendanceStatus `json:"status"`
	UpdatedAt *time.Time       `json:"updatedAt"`
}

type Coord struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Valid reports whether c is a point on the globe.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

type Location struct {
	DriverID  string    `json:"driverId"`
	Coord
	UpdatedAt time.Time `json:"updatedAt"`
}

type Message struct {
	ID         string    `json:"id"`
	ServiceID  string    `json:"serviceId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"sender"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}
