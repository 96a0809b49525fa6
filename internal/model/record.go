package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/Faultbox/bimview/internal/props"
)

// Status is the maintenance condition of an element.
type Status string

const (
	StatusGood     Status = "good"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusGood, StatusWarning, StatusCritical, StatusUnknown:
		return true
	}
	return false
}

// Next cycles good, warning, critical, unknown.
func (s Status) Next() Status {
	switch s {
	case StatusGood:
		return StatusWarning
	case StatusWarning:
		return StatusCritical
	case StatusCritical:
		return StatusUnknown
	default:
		return StatusGood
	}
}

// ParseStatus maps a raw value to a status, defaulting to unknown.
func ParseStatus(v string) Status {
	if s := Status(v); s.Valid() {
		return s
	}
	return StatusUnknown
}

// ElementRecord is the UI-facing view of one element.
type ElementRecord struct {
	ElementID        string
	DisplayName      string
	ElementType      string
	Properties       []props.Entry
	Status           Status
	MaintenanceNotes string
	LastInspection   *time.Time
	NextInspection   *time.Time
}

// Clone returns a copy that shares no mutable state with r.
func (r *ElementRecord) Clone() *ElementRecord {
	c := *r
	c.Properties = slices.Clone(r.Properties)
	c.LastInspection = cloneTime(r.LastInspection)
	c.NextInspection = cloneTime(r.NextInspection)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Patch is a user edit of an element. Nil fields are left unchanged.
type Patch struct {
	Status           *Status
	MaintenanceNotes *string
	LastInspection   *time.Time
	NextInspection   *time.Time
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && p.MaintenanceNotes == nil && p.LastInspection == nil && p.NextInspection == nil
}

// Validate checks the status value.
func (p Patch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidPatch, *p.Status)
	}
	return nil
}

// Merge returns p overlaid with the non-nil fields of q.
func (p Patch) Merge(q Patch) Patch {
	if q.Status != nil {
		p.Status = q.Status
	}
	if q.MaintenanceNotes != nil {
		p.MaintenanceNotes = q.MaintenanceNotes
	}
	if q.LastInspection != nil {
		p.LastInspection = q.LastInspection
	}
	if q.NextInspection != nil {
		p.NextInspection = q.NextInspection
	}
	return p
}

// Apply writes the patch fields into r.
func (p Patch) Apply(r *ElementRecord) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.MaintenanceNotes != nil {
		r.MaintenanceNotes = *p.MaintenanceNotes
	}
	if p.LastInspection != nil {
		r.LastInspection = cloneTime(p.LastInspection)
	}
	if p.NextInspection != nil {
		r.NextInspection = cloneTime(p.NextInspection)
	}
}

// newRecord derives a record from an element's raw extras.
func newRecord(el *element) *ElementRecord {
	rec := &ElementRecord{
		ElementID:   el.id,
		DisplayName: el.id,
		ElementType: "unknown",
		Status:      StatusUnknown,
	}
	if el.nodeName != "" {
		rec.DisplayName = el.nodeName
	}
	bag := el.extras
	if bag == nil {
		return rec
	}

	if s, ok := stringField(bag, "Name", "name"); ok {
		rec.DisplayName = s
	}
	if s, ok := stringField(bag, "type", "ifcType", "IfcType"); ok {
		rec.ElementType = s
	}
	if s, ok := stringField(bag, "status"); ok {
		rec.Status = ParseStatus(s)
	}
	if s, ok := stringField(bag, "maintenanceNotes", "maintenance_notes"); ok {
		rec.MaintenanceNotes = s
	}
	if s, ok := stringField(bag, "lastInspection", "last_inspection"); ok {
		rec.LastInspection = parseDate(s)
	}
	if s, ok := stringField(bag, "nextInspection", "next_inspection"); ok {
		rec.NextInspection = parseDate(s)
	}

	if nested, ok := bag.ValueByKeyTry("properties"); ok {
		if pb, ok := nested.(*props.Bag); ok {
			rec.Properties = props.Normalize(pb)
			return rec
		}
	}
	rec.Properties = props.Normalize(bag)
	return rec
}

func stringField(bag *props.Bag, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := bag.ValueByKeyTry(k); ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func parseDate(s string) *time.Time {
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
