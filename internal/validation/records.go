package validation

import (
	"github.com/hyperengineering/shiftq/internal/backend"
	"github.com/hyperengineering/shiftq/internal/queue"
)

// Limits enforced by the audit endpoint.
const (
	MaxAuditEntityIDLength = 120
	MaxAuditMetadataLength = 2000
	MaxDescriptionLength   = 2000
)

// ValidateAuditRecord checks rec against the audit endpoint's constraints.
func ValidateAuditRecord(rec backend.AuditRecord) error {
	var c Collector
	c.Add(ValidateRequired("action", rec.Action))
	c.Add(ValidateRequired("entityType", rec.EntityType))
	c.Add(ValidateMaxLength("entityId", rec.EntityID, MaxAuditEntityIDLength))
	c.Add(ValidateMaxLength("metadata", rec.Metadata, MaxAuditMetadataLength))
	c.Add(ValidateNoNullBytes("metadata", rec.Metadata))
	return c.Err()
}

// ValidateAction checks a typed operation payload before it is queued.
// Shift identifiers are accepted in any non-empty form so queues written by
// older clients keep replaying.
func ValidateAction(a queue.Action) error {
	var c Collector
	switch v := a.(type) {
	case queue.Incident:
		validateLocation(&c, v.Lat, v.Lng)
		c.Add(ValidateRequired("incidentType", v.IncidentType))
		validateText(&c, "description", v.Description)
		c.Add(ValidateTimestamp("reportedAt", v.ReportedAt))
	case queue.ScheduledEvent:
		validateLocation(&c, v.Lat, v.Lng)
		c.Add(ValidateRequired("blitzType", v.BlitzType))
		validateText(&c, "description", v.Description)
	case queue.ShiftStart:
		c.Add(ValidateTimestamp("startedAt", v.StartedAt))
		c.Add(ValidateRequired("localId", v.LocalID))
	case queue.ShiftEnd:
		c.Add(ValidateTimestamp("startedAt", v.StartedAt))
		c.Add(ValidateTimestamp("endedAt", v.EndedAt))
		c.Add(ValidateRequired("localId", v.LocalID))
		if v.EndedAt > 0 && v.EndedAt < v.StartedAt {
			c.Add(&ValidationError{Field: "endedAt", Message: "must not be before startedAt"})
		}
	}
	return c.Err()
}

func validateLocation(c *Collector, lat, lng float64) {
	c.Add(ValidateRange("lat", lat, -90, 90))
	c.Add(ValidateRange("lng", lng, -180, 180))
}

func validateText(c *Collector, field, value string) {
	c.Add(ValidateUTF8(field, value))
	c.Add(ValidateNoNullBytes(field, value))
	c.Add(ValidateMaxLength(field, value, MaxDescriptionLength))
}
