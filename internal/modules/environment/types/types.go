package types

import "time"

// Reading is one environmental sample. Readings are never mutated after they are stored.
type Reading struct {
	ID                 string    `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	TemperatureCelsius *float64  `json:"temperatureCelsius"`
	HumidityPercent    *int      `json:"humidityPercent"`
	Sensor             string    `json:"sensor"`
	Device             string    `json:"device"`
	Location           string    `json:"location"`
	DataSource         string    `json:"dataSource"`
}

// Clone returns a copy that shares no pointers with r.
func (r Reading) Clone() Reading {
	out := r
	if r.TemperatureCelsius != nil {
		v := *r.TemperatureCelsius
		out.TemperatureCelsius = &v
	}
	if r.HumidityPercent != nil {
		v := *r.HumidityPercent
		out.HumidityPercent = &v
	}
	return out
}

// Equal reports whether r and o hold the same values.
func (r Reading) Equal(o Reading) bool {
	if r.ID != o.ID || !r.Timestamp.Equal(o.Timestamp) {
		return false
	}
	if r.Sensor != o.Sensor || r.Device != o.Device || r.Location != o.Location || r.DataSource != o.DataSource {
		return false
	}
	if (r.TemperatureCelsius == nil) != (o.TemperatureCelsius == nil) {
		return false
	}
	if r.TemperatureCelsius != nil && *r.TemperatureCelsius != *o.TemperatureCelsius {
		return false
	}
	if (r.HumidityPercent == nil) != (o.HumidityPercent == nil) {
		return false
	}
	return r.HumidityPercent == nil || *r.HumidityPercent == *o.HumidityPercent
}

// NewerThan orders readings most recent first; equal timestamps fall back to ID descending.
func NewerThan(a, b Reading) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}
