package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Correction is an append-only amendment of one field of a stored record.
type Correction struct {
	ID        string    `json:"id"`
	RecordID  string    `json:"record_id"`
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ApplyCorrections returns a copy of r with corrections overlaid in order.
// The stored record is left untouched.
func ApplyCorrections(r *NormalizedRecord, corrections []Correction) (*NormalizedRecord, error) {
	out := r.Clone()
	for _, c := range corrections {
		v, err := ParseFieldValue(c.Field, c.NewValue)
		if err != nil {
			return nil, eris.Wrapf(err, "model: apply correction %s", c.ID)
		}
		if err := out.set(c.Field, v); err != nil {
			return nil, eris.Wrapf(err, "model: apply correction %s", c.ID)
		}
	}
	return out, nil
}
