package domain

// AuditEntry is the core's only write obligation to the external audit sink:
// one entry per state transition. Storage and delivery mechanics belong to
// the sink, not this core.
type AuditEntry struct {
	Entity      string `json:"entity"`
	EntityID    string `json:"entity_id"`
	OldValue    string `json:"old_value"`
	NewValue    string `json:"new_value"`
	Description string `json:"description"`
}
