package models

// RawEvent is one provider record before parsing; its shape is provider specific
type RawEvent map[string]interface{}

// UpsertOutcome describes what an upsert did to the store
type UpsertOutcome string

const (
	OutcomeCreated   UpsertOutcome = "created"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)
