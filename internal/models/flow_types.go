package models

// StepID identifies one node of the scripted dialogue graph.
type StepID string

// Step identifiers for the shipped conversation script.
const (
	StepWelcome        StepID = "welcome"
	StepAskName        StepID = "ask_name"
	StepConfirmName    StepID = "confirm_name"
	StepRequestProject StepID = "request_project"
	StepTransferHuman  StepID = "transfer_to_human"
	StepStoreAddress   StepID = "store_address"
)

// MessageKind classifies an inbound message by its webhook media type.
type MessageKind string

const (
	// MessageKindChat is plain text, the only kind accepted by capture steps.
	MessageKindChat MessageKind = "chat"
	// MessageKindMedia is an image/document/audio/video attachment.
	MessageKindMedia MessageKind = "media"
	// MessageKindOther is anything else (contacts, locations, unknown types).
	MessageKindOther MessageKind = "other"
)

// ValidationKind distinguishes the two warning budgets a contact holds.
type ValidationKind string

const (
	ValidationKindName   ValidationKind = "name"
	ValidationKindOption ValidationKind = "option"
)
