// Package models defines the core data structures for verabot.
//
// It includes webhook payload shapes, conversation and contact records,
// and the API response envelope shared across modules.
package models

import (
	"errors"
	"time"
)

// NamePlaceholder is the template token replaced with the captured user
// name at send time.
const NamePlaceholder = "[nome]"

// Error variables for better error handling and testability
var (
	ErrNoActiveConversation = errors.New("no active conversation for contact")
	ErrConversationExists   = errors.New("contact already has an active conversation")
)

// WebhookContact carries the sender fields the bot consumes from the
// ticket-system payload.
type WebhookContact struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Number    string `json:"number"`
	Email     string `json:"email,omitempty"`
	IsGroup   bool   `json:"isGroup"`
	Blacklist bool   `json:"blacklist"`
}

// WebhookTicket identifies the delivery channel the reply must go to.
type WebhookTicket struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	ContactID int64  `json:"contactId"`
	Protocol  string `json:"protocol,omitempty"`
}

// WebhookMessageData is one inbound chat message as delivered by the
// ticket system.
type WebhookMessageData struct {
	MessageID   string         `json:"messageId"`
	Body        string         `json:"body"`
	MediaType   string         `json:"mediaType"`
	MediaURL    string         `json:"mediaUrl,omitempty"`
	FromMe      bool           `json:"fromMe"`
	IsDeleted   bool           `json:"isDeleted"`
	IsForwarded bool           `json:"isForwarded"`
	TicketID    int64          `json:"ticketId"`
	ContactID   int64          `json:"contactId"`
	CreatedAt   string         `json:"createdAt,omitempty"`
	Contact     WebhookContact `json:"contact"`
	Ticket      WebhookTicket  `json:"ticket"`
}

// WebhookPayload is the envelope POSTed to the webhook endpoint.
type WebhookPayload struct {
	Data WebhookMessageData `json:"data"`
	Type string             `json:"type"`
}

// Turn is the debounced unit of processing handed to the flow engine:
// the last message of a contact's burst plus the addressing context.
type Turn struct {
	ContactID    int64
	TicketID     int64
	ContactName  string
	ContactPhone string
	Body         string
	MediaType    string
}

// TurnFromWebhook maps a webhook payload onto the engine's turn shape.
func TurnFromWebhook(p WebhookPayload) Turn {
	return Turn{
		ContactID:    p.Data.ContactID,
		TicketID:     p.Data.TicketID,
		ContactName:  p.Data.Contact.Name,
		ContactPhone: p.Data.Contact.Number,
		Body:         p.Data.Body,
		MediaType:    p.Data.MediaType,
	}
}

// DriveFolderRef records a provisioned client folder inside StepData.
type DriveFolderRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Link      string `json:"link"`
	CreatedAt string `json:"createdAt"`
}

// StepData is the scratch space a conversation accumulates across steps.
// Fields are only ever added or overwritten, never cleared mid-flow.
type StepData struct {
	UserName    string          `json:"userName,omitempty"`
	DriveFolder *DriveFolderRef `json:"driveFolder,omitempty"`
}

// IsZero reports whether no data has been captured yet.
func (d StepData) IsZero() bool {
	return d.UserName == "" && d.DriveFolder == nil
}

// Conversation is the flow state of one contact. At most one active
// conversation exists per contact; finalized rows are kept as history.
type Conversation struct {
	ID                 int64     `json:"id"`
	ContactID          int64     `json:"contact_id"`
	TicketID           int64     `json:"ticket_id"`
	ContactName        string    `json:"contact_name"`
	ContactPhone       string    `json:"contact_phone"`
	CurrentStep        StepID    `json:"current_step"`
	StepData           StepData  `json:"step_data"`
	LastMessage        string    `json:"last_message,omitempty"`
	IsActive           bool      `json:"is_active"`
	TransferredToHuman bool      `json:"transferred_to_human"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ContactFlags holds the per-contact bot switches maintained alongside
// conversations: bot paused, a human already attending, and the last
// message seen on the webhook.
type ContactFlags struct {
	ContactID      int64     `json:"contact_id"`
	Paused         bool      `json:"paused"`
	InHumanService bool      `json:"in_human_service"`
	LastMessage    string    `json:"last_message,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the JSON envelope returned by every HTTP endpoint.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
