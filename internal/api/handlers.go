package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/cmmodulados/verabot/internal/messaging"
	"github.com/cmmodulados/verabot/internal/models"
)

// webhookHandler receives inbound message events from the ticket
// platform (POST /webhook). Bot echoes, deleted messages and
// blacklisted contacts are acknowledged but never processed; the
// allow-list gate applies after that. Accepted events are handed to the
// engine, which debounces and processes them asynchronously.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload models.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	data := payload.Data
	slog.Info("Server.webhookHandler: webhook received",
		"messageID", data.MessageID, "type", payload.Type, "contactID", data.ContactID,
		"ticketID", data.TicketID, "fromMe", data.FromMe, "mediaType", data.MediaType)

	switch {
	case data.FromMe:
		slog.Debug("Server.webhookHandler: ignoring own message", "messageID", data.MessageID)
	case data.IsDeleted:
		slog.Debug("Server.webhookHandler: ignoring deleted message", "messageID", data.MessageID)
	case data.Contact.Blacklist:
		slog.Debug("Server.webhookHandler: ignoring blacklisted contact", "contactID", data.ContactID)
	case !s.contactAllowed(data.ContactID):
		slog.Info("Server.webhookHandler: contact not in allow list", "contactID", data.ContactID)
	default:
		s.engine.HandleWebhook(r.Context(), payload)
	}

	// The platform expects a 200 even for skipped events, otherwise it
	// retries the delivery.
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Webhook processado com sucesso", nil))
}

// sendRequest is the body of POST /send.
type sendRequest struct {
	TicketID int64  `json:"ticketId"`
	Message  string `json:"message"`
}

// sendHandler delivers an arbitrary message to a ticket (POST /send),
// used by operators to inject a reply outside the scripted flow.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.sendHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.TicketID == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: ticketId"))
		return
	}
	if req.Message == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: message"))
		return
	}

	err := s.notifier.Send(r.Context(), messaging.Destination{TicketID: req.TicketID}, req.Message)
	if err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "ticketID", req.TicketID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}

	slog.Info("Server.sendHandler: message sent successfully", "ticketID", req.TicketID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", nil))
}

// stepListing is one entry of GET /messages.
type stepListing struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Preview     string `json:"preview"`
	FullMessage string `json:"fullMessage"`
}

// messagesHandler lists the script's step messages (GET /messages) so
// operators can review the copy without reading the source.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.messagesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	steps := s.def.Steps()
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })

	listings := make([]stepListing, 0, len(steps))
	for _, step := range steps {
		listings = append(listings, stepListing{
			ID:          string(step.ID),
			Title:       step.Title,
			Preview:     step.Preview(100),
			FullMessage: step.Message,
		})
	}

	slog.Debug("Server.messagesHandler: steps listed", "count", len(listings))
	writeJSONResponse(w, http.StatusOK, models.Success(listings))
}

// conversationsHandler lists all conversations, newest first
// (GET /conversations).
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.conversationsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversations, err := s.st.ListConversations()
	if err != nil {
		slog.Error("Server.conversationsHandler: failed to list conversations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversations"))
		return
	}

	slog.Debug("Server.conversationsHandler: conversations fetched", "count", len(conversations))
	writeJSONResponse(w, http.StatusOK, models.Success(conversations))
}

// healthHandler provides a health check endpoint for monitoring and load
// balancing (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	// The store is the only hard dependency worth probing; a failed
	// listing marks the instance degraded.
	statusCode := http.StatusOK
	if _, err := s.st.ListConversations(); err != nil {
		slog.Warn("Server.healthHandler: store probe failed", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to reach conversation store"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, healthData)
}
