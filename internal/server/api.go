package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"courier/internal/dispatch"
	"courier/internal/domain"
)

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	defer r.Body.Close()
	return json.Unmarshal(body, v)
}

func (s *Server) handleSendMessage(rw http.ResponseWriter, r *http.Request) {
	var req dispatch.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	result, err := s.dispatcher.Send(r.Context(), req)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, result)
}

func (s *Server) handleStartConversation(rw http.ResponseWriter, r *http.Request) {
	var req dispatch.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	result, err := s.dispatcher.StartConversation(r.Context(), req)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, result)
}

type conversationResponse struct {
	ConversationID string            `json:"conversation_id"`
	ContactID      string            `json:"contact_id"`
	Channel        string            `json:"channel"`
	Status         string            `json:"status"`
	CurrentState   string            `json:"current_state"`
	ContextType    string            `json:"context_type"`
	ContextID      string            `json:"context_id"`
	ContextData    map[string]any    `json:"context_data,omitempty"`
	TimeoutMinutes int               `json:"timeout_minutes"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	CreatedAt      time.Time         `json:"created_at"`
	Messages       []messageResponse `json:"messages"`
}

type messageResponse struct {
	MessageID        string     `json:"message_id"`
	Direction        string     `json:"direction"`
	Body             string     `json:"body"`
	Status           string     `json:"status"`
	ChannelMessageID string     `json:"channel_message_id,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	ReadAt           *time.Time `json:"read_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (s *Server) handleGetConversation(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := s.store.GetConversation(r.Context(), id)
	if err != nil {
		s.writeError(rw, err)
		return
	}

	msgs, err := s.store.ListConversationMessages(r.Context(), id)
	if err != nil {
		s.writeError(rw, err)
		return
	}

	resp := conversationResponse{
		ConversationID: conv.ID,
		ContactID:      conv.ContactID,
		Channel:        conv.Channel,
		Status:         string(conv.Status),
		CurrentState:   conv.CurrentState,
		ContextType:    conv.ContextType,
		ContextID:      conv.ContextID,
		ContextData:    conv.ContextData,
		TimeoutMinutes: conv.TimeoutMinutes,
		LastActivityAt: conv.LastActivityAt,
		CreatedAt:      conv.CreatedAt,
		Messages:       make([]messageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageResponse{
			MessageID:        m.ID,
			Direction:        string(m.Direction),
			Body:             m.Body,
			Status:           string(m.Status),
			ChannelMessageID: m.ChannelMessageID,
			ErrorMessage:     m.ErrorMessage,
			SentAt:           m.SentAt,
			DeliveredAt:      m.DeliveredAt,
			ReadAt:           m.ReadAt,
			CreatedAt:        m.CreatedAt,
		})
	}

	writeJSON(rw, http.StatusOK, resp)
}

type consentRequest struct {
	ContactID     string     `json:"contact_id"`
	Channel       string     `json:"channel,omitempty"`
	ConsentType   string     `json:"consent_type"`
	ConsentSource string     `json:"consent_source"`
	ConsentedAt   *time.Time `json:"consented_at"`
	IPAddress     string     `json:"ip_address,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

type consentResponse struct {
	ID            string    `json:"id"`
	ContactID     string    `json:"contact_id"`
	Channel       string    `json:"channel"`
	ConsentType   string    `json:"consent_type"`
	ConsentSource string    `json:"consent_source"`
	ConsentedAt   time.Time `json:"consented_at"`
	IPAddress     string    `json:"ip_address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// handleRecordConsent appends one consent audit record for a contact. It is
// an audit trail only; opt-out enforcement stays with the inbound processor.
func (s *Server) handleRecordConsent(rw http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	fields := map[string]string{}
	if req.ContactID == "" {
		fields["contact_id"] = "required"
	}
	if !domain.ValidConsentType(req.ConsentType) {
		fields["consent_type"] = "must be one of: opt_in, opt_out, revoked"
	}
	if !domain.ValidConsentSource(req.ConsentSource) {
		fields["consent_source"] = "must be one of: web_form, whatsapp_reply, api, manual"
	}
	if req.ConsentedAt == nil {
		fields["consented_at"] = "required"
	}
	if len(fields) > 0 {
		s.writeError(rw, &domain.ValidationError{Fields: fields})
		return
	}

	if _, err := s.store.GetContact(r.Context(), req.ContactID); err != nil {
		if err == domain.ErrNotFound {
			s.writeError(rw, &domain.ValidationError{Fields: map[string]string{
				"contact_id": "contact not found",
			}})
			return
		}
		s.writeError(rw, err)
		return
	}

	consent := domain.Consent{
		ID:            uuid.NewString(),
		ContactID:     req.ContactID,
		Channel:       req.Channel,
		ConsentType:   req.ConsentType,
		ConsentSource: req.ConsentSource,
		ConsentedAt:   req.ConsentedAt.UTC(),
		IPAddress:     req.IPAddress,
		Notes:         req.Notes,
		CreatedAt:     time.Now().UTC(),
	}
	if consent.Channel == "" {
		consent.Channel = domain.ChannelWhatsApp
	}
	if err := s.store.CreateConsent(r.Context(), consent); err != nil {
		s.writeError(rw, err)
		return
	}

	writeJSON(rw, http.StatusCreated, consentResponse{
		ID:            consent.ID,
		ContactID:     consent.ContactID,
		Channel:       consent.Channel,
		ConsentType:   consent.ConsentType,
		ConsentSource: consent.ConsentSource,
		ConsentedAt:   consent.ConsentedAt,
		IPAddress:     consent.IPAddress,
		CreatedAt:     consent.CreatedAt,
	})
}

type contactRequest struct {
	TeamID           string `json:"hub_team_id"`
	ClientID         string `json:"hub_client_id"`
	ContactType      string `json:"contact_type,omitempty"`
	Phone            string `json:"phone,omitempty"`
	TelegramChatID   string `json:"telegram_chat_id,omitempty"`
	DisplayName      string `json:"display_name,omitempty"`
	PreferredChannel string `json:"preferred_channel,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
}

type contactResponse struct {
	ContactID        string `json:"contact_id"`
	TeamID           string `json:"hub_team_id"`
	ClientID         string `json:"hub_client_id"`
	ContactType      string `json:"contact_type"`
	Phone            string `json:"phone,omitempty"`
	TelegramChatID   string `json:"telegram_chat_id,omitempty"`
	DisplayName      string `json:"display_name,omitempty"`
	PreferredChannel string `json:"preferred_channel"`
	Timezone         string `json:"timezone,omitempty"`
	Active           bool   `json:"active"`
	Created          bool   `json:"created"`
}

// handleUpsertContact creates or updates the contact identified by its Hub
// ids. Re-registering an opted-out contact reactivates it; Hub is the
// authority on consent.
func (s *Server) handleUpsertContact(rw http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	fields := map[string]string{}
	if req.TeamID == "" {
		fields["hub_team_id"] = "required"
	}
	if req.Phone == "" && req.TelegramChatID == "" {
		fields["phone"] = "phone or telegram_chat_id is required"
	}
	if len(fields) > 0 {
		s.writeError(rw, &domain.ValidationError{Fields: fields})
		return
	}

	if req.ContactType == "" {
		req.ContactType = "client"
	}
	if req.PreferredChannel == "" {
		if req.Phone != "" {
			req.PreferredChannel = domain.ChannelWhatsApp
		} else {
			req.PreferredChannel = domain.ChannelTelegram
		}
	}

	existing, err := s.store.FindContactByHubIDs(r.Context(), req.TeamID, req.ClientID, req.ContactType)
	if err != nil && err != domain.ErrNotFound {
		s.writeError(rw, err)
		return
	}

	var contact domain.Contact
	created := existing == nil
	if created {
		contact = domain.Contact{
			ID:               uuid.NewString(),
			TeamID:           req.TeamID,
			ClientID:         req.ClientID,
			ContactType:      req.ContactType,
			PhoneE164:        req.Phone,
			TelegramChatID:   req.TelegramChatID,
			DisplayName:      req.DisplayName,
			PreferredChannel: req.PreferredChannel,
			Timezone:         req.Timezone,
			Active:           true,
		}
		if err := s.store.CreateContact(r.Context(), contact); err != nil {
			s.writeError(rw, err)
			return
		}
	} else {
		contact = *existing
		contact.PhoneE164 = req.Phone
		contact.TelegramChatID = req.TelegramChatID
		contact.DisplayName = req.DisplayName
		contact.PreferredChannel = req.PreferredChannel
		contact.Timezone = req.Timezone
		contact.Active = true
		if err := s.store.UpdateContact(r.Context(), contact); err != nil {
			s.writeError(rw, err)
			return
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(rw, status, contactResponse{
		ContactID:        contact.ID,
		TeamID:           contact.TeamID,
		ClientID:         contact.ClientID,
		ContactType:      contact.ContactType,
		Phone:            contact.PhoneE164,
		TelegramChatID:   contact.TelegramChatID,
		DisplayName:      contact.DisplayName,
		PreferredChannel: contact.PreferredChannel,
		Timezone:         contact.Timezone,
		Active:           contact.Active,
		Created:          created,
	})
}
