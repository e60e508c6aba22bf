// Package store provides the SQLite implementation of domain.Store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"courier/internal/domain"
)

// SQLiteStore implements domain.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		id                TEXT PRIMARY KEY,
		team_id           TEXT NOT NULL,
		client_id         TEXT NOT NULL DEFAULT '',
		contact_type      TEXT NOT NULL DEFAULT 'client',
		phone_e164        TEXT NOT NULL DEFAULT '',
		telegram_chat_id  TEXT NOT NULL DEFAULT '',
		display_name      TEXT NOT NULL DEFAULT '',
		preferred_channel TEXT NOT NULL DEFAULT 'whatsapp',
		timezone          TEXT NOT NULL DEFAULT '',
		active            INTEGER NOT NULL DEFAULT 1,
		created_at        DATETIME NOT NULL,
		updated_at        DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_hub
		ON contacts(team_id, client_id, contact_type);
	CREATE INDEX IF NOT EXISTS idx_contacts_phone ON contacts(phone_e164);
	CREATE INDEX IF NOT EXISTS idx_contacts_chat ON contacts(telegram_chat_id);

	CREATE TABLE IF NOT EXISTS consents (
		id             TEXT PRIMARY KEY,
		contact_id     TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
		channel        TEXT NOT NULL DEFAULT 'whatsapp',
		consent_type   TEXT NOT NULL,
		consent_source TEXT NOT NULL,
		consented_at   DATETIME NOT NULL,
		ip_address     TEXT NOT NULL DEFAULT '',
		notes          TEXT NOT NULL DEFAULT '',
		created_at     DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_consents_contact ON consents(contact_id, consented_at);

	CREATE TABLE IF NOT EXISTS conversations (
		id               TEXT PRIMARY KEY,
		contact_id       TEXT NOT NULL REFERENCES contacts(id),
		channel          TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'active',
		current_state    TEXT NOT NULL DEFAULT 'initial',
		context_type     TEXT NOT NULL DEFAULT '',
		context_id       TEXT NOT NULL DEFAULT '',
		context_data     TEXT NOT NULL DEFAULT '{}',
		timeout_minutes  INTEGER NOT NULL DEFAULT 1440,
		last_activity_at DATETIME NOT NULL,
		created_at       DATETIME NOT NULL,
		updated_at       DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_live
		ON conversations(contact_id, status, created_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_context ON conversations(context_id);

	CREATE TABLE IF NOT EXISTS messages (
		id                 TEXT PRIMARY KEY,
		conversation_id    TEXT REFERENCES conversations(id) ON DELETE CASCADE,
		direction          TEXT NOT NULL,
		body               TEXT NOT NULL DEFAULT '',
		channel_message_id TEXT NOT NULL DEFAULT '',
		template_name      TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL DEFAULT 'queued',
		error_message      TEXT NOT NULL DEFAULT '',
		sent_at            DATETIME,
		delivered_at       DATETIME,
		read_at            DATETIME,
		created_at         DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_channel_id
		ON messages(channel_message_id) WHERE channel_message_id != '';
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Contacts ---

func (s *SQLiteStore) CreateContact(ctx context.Context, c domain.Contact) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	if c.ContactType == "" {
		c.ContactType = "client"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, team_id, client_id, contact_type, phone_e164, telegram_chat_id,
		 display_name, preferred_channel, timezone, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TeamID, c.ClientID, c.ContactType, c.PhoneE164, c.TelegramChatID,
		c.DisplayName, c.PreferredChannel, c.Timezone, boolToInt(c.Active), c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) UpdateContact(ctx context.Context, c domain.Contact) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET phone_e164=?, telegram_chat_id=?, display_name=?,
		 preferred_channel=?, timezone=?, active=?, updated_at=? WHERE id=?`,
		c.PhoneE164, c.TelegramChatID, c.DisplayName,
		c.PreferredChannel, c.Timezone, boolToInt(c.Active), time.Now().UTC(), c.ID,
	)
	return err
}

const contactColumns = `id, team_id, client_id, contact_type, phone_e164, telegram_chat_id,
	display_name, preferred_channel, timezone, active, created_at, updated_at`

func (s *SQLiteStore) scanContact(row *sql.Row) (*domain.Contact, error) {
	var c domain.Contact
	var active int
	err := row.Scan(&c.ID, &c.TeamID, &c.ClientID, &c.ContactType, &c.PhoneE164, &c.TelegramChatID,
		&c.DisplayName, &c.PreferredChannel, &c.Timezone, &active, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Active = active != 0
	return &c, nil
}

func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	return s.scanContact(s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id))
}

func (s *SQLiteStore) FindContactByHubIDs(ctx context.Context, teamID, clientID, contactType string) (*domain.Contact, error) {
	return s.scanContact(s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts
		 WHERE team_id = ? AND client_id = ? AND contact_type = ?`,
		teamID, clientID, contactType))
}

func (s *SQLiteStore) FindContactByPhone(ctx context.Context, phone string) (*domain.Contact, error) {
	return s.scanContact(s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE phone_e164 = ?`, phone))
}

func (s *SQLiteStore) FindContactByTelegramChatID(ctx context.Context, chatID string) (*domain.Contact, error) {
	return s.scanContact(s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE telegram_chat_id = ? AND telegram_chat_id != ''`, chatID))
}

func (s *SQLiteStore) DeactivateContact(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET active = 0, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// --- Consents ---

func (s *SQLiteStore) CreateConsent(ctx context.Context, c domain.Consent) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Channel == "" {
		c.Channel = domain.ChannelWhatsApp
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consents (id, contact_id, channel, consent_type, consent_source,
		 consented_at, ip_address, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ContactID, c.Channel, c.ConsentType, c.ConsentSource,
		c.ConsentedAt, c.IPAddress, c.Notes, c.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) ListContactConsents(ctx context.Context, contactID string) ([]domain.Consent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contact_id, channel, consent_type, consent_source,
		 consented_at, ip_address, notes, created_at
		 FROM consents WHERE contact_id = ? ORDER BY consented_at DESC`, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var consents []domain.Consent
	for rows.Next() {
		var c domain.Consent
		if err := rows.Scan(&c.ID, &c.ContactID, &c.Channel, &c.ConsentType, &c.ConsentSource,
			&c.ConsentedAt, &c.IPAddress, &c.Notes, &c.CreatedAt); err != nil {
			return nil, err
		}
		consents = append(consents, c)
	}
	return consents, rows.Err()
}

// --- Conversations ---

func (s *SQLiteStore) CreateConversation(ctx context.Context, c domain.Conversation) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = now
	}
	data, err := json.Marshal(orEmpty(c.ContextData))
	if err != nil {
		return fmt.Errorf("marshal context data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, contact_id, channel, status, current_state, context_type,
		 context_id, context_data, timeout_minutes, last_activity_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ContactID, c.Channel, string(c.Status), c.CurrentState, c.ContextType,
		c.ContextID, string(data), c.TimeoutMinutes, c.LastActivityAt, c.CreatedAt, now,
	)
	return err
}

const conversationColumns = `id, contact_id, channel, status, current_state, context_type,
	context_id, context_data, timeout_minutes, last_activity_at, created_at, updated_at`

func scanConversation(scan func(dest ...any) error) (*domain.Conversation, error) {
	var c domain.Conversation
	var status, data string
	err := scan(&c.ID, &c.ContactID, &c.Channel, &status, &c.CurrentState, &c.ContextType,
		&c.ContextID, &data, &c.TimeoutMinutes, &c.LastActivityAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = domain.ConversationStatus(status)
	if data != "" {
		_ = json.Unmarshal([]byte(data), &c.ContextData)
	}
	return &c, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row.Scan)
}

func (s *SQLiteStore) UpdateConversationState(ctx context.Context, id, state string, status domain.ConversationStatus, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET current_state=?, status=?, last_activity_at=?, updated_at=? WHERE id=?`,
		state, string(status), at, at, id)
	return err
}

func (s *SQLiteStore) SetConversationStatus(ctx context.Context, id string, status domain.ConversationStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status=?, updated_at=? WHERE id=?`,
		string(status), time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) FindLiveConversation(ctx context.Context, contactID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE contact_id = ? AND status IN ('active', 'waiting_reply')
		 ORDER BY created_at DESC LIMIT 1`, contactID)
	return scanConversation(row.Scan)
}

func (s *SQLiteStore) ListTimedOut(ctx context.Context, now time.Time) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE status = 'waiting_reply'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overdue []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, err
		}
		if !now.Before(c.Deadline()) {
			overdue = append(overdue, *c)
		}
	}
	return overdue, rows.Err()
}

func (s *SQLiteStore) ListConversationMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? ORDER BY created_at`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// --- Messages ---

func (s *SQLiteStore) CreateMessage(ctx context.Context, m domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, direction, body, channel_message_id,
		 template_name, status, error_message, sent_at, delivered_at, read_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, nullableString(m.ConversationID), string(m.Direction), m.Body, m.ChannelMessageID,
		m.TemplateName, string(m.Status), m.ErrorMessage,
		nullableTime(m.SentAt), nullableTime(m.DeliveredAt), nullableTime(m.ReadAt), m.CreatedAt,
	)
	return err
}

const messageColumns = `id, conversation_id, direction, body, channel_message_id,
	template_name, status, error_message, sent_at, delivered_at, read_at, created_at`

func scanMessage(scan func(dest ...any) error) (*domain.Message, error) {
	var m domain.Message
	var convID sql.NullString
	var direction, status string
	var sentAt, deliveredAt, readAt sql.NullTime
	err := scan(&m.ID, &convID, &direction, &m.Body, &m.ChannelMessageID,
		&m.TemplateName, &status, &m.ErrorMessage, &sentAt, &deliveredAt, &readAt, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.ConversationID = convID.String
	m.Direction = domain.Direction(direction)
	m.Status = domain.MessageStatus(status)
	if sentAt.Valid {
		m.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		m.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		m.ReadAt = &readAt.Time
	}
	return &m, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row.Scan)
}

func (s *SQLiteStore) FindMessageByChannelID(ctx context.Context, channelMessageID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE channel_message_id = ? AND channel_message_id != ''`, channelMessageID)
	return scanMessage(row.Scan)
}

func (s *SQLiteStore) AttachMessageToConversation(ctx context.Context, messageID, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET conversation_id = ? WHERE id = ?`, conversationID, messageID)
	return err
}

func (s *SQLiteStore) MarkMessageSent(ctx context.Context, id, channelMessageID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status='sent', channel_message_id=?, sent_at=? WHERE id=?`,
		channelMessageID, at, id)
	return err
}

func (s *SQLiteStore) MarkMessageFailed(ctx context.Context, id, errorMessage string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status='failed', error_message=? WHERE id=?`, errorMessage, id)
	return err
}

func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, id string, status domain.MessageStatus, errorMessage string, at time.Time) error {
	// COALESCE keeps timestamps already recorded, so replayed receipts
	// cannot clear or move them.
	switch status {
	case domain.MessageDelivered:
		_, err := s.db.ExecContext(ctx,
			`UPDATE messages SET status=?, delivered_at=COALESCE(delivered_at, ?) WHERE id=?`,
			string(status), at, id)
		return err
	case domain.MessageRead:
		_, err := s.db.ExecContext(ctx,
			`UPDATE messages SET status=?, read_at=COALESCE(read_at, ?) WHERE id=?`,
			string(status), at, id)
		return err
	case domain.MessageFailed:
		_, err := s.db.ExecContext(ctx,
			`UPDATE messages SET status=?, error_message=? WHERE id=?`,
			string(status), errorMessage, id)
		return err
	default:
		_, err := s.db.ExecContext(ctx,
			`UPDATE messages SET status=? WHERE id=?`, string(status), id)
		return err
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
