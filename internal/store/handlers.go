package store

import (
	"context"
	"fmt"
	"time"
)

// Raw inbound payload shapes accepted at the protocol-client boundary.
// Required fields are validated here, before anything reaches the tables;
// malformed items are reported via the error event and skipped.

// MessagesPayload is the raw inbound message batch shape.
type MessagesPayload struct {
	Messages []InboundMessage `json:"messages"`
}

// InboundMessage is one raw message in a batch.
type InboundMessage struct {
	ID           string `json:"id"`
	ChatJID      string `json:"chat_jid"`
	SenderJID    string `json:"sender_jid"`
	RecipientJID string `json:"recipient_jid"`
	PushName     string `json:"push_name"`
	Type         string `json:"type"`
	Text         string `json:"text"`
	Caption      string `json:"caption"`
	QuotedID     string `json:"quoted_id"`
	FromMe       bool   `json:"from_me"`
	IsGroup      bool   `json:"is_group"`
	Timestamp    int64  `json:"timestamp"`
}

// PresencePayload is the raw presence update shape.
type PresencePayload struct {
	ID        string                  `json:"id"`
	Presences map[string]PresenceInfo `json:"presences"`
}

// PresenceInfo carries one contact's presence state.
type PresenceInfo struct {
	State    string `json:"state"` // "available", "unavailable", "composing"
	LastSeen int64  `json:"last_seen"`
}

// PresenceUpdate is the payload of EventPresence events.
type PresenceUpdate struct {
	SessionID string `json:"session_id"`
	JID       string `json:"jid"`
	State     string `json:"state"`
	LastSeen  int64  `json:"last_seen,omitempty"`
}

// InboundReaction is one raw reaction item.
type InboundReaction struct {
	Key      ReactionKey     `json:"key"`
	Reaction ReactionContent `json:"reaction"`
}

// ReactionKey identifies the reacted-to message and the reactor.
type ReactionKey struct {
	ID          string `json:"id"`
	RemoteJID   string `json:"remote_jid"`
	Participant string `json:"participant"`
	FromMe      bool   `json:"from_me"`
}

// ReactionContent carries the reaction emoji; empty means removed.
type ReactionContent struct {
	Text string `json:"text"`
}

// GroupUpdatePayload is the raw group roster/metadata change shape.
type GroupUpdatePayload struct {
	ID           string   `json:"id"`
	Author       string   `json:"author"`
	Action       string   `json:"action"` // "add", "remove", "promote", "demote", "subject"
	Participants []string `json:"participants"`
	Subject      string   `json:"subject,omitempty"`
}

// GroupUpdate is the payload of EventGroup events.
type GroupUpdate struct {
	SessionID    string   `json:"session_id"`
	GroupJID     string   `json:"group_jid"`
	Author       string   `json:"author,omitempty"`
	Action       string   `json:"action"`
	Participants []string `json:"participants,omitempty"`
}

// HandleMessages persists a raw inbound message batch: lazily creates the
// chat, upserts the message, updates the chat's last-message pointer and
// the sender's push name, then emits a message event per item. A failure
// on one item is reported via the error event and does not abort the rest
// of the batch. Returns the number of messages saved.
func (s *Store) HandleMessages(ctx context.Context, sessionID string, payload MessagesPayload) int {
	chats := NewChatStore(s)
	messages := NewMessageStore(s)
	contacts := NewContactStore(s)

	saved := 0
	for _, raw := range payload.Messages {
		if err := s.handleMessage(ctx, sessionID, raw, chats, messages, contacts); err != nil {
			s.log.Errorf("Failed to process message %q: %v", raw.ID, err)
			s.bus.Publish(Event{Kind: EventError, SessionID: sessionID, Payload: err})
			continue
		}
		saved++
	}
	return saved
}

func (s *Store) handleMessage(ctx context.Context, sessionID string, raw InboundMessage, chats *ChatStore, messages *MessageStore, contacts *ContactStore) error {
	if raw.ID == "" || raw.ChatJID == "" {
		return fmt.Errorf("%w: message requires id and chat_jid", ErrMissingKey)
	}

	if err := chats.Ensure(ctx, sessionID, raw.ChatJID, raw.IsGroup); err != nil {
		return err
	}

	msg := &Message{
		SessionID:    sessionID,
		ID:           raw.ID,
		ChatJID:      raw.ChatJID,
		SenderJID:    raw.SenderJID,
		RecipientJID: raw.RecipientJID,
		FromMe:       raw.FromMe,
		Type:         raw.Type,
		Text:         raw.Text,
		Caption:      raw.Caption,
		QuotedID:     raw.QuotedID,
	}
	if raw.Timestamp > 0 {
		msg.Timestamp = time.Unix(raw.Timestamp, 0)
	}
	if raw.FromMe {
		msg.Status = MessageStatusSent
	}
	if err := messages.Put(ctx, msg); err != nil {
		return err
	}

	if err := chats.UpdateLastMessage(ctx, sessionID, raw.ChatJID, raw.ID, msg.Timestamp, !raw.FromMe); err != nil {
		return err
	}

	if raw.PushName != "" && raw.SenderJID != "" {
		if err := contacts.UpdatePushName(ctx, sessionID, raw.SenderJID, raw.PushName); err != nil {
			s.log.Warnf("Failed to update push name for %s: %v", raw.SenderJID, err)
		}
	}

	s.bus.Publish(Event{Kind: EventMessage, SessionID: sessionID, Payload: *msg})
	return nil
}

// HandlePresence persists presence changes and emits a presence event per
// contact. Entries with an empty JID are reported and skipped.
func (s *Store) HandlePresence(ctx context.Context, sessionID string, payload PresencePayload) int {
	contacts := NewContactStore(s)

	saved := 0
	for jid, info := range payload.Presences {
		if jid == "" {
			s.bus.Publish(Event{Kind: EventError, SessionID: sessionID,
				Payload: fmt.Errorf("%w: presence requires jid", ErrMissingKey)})
			continue
		}
		var lastSeen time.Time
		if info.LastSeen > 0 {
			lastSeen = time.Unix(info.LastSeen, 0)
		}
		if err := contacts.SetPresence(ctx, sessionID, jid, info.State, lastSeen); err != nil {
			s.log.Errorf("Failed to store presence for %s: %v", jid, err)
			s.bus.Publish(Event{Kind: EventError, SessionID: sessionID, Payload: err})
			continue
		}
		s.bus.Publish(Event{Kind: EventPresence, SessionID: sessionID, Payload: PresenceUpdate{
			SessionID: sessionID,
			JID:       jid,
			State:     info.State,
			LastSeen:  info.LastSeen,
		}})
		saved++
	}
	return saved
}

// HandleReactions persists a raw reaction batch, latest-wins per
// (message, reactor), and emits a reaction event per item.
func (s *Store) HandleReactions(ctx context.Context, sessionID string, items []InboundReaction) int {
	reactions := NewReactionStore(s)

	saved := 0
	for _, item := range items {
		if item.Key.ID == "" || item.Key.Participant == "" {
			s.bus.Publish(Event{Kind: EventError, SessionID: sessionID,
				Payload: fmt.Errorf("%w: reaction requires key.id and key.participant", ErrMissingKey)})
			continue
		}
		r := &Reaction{
			SessionID:  sessionID,
			MessageID:  item.Key.ID,
			ReactorJID: item.Key.Participant,
			Emoji:      item.Reaction.Text,
		}
		if err := reactions.Put(ctx, r); err != nil {
			s.log.Errorf("Failed to store reaction on %s: %v", item.Key.ID, err)
			s.bus.Publish(Event{Kind: EventError, SessionID: sessionID, Payload: err})
			continue
		}
		s.bus.Publish(Event{Kind: EventReaction, SessionID: sessionID, Payload: *r})
		saved++
	}
	return saved
}

// HandleGroupUpdate applies a roster or metadata change to a group and
// emits a group event.
func (s *Store) HandleGroupUpdate(ctx context.Context, sessionID string, payload GroupUpdatePayload) error {
	if payload.ID == "" || payload.Action == "" {
		return fmt.Errorf("%w: group update requires id and action", ErrMissingKey)
	}

	groups := NewGroupStore(s)
	if err := groups.Ensure(ctx, sessionID, payload.ID); err != nil {
		return err
	}

	switch payload.Action {
	case "add", "remove", "promote", "demote":
		for _, member := range payload.Participants {
			if member == "" {
				s.bus.Publish(Event{Kind: EventError, SessionID: sessionID,
					Payload: fmt.Errorf("%w: group %s: empty participant", ErrMissingKey, payload.ID)})
				continue
			}
			if err := s.applyMemberAction(ctx, groups, sessionID, payload, member); err != nil {
				s.log.Errorf("Failed to apply %s for %s in %s: %v", payload.Action, member, payload.ID, err)
				s.bus.Publish(Event{Kind: EventError, SessionID: sessionID, Payload: err})
			}
		}
	case "subject":
		g, err := groups.Get(ctx, sessionID, payload.ID)
		if err != nil {
			return err
		}
		g.Subject = payload.Subject
		if err := groups.Put(ctx, g); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown group action %q", payload.Action)
	}

	s.bus.Publish(Event{Kind: EventGroup, SessionID: sessionID, Payload: GroupUpdate{
		SessionID:    sessionID,
		GroupJID:     payload.ID,
		Author:       payload.Author,
		Action:       payload.Action,
		Participants: payload.Participants,
	}})
	return nil
}

func (s *Store) applyMemberAction(ctx context.Context, groups *GroupStore, sessionID string, payload GroupUpdatePayload, member string) error {
	m := &GroupMember{
		SessionID: sessionID,
		GroupJID:  payload.ID,
		MemberJID: member,
	}
	switch payload.Action {
	case "add":
		m.Active = true
		m.AddedBy = payload.Author
	case "remove":
		m.Active = false
		m.RemovedBy = payload.Author
	case "promote":
		m.Active = true
		m.Role = GroupRoleAdmin
	case "demote":
		m.Active = true
		m.Role = GroupRoleMember
	}
	return groups.PutMember(ctx, m)
}
