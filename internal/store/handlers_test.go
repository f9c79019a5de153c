package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessagesBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "sess-1")

	msgEvents := s.Events().Subscribe(EventMessage)
	errEvents := s.Events().Subscribe(EventError)

	now := time.Now().Unix()
	saved := s.HandleMessages(ctx, "sess-1", MessagesPayload{Messages: []InboundMessage{
		{ID: "msg-1", ChatJID: "alice@s.whatsapp.net", SenderJID: "alice@s.whatsapp.net", PushName: "Alice", Text: "hi", Timestamp: now},
		{ChatJID: "alice@s.whatsapp.net", Text: "no id"}, // malformed
		{ID: "msg-2", ChatJID: "alice@s.whatsapp.net", FromMe: true, Text: "hello", Timestamp: now + 1},
	}})
	assert.Equal(t, 2, saved)

	// The malformed item reports an error; the good items still land.
	assert.Equal(t, EventMessage, recvEvent(t, msgEvents).Kind)
	assert.ErrorIs(t, recvEvent(t, errEvents).Payload.(error), ErrMissingKey)
	assert.Equal(t, EventMessage, recvEvent(t, msgEvents).Kind)

	messages, err := NewMessageStore(s).ForChat(ctx, "sess-1", "alice@s.whatsapp.net", 10)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	// The chat was lazily created; only the inbound message bumped unread.
	chat, err := NewChatStore(s).Get(ctx, "sess-1", "alice@s.whatsapp.net")
	require.NoError(t, err)
	require.NotNil(t, chat)
	assert.Equal(t, 1, chat.UnreadCount)
	assert.Equal(t, "msg-2", chat.LastMessageID)

	// The push name stuck to the sender's contact.
	contact, err := NewContactStore(s).Get(ctx, "sess-1", "alice@s.whatsapp.net")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Alice", contact.PushName)
}

func TestHandlePresence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "sess-1")

	presEvents := s.Events().Subscribe(EventPresence)

	saved := s.HandlePresence(ctx, "sess-1", PresencePayload{
		ID: "update-1",
		Presences: map[string]PresenceInfo{
			"alice@s.whatsapp.net": {State: "available"},
			"":                     {State: "composing"}, // malformed
		},
	})
	assert.Equal(t, 1, saved)

	evt := recvEvent(t, presEvents)
	update := evt.Payload.(PresenceUpdate)
	assert.Equal(t, "alice@s.whatsapp.net", update.JID)
	assert.Equal(t, "available", update.State)

	contact, err := NewContactStore(s).Get(ctx, "sess-1", "alice@s.whatsapp.net")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "available", contact.Presence)
}

func TestHandleReactionsLatestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "sess-1")

	key := ReactionKey{ID: "msg-1", RemoteJID: "chat@s.whatsapp.net", Participant: "bob@s.whatsapp.net"}

	saved := s.HandleReactions(ctx, "sess-1", []InboundReaction{
		{Key: key, Reaction: ReactionContent{Text: "👍"}},
		{Key: key, Reaction: ReactionContent{Text: "❤️"}},
	})
	assert.Equal(t, 2, saved)

	reactions, err := NewReactionStore(s).ForMessage(ctx, "sess-1", "msg-1")
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, "❤️", reactions[0].Emoji)

	// Empty emoji removes the reaction.
	saved = s.HandleReactions(ctx, "sess-1", []InboundReaction{
		{Key: key, Reaction: ReactionContent{}},
	})
	assert.Equal(t, 1, saved)

	reactions, err = NewReactionStore(s).ForMessage(ctx, "sess-1", "msg-1")
	require.NoError(t, err)
	assert.Empty(t, reactions)
}

func TestHandleReactionsMalformed(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s, "sess-1")

	errEvents := s.Events().Subscribe(EventError)

	saved := s.HandleReactions(context.Background(), "sess-1", []InboundReaction{
		{Key: ReactionKey{ID: "msg-1"}, Reaction: ReactionContent{Text: "👍"}}, // no participant
	})
	assert.Equal(t, 0, saved)
	assert.ErrorIs(t, recvEvent(t, errEvents).Payload.(error), ErrMissingKey)
}

func TestHandleGroupUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "sess-1")

	groupEvents := s.Events().Subscribe(EventGroup)

	err := s.HandleGroupUpdate(ctx, "sess-1", GroupUpdatePayload{
		ID:           "group@g.us",
		Author:       "admin@s.whatsapp.net",
		Action:       "add",
		Participants: []string{"alice@s.whatsapp.net", "bob@s.whatsapp.net"},
	})
	require.NoError(t, err)

	evt := recvEvent(t, groupEvents)
	update := evt.Payload.(GroupUpdate)
	assert.Equal(t, "add", update.Action)
	assert.Equal(t, "group@g.us", update.GroupJID)

	groups := NewGroupStore(s)
	members, err := groups.Members(ctx, "sess-1", "group@g.us")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	// Promote changes the role, remove deactivates the membership.
	require.NoError(t, s.HandleGroupUpdate(ctx, "sess-1", GroupUpdatePayload{
		ID: "group@g.us", Action: "promote", Participants: []string{"alice@s.whatsapp.net"},
	}))
	require.NoError(t, s.HandleGroupUpdate(ctx, "sess-1", GroupUpdatePayload{
		ID: "group@g.us", Author: "admin@s.whatsapp.net", Action: "remove", Participants: []string{"bob@s.whatsapp.net"},
	}))

	members, err = groups.Members(ctx, "sess-1", "group@g.us")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "alice@s.whatsapp.net", members[0].MemberJID)
	assert.Equal(t, GroupRoleAdmin, members[0].Role)

	// Subject change lands on the group row.
	require.NoError(t, s.HandleGroupUpdate(ctx, "sess-1", GroupUpdatePayload{
		ID: "group@g.us", Action: "subject", Subject: "New Subject",
	}))
	g, err := groups.Get(ctx, "sess-1", "group@g.us")
	require.NoError(t, err)
	assert.Equal(t, "New Subject", g.Subject)
}

func TestHandleGroupUpdateRejectsUnknownAction(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s, "sess-1")

	err := s.HandleGroupUpdate(context.Background(), "sess-1", GroupUpdatePayload{
		ID: "group@g.us", Action: "explode",
	})
	assert.Error(t, err)

	err = s.HandleGroupUpdate(context.Background(), "sess-1", GroupUpdatePayload{Action: "add"})
	assert.ErrorIs(t, err, ErrMissingKey)
}
