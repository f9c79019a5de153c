package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wstore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"wahub/internal/store"
)

// Client is the whatsmeow-backed Handler for one session.
type Client struct {
	sessionID string
	waClient  *whatsmeow.Client
	device    *wstore.Device
	store     *store.Store
	sessions  *store.SessionStore
	receipts  *store.ReceiptStore
	log       waLog.Logger
}

// NewClient builds a Client for the session, reusing stored device
// credentials when the session is already paired.
func NewClient(ctx context.Context, st *store.Store, sessionID string, log waLog.Logger) (*Client, error) {
	sessions := store.NewSessionStore(st)

	sess, err := sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	var device *wstore.Device
	if sess.DeviceJID != "" {
		jid, err := types.ParseJID(sess.DeviceJID)
		if err != nil {
			return nil, fmt.Errorf("invalid stored device jid %q: %w", sess.DeviceJID, err)
		}
		device, err = st.DeviceByJID(ctx, jid)
		if err != nil {
			return nil, fmt.Errorf("failed to get device: %w", err)
		}
	}
	if device == nil {
		device = st.NewDevice()
	}

	waClient := whatsmeow.NewClient(device, log.Sub("whatsmeow"))
	waClient.EnableAutoReconnect = true
	waClient.AutoTrustIdentity = true

	c := &Client{
		sessionID: sessionID,
		waClient:  waClient,
		device:    device,
		store:     st,
		sessions:  sessions,
		receipts:  store.NewReceiptStore(st),
		log:       log.Sub("Client").Sub(sessionID),
	}
	waClient.AddEventHandler(c.handleEvent)

	return c, nil
}

// Init connects the client. An unpaired session starts the QR pairing
// flow; codes are stored as they rotate so callers can poll for them.
func (c *Client) Init(ctx context.Context) error {
	if c.LoggedIn() {
		return c.waClient.Connect()
	}

	qrChan, err := c.waClient.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := c.waClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	go c.pairLoop(qrChan)
	return nil
}

// pairLoop stores rotating pairing codes and records the outcome.
func (c *Client) pairLoop(qrChan <-chan whatsmeow.QRChannelItem) {
	ctx := context.Background()
	for item := range qrChan {
		switch item.Event {
		case "code":
			if err := c.sessions.SetQRCode(ctx, c.sessionID, encodeQR(item.Code)); err != nil {
				c.log.Errorf("Failed to store QR code: %v", err)
			}
		case "success":
			c.log.Infof("Paired successfully")
		case "timeout":
			c.log.Warnf("QR pairing timed out")
			if err := c.sessions.SetStatus(ctx, c.sessionID, store.SessionDisconnected, "qr timeout"); err != nil {
				c.log.Errorf("Failed to record QR timeout: %v", err)
			}
			return
		case "error":
			c.log.Errorf("QR pairing error: %v", item.Error)
			if err := c.sessions.SetStatus(ctx, c.sessionID, store.SessionDisconnected, "qr error"); err != nil {
				c.log.Errorf("Failed to record QR error: %v", err)
			}
			return
		}
	}
}

// encodeQR renders a pairing code as a base64 PNG so API consumers can
// embed it directly.
func encodeQR(code string) string {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		// Fall back to the raw code; scanning apps accept it too.
		return code
	}
	return base64.StdEncoding.EncodeToString(png)
}

// Connected reports whether the transport is up.
func (c *Client) Connected() bool {
	return c.waClient.IsConnected()
}

// LoggedIn reports whether the session has paired credentials.
func (c *Client) LoggedIn() bool {
	return c.device.ID != nil
}

// JID returns the paired device JID, zero if unpaired.
func (c *Client) JID() types.JID {
	if c.device.ID != nil {
		return *c.device.ID
	}
	return types.JID{}
}

// SendText sends a plain text message and persists the outbound copy.
func (c *Client) SendText(ctx context.Context, to, text string) (string, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("invalid recipient jid %q: %w", to, err)
	}

	msg := &waE2E.Message{Conversation: proto.String(text)}
	resp, err := c.waClient.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	c.store.HandleMessages(ctx, c.sessionID, store.MessagesPayload{Messages: []store.InboundMessage{{
		ID:           resp.ID,
		ChatJID:      jid.String(),
		SenderJID:    c.JID().String(),
		RecipientJID: jid.String(),
		FromMe:       true,
		Type:         "text",
		Text:         text,
		Timestamp:    resp.Timestamp.Unix(),
	}}})
	return resp.ID, nil
}

// SendPresence broadcasts the session's own presence state.
func (c *Client) SendPresence(ctx context.Context, state string) error {
	presence := types.PresenceAvailable
	if state == "unavailable" {
		presence = types.PresenceUnavailable
	}
	return c.waClient.SendPresence(ctx, presence)
}

// MarkRead sends read receipts and clears the chat's unread count.
func (c *Client) MarkRead(ctx context.Context, chatJID string, messageIDs []string) error {
	jid, err := types.ParseJID(chatJID)
	if err != nil {
		return fmt.Errorf("invalid chat jid %q: %w", chatJID, err)
	}
	ids := make([]types.MessageID, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = types.MessageID(id)
	}
	if err := c.waClient.MarkRead(ctx, ids, time.Now(), jid, jid); err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	return store.NewChatStore(c.store).MarkRead(ctx, c.sessionID, chatJID)
}

// Healthy reports whether the connection is usable.
func (c *Client) Healthy(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.waClient.IsConnected() {
		return fmt.Errorf("session %s is disconnected", c.sessionID)
	}
	return nil
}

// Logout unpairs the session. whatsmeow deletes the device credentials
// as part of the logout exchange.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.waClient.Logout(ctx); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return c.sessions.SetStatus(ctx, c.sessionID, store.SessionClosed, "logged out")
}

// Close disconnects without unpairing.
func (c *Client) Close() error {
	c.waClient.Disconnect()
	return nil
}

// handleEvent translates whatsmeow events into storage writes. Every
// branch is tolerant: a failed write logs and moves on so the event loop
// never stalls.
func (c *Client) handleEvent(evt interface{}) {
	ctx := context.Background()

	switch e := evt.(type) {
	case *events.Connected:
		if err := c.sessions.SetStatus(ctx, c.sessionID, store.SessionConnected, ""); err != nil {
			c.log.Errorf("Failed to record connect: %v", err)
		}
		if c.device.ID != nil {
			platform := c.device.Platform
			if err := c.sessions.SetLoggedIn(ctx, c.sessionID, c.device.ID.String(), platform); err != nil {
				c.log.Errorf("Failed to record pairing: %v", err)
			}
		}

	case *events.Disconnected:
		if err := c.sessions.SetStatus(ctx, c.sessionID, store.SessionDisconnected, "transport down"); err != nil {
			c.log.Errorf("Failed to record disconnect: %v", err)
		}

	case *events.LoggedOut:
		if err := c.sessions.SetStatus(ctx, c.sessionID, store.SessionClosed, fmt.Sprintf("logged out: %s", e.Reason)); err != nil {
			c.log.Errorf("Failed to record logout: %v", err)
		}

	case *events.Message:
		c.store.HandleMessages(ctx, c.sessionID, store.MessagesPayload{Messages: []store.InboundMessage{
			inboundFromEvent(e),
		}})

	case *events.Receipt:
		c.handleReceipt(ctx, e)

	case *events.Presence:
		state := "available"
		if e.Unavailable {
			state = "unavailable"
		}
		c.store.HandlePresence(ctx, c.sessionID, store.PresencePayload{
			Presences: map[string]store.PresenceInfo{
				e.From.String(): {State: state, LastSeen: lastSeenUnix(e.LastSeen)},
			},
		})

	case *events.GroupInfo:
		c.handleGroupInfo(ctx, e)

	case *events.CallOffer:
		calls := store.NewCallStore(c.store)
		if err := calls.Put(ctx, &store.Call{
			SessionID: c.sessionID,
			CallID:    e.CallID,
			ChatJID:   e.From.String(),
			CallerJID: e.From.String(),
			Outcome:   store.CallOutcomeMissed,
			Timestamp: e.Timestamp,
		}); err != nil {
			c.log.Errorf("Failed to store call %s: %v", e.CallID, err)
		}
	}
}

func inboundFromEvent(e *events.Message) store.InboundMessage {
	msg := store.InboundMessage{
		ID:        e.Info.ID,
		ChatJID:   e.Info.Chat.String(),
		SenderJID: e.Info.Sender.String(),
		PushName:  e.Info.PushName,
		FromMe:    e.Info.IsFromMe,
		IsGroup:   e.Info.IsGroup,
		Type:      e.Info.Type,
		Timestamp: e.Info.Timestamp.Unix(),
	}
	msg.Text = e.Message.GetConversation()
	if ext := e.Message.GetExtendedTextMessage(); ext != nil {
		msg.Text = ext.GetText()
	}
	if img := e.Message.GetImageMessage(); img != nil {
		msg.Type = "image"
		msg.Caption = img.GetCaption()
	}
	if vid := e.Message.GetVideoMessage(); vid != nil {
		msg.Type = "video"
		msg.Caption = vid.GetCaption()
	}
	if msg.Type == "" {
		msg.Type = "text"
	}
	return msg
}

func (c *Client) handleReceipt(ctx context.Context, e *events.Receipt) {
	receiptType := string(e.Type)
	if receiptType == "" {
		receiptType = "delivered"
	}
	recs := make([]*store.Receipt, len(e.MessageIDs))
	for i, id := range e.MessageIDs {
		recs[i] = &store.Receipt{
			SessionID:   c.sessionID,
			MessageID:   id,
			Participant: e.Sender.String(),
			Type:        receiptType,
			Timestamp:   e.Timestamp,
		}
	}
	if err := c.receipts.PutMany(ctx, recs); err != nil {
		c.log.Errorf("Failed to store receipts: %v", err)
	}
}

func (c *Client) handleGroupInfo(ctx context.Context, e *events.GroupInfo) {
	author := ""
	if e.Sender != nil {
		author = e.Sender.String()
	}

	apply := func(action string, jids []types.JID) {
		if len(jids) == 0 {
			return
		}
		participants := make([]string, len(jids))
		for i, jid := range jids {
			participants[i] = jid.String()
		}
		if err := c.store.HandleGroupUpdate(ctx, c.sessionID, store.GroupUpdatePayload{
			ID:           e.JID.String(),
			Author:       author,
			Action:       action,
			Participants: participants,
		}); err != nil {
			c.log.Errorf("Failed to apply group %s for %s: %v", action, e.JID, err)
		}
	}
	apply("add", e.Join)
	apply("remove", e.Leave)
	apply("promote", e.Promote)
	apply("demote", e.Demote)

	if e.Name != nil {
		if err := c.store.HandleGroupUpdate(ctx, c.sessionID, store.GroupUpdatePayload{
			ID:      e.JID.String(),
			Author:  author,
			Action:  "subject",
			Subject: e.Name.Name,
		}); err != nil {
			c.log.Errorf("Failed to apply subject change for %s: %v", e.JID, err)
		}
	}
}

func lastSeenUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
