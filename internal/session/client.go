package session

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"whatsapp-bridge/internal/logging"
)

// maxDownloadBytes caps inline media downloads relayed to control clients.
const maxDownloadBytes = 10 << 20

// waTransport is the production transport backed by whatsmeow.
type waTransport struct {
	log    *logging.Logger
	sink   Events
	db     *sql.DB
	client *whatsmeow.Client
}

func newWhatsmeowTransport(storeDir string, log *logging.Logger, sink Events) (transport, error) {
	dbPath := filepath.Join(storeDir, "whatsapp.db")
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	ctx := context.Background()
	container := sqlstore.NewWithDB(db, "sqlite3", &waLogger{log: log.Sub("wa-store")})
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to upgrade session store: %w", err)
	}

	// The store directory is freshly created, but drop any device rows
	// defensively so the new client never resumes a stale login.
	if devices, err := container.GetAllDevices(ctx); err == nil {
		for _, d := range devices {
			_ = d.Delete(ctx)
		}
	}

	device := container.NewDevice()
	client := whatsmeow.NewClient(device, &waLogger{log: log.Sub("wa-client")})

	t := &waTransport{log: log, sink: sink, db: db, client: client}
	client.AddEventHandler(t.handleEvent)
	return t, nil
}

// Initialize obtains the QR channel and connects. Must be called on a fresh,
// unpaired device.
func (t *waTransport) Initialize(ctx context.Context) error {
	qrChan, err := t.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := t.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	go t.watchQR(qrChan)
	return nil
}

func (t *waTransport) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			// Also render on the server terminal for headless pairing.
			qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
			t.sink.OnQR(item.Code)
		case "success":
			t.sink.OnAuthenticated()
		case "timeout":
			t.sink.OnAuthFailure("QR code expired")
		default:
			t.sink.OnAuthFailure("pairing failed: " + item.Event)
		}
	}
}

func (t *waTransport) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		t.sink.OnReady(t.Identity())
	case *events.Disconnected:
		t.sink.OnDisconnected("connection closed")
	case *events.LoggedOut:
		t.sink.OnAuthFailure(fmt.Sprintf("logged out: %v", v.Reason))
	case *events.Message:
		t.handleMessage(v)
	}
}

func (t *waTransport) handleMessage(evt *events.Message) {
	info := evt.Info
	msg := evt.Message

	im := IncomingMessage{
		ID:        info.ID,
		ChatID:    FromJID(info.Chat),
		Sender:    info.Sender.User,
		PushName:  info.PushName,
		Type:      "chat",
		FromMe:    info.IsFromMe,
		IsGroup:   info.IsGroup,
		Timestamp: info.Timestamp,
	}

	switch {
	case msg.GetConversation() != "":
		im.Body = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		im.Body = msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		im.Type = "image"
		im.Body = img.GetCaption()
		im.Media = t.download(img, img.GetMimetype(), img.GetFileLength(), "")
	case msg.GetAudioMessage() != nil:
		audio := msg.GetAudioMessage()
		im.Type = "audio"
		if audio.GetPTT() {
			im.Type = "ptt"
		}
		im.Media = t.download(audio, audio.GetMimetype(), audio.GetFileLength(), "")
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		im.Type = "document"
		im.Body = doc.GetCaption()
		im.Media = t.download(doc, doc.GetMimetype(), doc.GetFileLength(), doc.GetFileName())
	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		im.Type = "location"
		im.Location = &Location{
			Latitude:  loc.GetDegreesLatitude(),
			Longitude: loc.GetDegreesLongitude(),
			Name:      loc.GetName(),
			Address:   loc.GetAddress(),
		}
	case msg.GetContactMessage() != nil:
		card := msg.GetContactMessage()
		im.Type = "vcard"
		im.VCard = &VCard{DisplayName: card.GetDisplayName(), VCard: card.GetVcard()}
	case msg.GetStickerMessage() != nil:
		sticker := msg.GetStickerMessage()
		im.Type = "sticker"
		im.Sticker = &Sticker{Mimetype: sticker.GetMimetype(), Animated: sticker.GetIsAnimated()}
		im.Media = t.download(sticker, sticker.GetMimetype(), sticker.GetFileLength(), "")
	default:
		im.Type = "unknown"
	}

	t.sink.OnMessage(im)
}

// download fetches media for relay to control clients. Best-effort: a failed
// or oversized download just leaves the payload empty.
func (t *waTransport) download(msg whatsmeow.DownloadableMessage, mimetype string, length uint64, filename string) *MediaPayload {
	if length > maxDownloadBytes {
		t.log.Debug().Uint64("bytes", length).Msg("skipping oversized media download")
		return nil
	}
	data, err := t.client.Download(context.Background(), msg)
	if err != nil {
		t.log.Warn().Err(err).Msg("media download failed")
		return nil
	}
	return &MediaPayload{
		Mimetype: mimetype,
		Data:     base64.StdEncoding.EncodeToString(data),
		Filename: filename,
	}
}

func (t *waTransport) Close() {
	if t.client != nil {
		t.client.Disconnect()
	}
	if t.db != nil {
		t.db.Close()
	}
}

func (t *waTransport) IsConnected() bool {
	return t.client.IsConnected()
}

func (t *waTransport) Identity() Identity {
	id := Identity{PushName: t.client.Store.PushName}
	if t.client.Store.ID != nil {
		id.ID = FromJID(*t.client.Store.ID)
	}
	return id
}

func (t *waTransport) SendText(ctx context.Context, chatID, text string) (string, error) {
	jid, err := ToJID(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	resp, err := t.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (t *waTransport) SendReply(ctx context.Context, chatID string, quoted Quoted, text string) (string, error) {
	jid, err := ToJID(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	participant := types.NewJID(quoted.Sender, types.DefaultUserServer)
	resp, err := t.client.SendMessage(ctx, jid, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:    proto.String(quoted.MessageID),
				Participant: proto.String(participant.String()),
				QuotedMessage: &waE2E.Message{
					Conversation: proto.String(quoted.Body),
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (t *waTransport) ResolveContact(ctx context.Context, chatID string) Contact {
	jid, err := ToJID(chatID)
	if err != nil {
		return Contact{}
	}
	contact := Contact{Number: jid.User}
	info, err := t.client.Store.Contacts.GetContact(ctx, jid)
	if err != nil || !info.Found {
		return contact
	}
	switch {
	case info.FullName != "":
		contact.Name = info.FullName
	case info.PushName != "":
		contact.Name = info.PushName
	case info.BusinessName != "":
		contact.Name = info.BusinessName
	}
	return contact
}

// waLogger bridges whatsmeow's logger interface onto ours.
type waLogger struct {
	log *logging.Logger
}

func (l *waLogger) Debugf(msg string, args ...interface{}) {
	l.log.Debug().Msgf(msg, args...)
}

func (l *waLogger) Infof(msg string, args ...interface{}) {
	l.log.Info().Msgf(msg, args...)
}

func (l *waLogger) Warnf(msg string, args ...interface{}) {
	l.log.Warn().Msgf(msg, args...)
}

func (l *waLogger) Errorf(msg string, args ...interface{}) {
	l.log.Error().Msgf(msg, args...)
}

func (l *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{log: l.log.Sub(module)}
}
