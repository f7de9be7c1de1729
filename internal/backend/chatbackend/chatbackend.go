// Package chatbackend implements backend.Commander against a Discord-style
// chat-platform gateway over gorilla/websocket: commands are sent as JSON
// frames on the same connection the gateway's event stream arrives on.
package chatbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quel-drawcore/internal/backend"
	"quel-drawcore/internal/correlator"
	"quel-drawcore/internal/model"
)

// frame is the wire shape for both outbound commands and inbound gateway
// events.
type frame struct {
	Op   string          `json:"op"` // "command" outbound, "event" inbound
	Data json.RawMessage `json:"data"`
}

type commandPayload struct {
	Kind                  string   `json:"kind"`
	ChannelID             string   `json:"channelId"`
	GuildID               string   `json:"guildId,omitempty"`
	Content               string   `json:"content,omitempty"`
	Nonce                 string   `json:"nonce,omitempty"`
	MessageID             string   `json:"messageId,omitempty"`
	MessageFlags          int      `json:"flags,omitempty"`
	CustomID              string   `json:"customId,omitempty"`
	InteractionMetadataID string   `json:"interactionMetadataId,omitempty"`
	Mask                  string   `json:"mask,omitempty"`
	ImageURLs             []string `json:"imageUrls,omitempty"`
	Filename              string   `json:"filename,omitempty"`
	Data                  []byte   `json:"data,omitempty"`
	MimeType              string   `json:"mimeType,omitempty"`
}

type eventPayload struct {
	ID                    string        `json:"id"`
	AuthorID              string        `json:"authorId"`
	Type                  string        `json:"type"`
	ChannelID             string        `json:"channelId"`
	Content               string        `json:"content"`
	Attachments           []string      `json:"attachments"`
	Components            []model.Button `json:"components"`
	InteractionMetadataID string        `json:"interactionMetadataId"`
	Flags                 int           `json:"flags"`
	ReferencedMessageID   string        `json:"referencedMessageId"`
	Nonce                 string        `json:"nonce"`
}

// Backend is the CHAT backend family's websocket-driven Commander. One
// Backend serves every account sharing the same gateway connection; account
// identity rides in each command's channelId field.
type Backend struct {
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex
}

// Dial connects to the chat-platform gateway and authenticates with token.
func Dial(ctx context.Context, gatewayURL, token string, log *zap.Logger) (*Backend, error) {
	header := map[string][]string{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, gatewayURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial chat gateway: %w", err)
	}
	return &Backend{conn: conn, log: log}, nil
}

// Events reads the gateway's inbound event stream until the connection
// closes or ctx is cancelled, delivering each decoded frame to handle.
func (b *Backend) Events(ctx context.Context, handle func(correlator.EventData)) error {
	go func() {
		<-ctx.Done()
		_ = b.conn.Close()
	}()
	for {
		var f frame
		if err := b.conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("read gateway frame: %w", err)
		}
		if f.Op != "event" {
			continue
		}
		var ev eventPayload
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			b.log.Warn("decode gateway event", zap.Error(err))
			continue
		}
		handle(correlator.EventData{
			ID:                    ev.ID,
			AuthorID:              ev.AuthorID,
			Type:                  ev.Type,
			ChannelID:             ev.ChannelID,
			Content:               ev.Content,
			Attachments:           ev.Attachments,
			Components:            ev.Components,
			InteractionMetadataID: ev.InteractionMetadataID,
			Flags:                 ev.Flags,
			ReferencedMessageID:   ev.ReferencedMessageID,
			Nonce:                 ev.Nonce,
		})
	}
}

func (b *Backend) send(kind string, p commandPayload) (backend.Result, error) {
	p.Kind = kind
	data, err := json.Marshal(p)
	if err != nil {
		return backend.Result{}, fmt.Errorf("marshal command: %w", err)
	}

	b.writeMu.Lock()
	err = b.conn.WriteJSON(frame{Op: "command", Data: data})
	b.writeMu.Unlock()
	if err != nil {
		return backend.Result{}, fmt.Errorf("send command: %w", err)
	}

	// The gateway acknowledges the send synchronously; the resulting
	// message and its content arrive later as an ordinary event, which the
	// correlator resolves by nonce.
	return backend.Result{Code: backend.CodeSuccess, MessageID: fmt.Sprintf("pending-%d", time.Now().UnixNano())}, nil
}

func (b *Backend) Imagine(ctx context.Context, a backend.ImagineArgs) (backend.Result, error) {
	return b.send("imagine", commandPayload{ChannelID: a.ChannelID, GuildID: a.GuildID, Content: a.Prompt, Nonce: a.Nonce})
}

func (b *Backend) Upscale(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return b.sendButton("upscale", a)
}

func (b *Backend) Variation(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return b.sendButton("variation", a)
}

func (b *Backend) Reroll(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return b.sendButton("reroll", a)
}

func (b *Backend) DescribeByLink(ctx context.Context, channelID, imageURL, nonce string) (backend.Result, error) {
	return b.send("describe", commandPayload{ChannelID: channelID, ImageURLs: []string{imageURL}, Nonce: nonce})
}

func (b *Backend) DescribeByUpload(ctx context.Context, a backend.UploadArgs) (backend.Result, error) {
	return b.send("describe-upload", commandPayload{ChannelID: a.ChannelID, Filename: a.Filename, Data: a.Data, MimeType: a.MimeType})
}

func (b *Backend) Blend(ctx context.Context, channelID string, imageURLs []string, nonce string) (backend.Result, error) {
	return b.send("blend", commandPayload{ChannelID: channelID, ImageURLs: imageURLs, Nonce: nonce})
}

func (b *Backend) Shorten(ctx context.Context, channelID, prompt, nonce string) (backend.Result, error) {
	return b.send("shorten", commandPayload{ChannelID: channelID, Content: prompt, Nonce: nonce})
}

func (b *Backend) Zoom(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return b.sendButton("zoom", a)
}

func (b *Backend) Inpaint(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return b.sendButton("inpaint", a)
}

func (b *Backend) Pan(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return b.sendButton("pan", a)
}

func (b *Backend) Remix(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return b.sendButton("remix", a)
}

func (b *Backend) Action(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return b.sendButton("action", a)
}

func (b *Backend) Setting(ctx context.Context, channelID, nonce string) (backend.Result, error) {
	return b.send("setting", commandPayload{ChannelID: channelID, Nonce: nonce})
}

func (b *Backend) Info(ctx context.Context, channelID, nonce string) (backend.Result, error) {
	return b.send("info", commandPayload{ChannelID: channelID, Nonce: nonce})
}

func (b *Backend) SettingSelect(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return b.sendButton("settingSelect", a)
}

func (b *Backend) SettingButton(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return b.sendButton("settingButton", a)
}

func (b *Backend) Seed(ctx context.Context, channelID, messageHash, nonce string) (backend.Result, error) {
	return b.send("seed", commandPayload{ChannelID: channelID, Content: messageHash, Nonce: nonce})
}

func (b *Backend) SeedMessages(ctx context.Context, channelID string) (backend.Result, error) {
	return b.send("seedMessages", commandPayload{ChannelID: channelID})
}

func (b *Backend) SendImage(ctx context.Context, a backend.UploadArgs) (backend.Result, error) {
	return b.send("sendImage", commandPayload{ChannelID: a.ChannelID, Filename: a.Filename, Data: a.Data, MimeType: a.MimeType})
}

func (b *Backend) AddReaction(ctx context.Context, channelID, messageID, emoji string) (backend.Result, error) {
	return b.send("addReaction", commandPayload{ChannelID: channelID, MessageID: messageID, Content: emoji})
}

func (b *Backend) sendButton(kind string, a backend.ButtonArgs) (backend.Result, error) {
	return b.send(kind, commandPayload{
		ChannelID:             a.ChannelID,
		GuildID:               a.GuildID,
		MessageID:             a.MessageID,
		MessageFlags:          a.MessageFlags,
		CustomID:              a.CustomID,
		Nonce:                 a.Nonce,
		InteractionMetadataID: a.InteractionMetadataID,
		Mask:                  a.Mask,
		Content:               a.Prompt,
	})
}

var _ backend.Commander = (*Backend)(nil)
