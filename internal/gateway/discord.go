package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/UmanUmair/ScreenGuide/internal/capture"
	"github.com/UmanUmair/ScreenGuide/internal/observability"
)

// DiscordGateway listens for messages in channels and DMs the bot can read.
// Commands use the same slash names as Telegram, sent as plain text.
type DiscordGateway struct {
	Session    *discordgo.Session
	Dispatcher *Dispatcher
	logger     *observability.Logger
	client     *http.Client
	done       chan struct{}
}

func NewDiscordGateway(token string, dispatcher *Dispatcher, logger *observability.Logger) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	dg := &DiscordGateway{
		Session:    s,
		Dispatcher: dispatcher,
		logger:     logger,
		client:     &http.Client{Timeout: 60 * time.Second},
		done:       make(chan struct{}),
	}
	s.AddHandler(dg.onMessage)
	return dg, nil
}

// Start opens the websocket and blocks until Stop.
func (dg *DiscordGateway) Start() error {
	if err := dg.Session.Open(); err != nil {
		return err
	}
	dg.logger.Info("discord connected", zap.String("account", dg.Session.State.User.Username))
	<-dg.done
	return nil
}

func (dg *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	chatID := m.ChannelID
	content := strings.TrimSpace(m.Content)
	dg.logger.Info("discord message", zap.String("chat_id", chatID), zap.String("user", m.Author.Username))

	var reply string
	switch {
	case strings.HasPrefix(content, "/"):
		reply = dg.Dispatcher.HandleCommand(ctx, dg, chatID, commandName(content))
	case len(m.Attachments) > 0:
		reply = dg.handleAttachment(ctx, chatID, m.Attachments[0])
	case content != "":
		reply = dg.Dispatcher.HandleText(ctx, dg, chatID, content)
	default:
		return
	}

	if err := dg.Send(chatID, reply); err != nil {
		dg.logger.Warn("discord send failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (dg *DiscordGateway) handleAttachment(ctx context.Context, chatID string, a *discordgo.MessageAttachment) string {
	data, contentType, err := download(ctx, dg.client, a.URL)
	if err != nil {
		return errorReply(err)
	}
	if a.ContentType != "" {
		contentType = a.ContentType
	}

	switch {
	case strings.HasPrefix(contentType, "image/"):
		return dg.Dispatcher.HandlePhoto(ctx, dg, chatID, capture.DataURI(data))
	case strings.HasPrefix(contentType, "audio/"):
		return dg.Dispatcher.HandleVoice(ctx, dg, chatID, data, contentType)
	}
	return "I can read images and voice notes. Other attachments aren't supported."
}

func (dg *DiscordGateway) Send(chatID string, text string) error {
	_, err := dg.Session.ChannelMessageSend(chatID, text)
	return err
}

func (dg *DiscordGateway) Stop() error {
	select {
	case <-dg.done:
	default:
		close(dg.done)
	}
	return dg.Session.Close()
}

// commandName extracts "done" from "/done" or "/done@bot extra".
func commandName(content string) string {
	fields := strings.Fields(strings.TrimPrefix(content, "/"))
	if len(fields) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return name
}
