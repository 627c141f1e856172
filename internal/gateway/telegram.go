package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/UmanUmair/ScreenGuide/internal/capture"
	"github.com/UmanUmair/ScreenGuide/internal/observability"
)

type TelegramGateway struct {
	Bot        *tgbotapi.BotAPI
	Dispatcher *Dispatcher
	logger     *observability.Logger
	client     *http.Client
}

func NewTelegramGateway(token string, dispatcher *Dispatcher, logger *observability.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	logger.Info("telegram authorized", zap.String("account", bot.Self.UserName))

	return &TelegramGateway{
		Bot:        bot,
		Dispatcher: dispatcher,
		logger:     logger,
		client:     &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (tg *TelegramGateway) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}
		tg.handle(update.Message)
	}
	return nil
}

func (tg *TelegramGateway) handle(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	user := ""
	if msg.From != nil {
		user = msg.From.UserName
	}
	tg.logger.Info("telegram message", zap.String("chat_id", chatID), zap.String("user", user))

	var reply string
	switch {
	case msg.IsCommand():
		reply = tg.Dispatcher.HandleCommand(ctx, tg, chatID, msg.Command())
	case len(msg.Photo) > 0:
		// Photo sizes are ordered smallest first.
		largest := msg.Photo[len(msg.Photo)-1]
		data, _, err := tg.fetchFile(ctx, largest.FileID)
		if err != nil {
			reply = errorReply(err)
			break
		}
		reply = tg.Dispatcher.HandlePhoto(ctx, tg, chatID, capture.DataURI(data))
	case msg.Voice != nil:
		data, _, err := tg.fetchFile(ctx, msg.Voice.FileID)
		if err != nil {
			reply = errorReply(err)
			break
		}
		mimeType := msg.Voice.MimeType
		if mimeType == "" {
			mimeType = "audio/ogg"
		}
		reply = tg.Dispatcher.HandleVoice(ctx, tg, chatID, data, mimeType)
	case msg.Text != "":
		reply = tg.Dispatcher.HandleText(ctx, tg, chatID, msg.Text)
	default:
		reply = helpText
	}

	if err := tg.Send(chatID, reply); err != nil {
		tg.logger.Warn("telegram send failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (tg *TelegramGateway) fetchFile(ctx context.Context, fileID string) ([]byte, string, error) {
	url, err := tg.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve file: %w", err)
	}
	return download(ctx, tg.client, url)
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	_, err = tg.Bot.Send(tgbotapi.NewMessage(id, text))
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
