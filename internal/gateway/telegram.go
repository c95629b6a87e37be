package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rahul/novaflow/internal/agent"
	"github.com/rahul/novaflow/internal/governance"
)

type TelegramGateway struct {
	Bot      *tgbotapi.BotAPI
	Brain    agent.Brain
	Confirms *Confirmations

	ctx    context.Context
	cancel context.CancelFunc
}

func NewTelegramGateway(token string, brain agent.Brain) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	ctx, cancel := context.WithCancel(context.Background())
	return &TelegramGateway{
		Bot:      bot,
		Brain:    brain,
		Confirms: NewConfirmations(),
		ctx:      ctx,
		cancel:   cancel,
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

		log.Printf("[%s] %s", update.Message.From.UserName, update.Message.Text)

		chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
		if tg.Confirms.Resolve(chatID, update.Message.Text) {
			continue
		}

		// Goals run off the update loop so confirmation replies can still
		// arrive while one is executing.
		go tg.handle(chatID, update.Message.Chat.ID, update.Message.Text)
	}
	return nil
}

func (tg *TelegramGateway) handle(chatID string, id int64, text string) {
	typing := tgbotapi.NewChatAction(id, tgbotapi.ChatTyping)
	_, _ = tg.Bot.Request(typing)

	response, err := tg.Brain.Think(tg.ctx, chatID, text)
	if err != nil {
		log.Printf("Error thinking: %v", err)
	}
	if _, err := tg.Bot.Send(tgbotapi.NewMessage(id, replyFor(response, err))); err != nil {
		log.Printf("Error sending reply to %s: %v", chatID, err)
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	msg := tgbotapi.NewMessage(id, text)
	_, err = tg.Bot.Send(msg)
	return err
}

// Confirm asks the chat to approve an irreversible step and waits for the
// answer.
func (tg *TelegramGateway) Confirm(ctx context.Context, chatID string, step agent.Step, d governance.Decision) (bool, error) {
	if err := tg.Send(chatID, ConfirmationPrompt(step, d)); err != nil {
		return false, fmt.Errorf("send confirmation request: %w", err)
	}
	return tg.Confirms.Await(ctx, chatID)
}

// Owns reports whether chatID is a Telegram chat ID.
func (tg *TelegramGateway) Owns(chatID string) bool {
	_, err := strconv.ParseInt(chatID, 10, 64)
	return err == nil
}

func (tg *TelegramGateway) Stop() error {
	tg.cancel()
	tg.Bot.StopReceivingUpdates()
	return nil
}
