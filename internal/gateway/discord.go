package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/rahul/novaflow/internal/agent"
	"github.com/rahul/novaflow/internal/governance"
)

// DiscordChatPrefix marks chat IDs that belong to Discord channels.
const DiscordChatPrefix = "discord:"

const discordMessageLimit = 2000

type DiscordGateway struct {
	Session  *discordgo.Session
	Brain    agent.Brain
	Confirms *Confirmations

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func NewDiscordGateway(token string, brain agent.Brain) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentGuildMessages | discordgo.IntentDirectMessages | discordgo.IntentMessageContent

	ctx, cancel := context.WithCancel(context.Background())
	dg := &DiscordGateway{
		Session:  s,
		Brain:    brain,
		Confirms: NewConfirmations(),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.AddHandler(dg.onMessage)
	return dg, nil
}

// Start opens the websocket and blocks until Stop.
func (dg *DiscordGateway) Start() error {
	if err := dg.Session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	log.Println("Discord gateway connected")
	<-dg.ctx.Done()
	return nil
}

func (dg *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Content == "" {
		return
	}
	log.Printf("[discord:%s] %s", m.Author.Username, m.Content)

	chatID := DiscordChatPrefix + m.ChannelID
	if dg.Confirms.Resolve(chatID, m.Content) {
		return
	}
	go dg.handle(chatID, m.ChannelID, m.Content)
}

func (dg *DiscordGateway) handle(chatID, channelID, text string) {
	_ = dg.Session.ChannelTyping(channelID)
	response, err := dg.Brain.Think(dg.ctx, chatID, text)
	if err != nil {
		log.Printf("Error thinking: %v", err)
	}
	if err := dg.Send(chatID, replyFor(response, err)); err != nil {
		log.Printf("Error sending reply to %s: %v", chatID, err)
	}
}

// Send posts text to the channel, split to fit Discord's message limit.
func (dg *DiscordGateway) Send(chatID string, text string) error {
	if !dg.Owns(chatID) {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}
	channelID := strings.TrimPrefix(chatID, DiscordChatPrefix)
	for _, chunk := range splitMessage(text, discordMessageLimit) {
		if _, err := dg.Session.ChannelMessageSend(channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (dg *DiscordGateway) Confirm(ctx context.Context, chatID string, step agent.Step, d governance.Decision) (bool, error) {
	if err := dg.Send(chatID, ConfirmationPrompt(step, d)); err != nil {
		return false, fmt.Errorf("send confirmation request: %w", err)
	}
	return dg.Confirms.Await(ctx, chatID)
}

func (dg *DiscordGateway) Owns(chatID string) bool {
	return strings.HasPrefix(chatID, DiscordChatPrefix) && len(chatID) > len(DiscordChatPrefix)
}

func (dg *DiscordGateway) Stop() error {
	var err error
	dg.stopOnce.Do(func() {
		dg.cancel()
		err = dg.Session.Close()
	})
	return err
}

// splitMessage cuts text into pieces of at most limit runes, preferring
// line breaks.
func splitMessage(text string, limit int) []string {
	r := []rune(text)
	if len(r) <= limit {
		return []string{text}
	}
	var out []string
	for len(r) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if r[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(r[:cut]))
		r = r[cut:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
