package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// CommandFunc produces the reply text for a command
type CommandFunc func(ctx context.Context, args []string) (string, error)

// Commands dispatches bot commands to registered functions
type Commands struct {
	bot      *Bot
	logger   zerolog.Logger
	timeout  time.Duration
	handlers map[string]CommandFunc
	help     map[string]string
}

// NewCommands creates a command dispatcher that replies through bot
func NewCommands(bot *Bot) *Commands {
	return &Commands{
		bot:      bot,
		logger:   bot.logger.With().Str("module", "commands").Logger(),
		timeout:  30 * time.Second,
		handlers: make(map[string]CommandFunc),
		help:     make(map[string]string),
	}
}

// Register registers a command handler
func (c *Commands) Register(command, description string, handler CommandFunc) {
	c.handlers[command] = handler
	c.help[command] = description
}

// HandleCommand runs the handler for the command and replies with its output
func (c *Commands) HandleCommand(update tgbotapi.Update) error {
	if update.Message == nil || !update.Message.IsCommand() {
		return nil
	}

	msg := update.Message
	command := msg.Command()
	args := strings.Fields(msg.CommandArguments())

	c.logger.Debug().
		Int64("chat_id", msg.Chat.ID).
		Str("command", command).
		Strs("args", args).
		Msg("Command received")

	if command == "help" || command == "start" {
		return c.bot.SendMessage(msg.Chat.ID, c.Help(), msg.MessageID)
	}

	handler, exists := c.handlers[command]
	if !exists {
		return c.bot.SendMessage(msg.Chat.ID, fmt.Sprintf("Unknown command: /%s", command), msg.MessageID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	reply, err := handler(ctx, args)
	if err != nil {
		c.logger.Warn().Err(err).Str("command", command).Msg("Command failed")
		reply = fmt.Sprintf("/%s failed: %v", command, err)
	}
	for _, chunk := range Split(reply, MaxMessageLength) {
		if err := c.bot.SendMessage(msg.Chat.ID, chunk, msg.MessageID); err != nil {
			return err
		}
	}
	return nil
}

// Help lists the registered commands
func (c *Commands) Help() string {
	var b strings.Builder
	b.WriteString("Mission Control commands:\n")
	for _, cmd := range c.Registered() {
		fmt.Fprintf(&b, "/%s - %s\n", cmd, c.help[cmd])
	}
	return strings.TrimRight(b.String(), "\n")
}

// SetCommands publishes the command list to Telegram
func (c *Commands) SetCommands() error {
	var commands []tgbotapi.BotCommand
	for _, cmd := range c.Registered() {
		commands = append(commands, tgbotapi.BotCommand{Command: cmd, Description: c.help[cmd]})
	}
	if _, err := c.bot.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		return fmt.Errorf("failed to set commands: %w", err)
	}
	return nil
}

// Registered returns registered command names, sorted
func (c *Commands) Registered() []string {
	commands := make([]string, 0, len(c.handlers))
	for cmd := range c.handlers {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}
