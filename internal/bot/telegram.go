package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"weather-bot/internal/models"
	"weather-bot/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const cancelButtonText = "❌ Cancel"

// TelegramBot is the transport collaborator: it decodes Telegram updates
// into controller events and renders the resulting screens as messages
// with inline keyboards.
type TelegramBot struct {
	bot        *tgbotapi.BotAPI
	controller *Controller
	logger     *logger.Logger

	// lastMessage remembers the bot's latest screen message per chat so
	// the next screen can be edited in place.
	lastMessage map[int64]int
	lastMu      sync.Mutex
}

func NewTelegramBot(token string, controller *Controller, logger *logger.Logger) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	logger.Info("Authorized on Telegram", "username", api.Self.UserName)

	return &TelegramBot{
		bot:         api,
		controller:  controller,
		logger:      logger,
		lastMessage: make(map[int64]int),
	}, nil
}

// Start begins receiving updates from Telegram via polling
func (t *TelegramBot) Start(ctx context.Context) error {
	// Remove any existing webhook to ensure we can use polling
	_, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: true,
	})
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	updates := t.bot.GetUpdatesChan(updateConfig)

	t.logger.Info("Started receiving Telegram updates")

	go t.handleUpdates(ctx, updates)

	return nil
}

// handleUpdates processes incoming updates. Each update runs in its own
// goroutine; the session store serializes per-user handling, so one
// user's slow fetch never blocks another user.
func (t *TelegramBot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		go func(update tgbotapi.Update) {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("Recovered from panic while processing update", "error", r)
				}
			}()

			if update.Message != nil {
				t.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				t.handleCallbackQuery(ctx, update.CallbackQuery)
			}
		}(update)
	}
}

func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID

	var ev Event
	switch {
	case message.IsCommand():
		if message.Command() != "start" {
			t.send(chatID, &models.Screen{Text: "Unknown command. Use /start."})
			return
		}
		ev = Event{Kind: EventStart}
	case message.Location != nil:
		ev = Event{Kind: EventLocationShared, Lat: message.Location.Latitude, Lon: message.Location.Longitude}
	case message.Text == cancelButtonText:
		ev = Event{Kind: EventCancelLocationRequest}
	case message.Text != "":
		ev = Event{Kind: EventPlaceTextSubmitted, Text: message.Text}
	default:
		return
	}

	screen, err := t.controller.HandleEvent(ctx, userID, ev)
	if err != nil {
		t.logger.Error("Failed to handle message", "user_id", userID, "error", err)
		screen = &models.Screen{Text: "Something went wrong. Use /start to return to the menu."}
	}
	if screen == nil {
		return
	}

	// Screens produced by plain messages arrive as fresh messages; the
	// user's own input stays above them. Reply-keyboard leftovers from
	// the location flow are cleared first.
	if ev.Kind == EventLocationShared || ev.Kind == EventCancelLocationRequest {
		t.removeReplyKeyboard(chatID)
	}
	t.deleteLastMessage(chatID)
	t.send(chatID, screen)
}

func (t *TelegramBot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	userID := callback.From.ID
	chatID := callback.Message.Chat.ID

	ev, ok := decodeCallback(callback.Data)
	if !ok {
		t.logger.Error("Unknown callback data", "data", callback.Data)
		t.answer(callback.ID)
		return
	}

	screen, err := t.controller.HandleEvent(ctx, userID, ev)
	if err != nil {
		t.logger.Error("Failed to handle callback", "user_id", userID, "error", err)
		t.alert(callback.ID, "Something went wrong. Try again later.")
		return
	}
	if screen == nil {
		t.answer(callback.ID)
		return
	}

	if screen.Alert {
		t.alert(callback.ID, screen.Text)
		return
	}

	if isLocationRequest(screen) {
		// The location prompt needs a reply keyboard with a location
		// button, which inline markup cannot express.
		t.answer(callback.ID)
		t.deleteLastMessage(chatID)
		t.sendLocationPrompt(chatID, screen.Text)
		return
	}

	t.editOrResend(chatID, callback.Message.MessageID, screen)
	t.answer(callback.ID)
}

// decodeCallback maps a callback payload to a controller event.
func decodeCallback(data string) (Event, bool) {
	switch data {
	case ActionMainMenu:
		return Event{Kind: EventMainMenu}, true
	case ActionAddPlace:
		return Event{Kind: EventAddPlaceStart}, true
	case ActionDeletePlace:
		return Event{Kind: EventDeletePlaceStart}, true
	case ActionCurrentLocation:
		return Event{Kind: EventRequestLocation}, true
	case ActionCancelLocation:
		return Event{Kind: EventCancelLocationRequest}, true
	case ActionCompare:
		return Event{Kind: EventCompareStart}, true
	case ActionCompareContinue:
		return Event{Kind: EventCompareContinue}, true
	case ActionCompareExecute:
		return Event{Kind: EventCompareExecute}, true
	case ActionForecastCurrent, ActionForecastToday, ActionForecast5Days:
		return Event{Kind: EventForecastRequested, Forecast: data}, true
	}

	for prefix, kind := range map[string]EventKind{
		PrefixPlace:         EventSelectPlace,
		PrefixDeleteConfirm: EventDeletePlaceConfirm,
		PrefixDeleteFinal:   EventDeletePlaceFinal,
		PrefixComparePlace:  EventComparePlaceToggle,
	} {
		if strings.HasPrefix(data, prefix) {
			id, err := strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
			if err != nil {
				return Event{}, false
			}
			return Event{Kind: kind, PlaceID: id}, true
		}
	}

	if strings.HasPrefix(data, PrefixCompareDay) {
		return Event{Kind: EventCompareDayToggle, Date: strings.TrimPrefix(data, PrefixCompareDay)}, true
	}

	return Event{}, false
}

func isLocationRequest(screen *models.Screen) bool {
	for _, opt := range screen.Options {
		if opt.Action == ActionShareLocation {
			return true
		}
	}
	return false
}

func inlineKeyboard(options []models.Option) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options))
	for _, opt := range options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(opt.Label, opt.Action),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// editOrResend edits the previous screen message in place. Any edit
// failure falls back to deleting and resending, so the user always sees
// the final screen text.
func (t *TelegramBot) editOrResend(chatID int64, messageID int, screen *models.Screen) {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, screen.Text, inlineKeyboard(screen.Options))
	if _, err := t.bot.Send(edit); err == nil {
		t.rememberMessage(chatID, messageID)
		return
	}

	t.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	t.send(chatID, screen)
}

func (t *TelegramBot) send(chatID int64, screen *models.Screen) {
	msg := tgbotapi.NewMessage(chatID, screen.Text)
	if len(screen.Options) > 0 {
		msg.ReplyMarkup = inlineKeyboard(screen.Options)
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		t.logger.Error("Failed to send message", "chat_id", chatID, "error", err)
		return
	}
	t.rememberMessage(chatID, sent.MessageID)
}

func (t *TelegramBot) sendLocationPrompt(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.ReplyKeyboardMarkup{
		Keyboard: [][]tgbotapi.KeyboardButton{
			{tgbotapi.NewKeyboardButtonLocation("📍 Send location")},
			{tgbotapi.NewKeyboardButton(cancelButtonText)},
		},
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		t.logger.Error("Failed to send location prompt", "chat_id", chatID, "error", err)
		return
	}
	t.rememberMessage(chatID, sent.MessageID)
}

// removeReplyKeyboard clears the location reply keyboard with a
// throwaway message, since Telegram has no standalone removal call.
func (t *TelegramBot) removeReplyKeyboard(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "…")
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	sent, err := t.bot.Send(msg)
	if err != nil {
		return
	}
	t.bot.Request(tgbotapi.NewDeleteMessage(chatID, sent.MessageID))
}

func (t *TelegramBot) rememberMessage(chatID int64, messageID int) {
	t.lastMu.Lock()
	t.lastMessage[chatID] = messageID
	t.lastMu.Unlock()
}

func (t *TelegramBot) deleteLastMessage(chatID int64) {
	t.lastMu.Lock()
	messageID, ok := t.lastMessage[chatID]
	if ok {
		delete(t.lastMessage, chatID)
	}
	t.lastMu.Unlock()
	if ok {
		t.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	}
}

func (t *TelegramBot) answer(callbackID string) {
	t.bot.Request(tgbotapi.NewCallback(callbackID, ""))
}

func (t *TelegramBot) alert(callbackID, text string) {
	t.bot.Request(tgbotapi.NewCallbackWithAlert(callbackID, text))
}

// Stop gracefully shuts down the bot
func (t *TelegramBot) Stop(ctx context.Context) error {
	t.bot.StopReceivingUpdates()

	// Allow time for handlers to complete
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
		return nil
	}
}
