package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"pricewatch/internal/domain"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/storage"
	"pricewatch/internal/tracker"
)

// Tracker is the tracking surface the bot drives.
type Tracker interface {
	Track(ctx context.Context, userID int64, rawURL string, target *float64) (tracker.TrackResult, error)
	Untrack(ctx context.Context, userID int64, productID uint64) error
	ListTracked(ctx context.Context, userID int64) ([]tracker.Tracked, error)
	Insight(ctx context.Context, productID uint64) (tracker.Insight, error)
}

// Trigger runs the price check chain on demand.
type Trigger interface {
	TriggerNow(ctx context.Context) error
}

// Users is the slice of the repository the bot reads and writes directly.
type Users interface {
	GetUser(ctx context.Context, id int64) (domain.User, error)
	PutUser(ctx context.Context, u domain.User) error
	SetPaused(ctx context.Context, userID int64, productID uint64, paused bool) error
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID int64, ids ...string) (int, error)
}

// Deps are the collaborators of the bot.
type Deps struct {
	Tracker     Tracker
	Trigger     Trigger
	Users       Users
	FormatPrice func(float64) string
}

// Handler holds dependencies for the Telegram bot handlers.
type Handler struct {
	bot  *tgbot.Bot
	deps Deps
	log  logrus.FieldLogger
}

// NewHandler creates a new bot handler instance.
func NewHandler(token string, deps Deps, logger logrus.FieldLogger, opts ...tgbot.Option) (*Handler, error) {
	log := logger.WithField("component", "bot_handler")

	b, err := tgbot.New(token, opts...)
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	if deps.FormatPrice == nil {
		deps.FormatPrice = func(v float64) string { return fmt.Sprintf("%.2f", v) }
	}

	h := &Handler{bot: b, deps: deps, log: log}
	h.registerHandlers()

	log.Info("Telegram bot handler initialized")
	return h, nil
}

// registerHandlers sets up the command and message handlers.
func (h *Handler) registerHandlers() {
	commands := map[string]tgbot.HandlerFunc{
		"/start":         h.startHandler,
		"/email":         h.emailHandler,
		"/track":         h.trackHandler,
		"/untrack":       h.untrackHandler,
		"/pause":         h.pauseHandler,
		"/resume":        h.resumeHandler,
		"/list":          h.listHandler,
		"/predict":       h.predictHandler,
		"/notifications": h.notificationsHandler,
		"/checknow":      h.checkNowHandler,
	}
	for cmd, fn := range commands {
		h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, cmd, tgbot.MatchTypePrefix, fn)
	}
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "http", tgbot.MatchTypePrefix, h.linkHandler)
	h.log.WithField("commands", len(commands)).Info("Registered command handlers")
}

// Start begins polling for updates from Telegram.
// This function blocks until the context is cancelled.
func (h *Handler) Start(ctx context.Context) {
	h.log.Info("Starting Telegram bot polling...")
	h.bot.Start(ctx)
	h.log.Info("Telegram bot polling stopped.")
}

func (h *Handler) reply(ctx context.Context, update *models.Update, text string) {
	_, err := h.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   text,
	})
	if err != nil {
		h.log.WithError(err).WithField("chat_id", update.Message.Chat.ID).Error("Failed to send message")
	}
}

func (h *Handler) commandLog(update *models.Update, command string) logrus.FieldLogger {
	return h.log.WithFields(logrus.Fields{"user_id": update.Message.From.ID, "command": command})
}

// startHandler registers the sender and their chat.
func (h *Handler) startHandler(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	log := h.commandLog(update, "/start")
	from := update.Message.From

	user, err := h.deps.Users.GetUser(ctx, from.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.WithError(err).Error("Failed to load user")
		h.reply(ctx, update, "Something went wrong, please try again.")
		return
	}
	user.ID = from.ID
	user.Name = strings.TrimSpace(from.FirstName + " " + from.LastName)
	user.ChatID = update.Message.Chat.ID
	if err := h.deps.Users.PutUser(ctx, user); err != nil {
		log.WithError(err).Error("Failed to save user")
		h.reply(ctx, update, "Something went wrong, please try again.")
		return
	}
	log.Info("User registered")

	h.reply(ctx, update, "Welcome to PriceWatch! Send me a product link and I'll watch its price.\n\n"+
		"/track <url> [target] - track a product\n"+
		"/list - your tracked products\n"+
		"/predict <id> - buy or wait advice\n"+
		"/email <address> - get alerts by email\n"+
		"/pause <id>, /resume <id>, /untrack <id>\n"+
		"/notifications - unread alerts\n"+
		"/checknow - check all prices now")
}

func (h *Handler) emailHandler(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	log := h.commandLog(update, "/email")
	addr, err := parseEmail(commandArgs(update.Message.Text))
	if err != nil {
		h.reply(ctx, update, "Usage: /email you@example.com")
		return
	}
	user, err := h.deps.Users.GetUser(ctx, update.Message.From.ID)
	if errors.Is(err, storage.ErrNotFound) {
		user = domain.User{ID: update.Message.From.ID, ChatID: update.Message.Chat.ID}
	} else if err != nil {
		log.WithError(err).Error("Failed to load user")
		h.reply(ctx, update, "Something went wrong, please try again.")
		return
	}
	user.Email = addr
	if err := h.deps.Users.PutUser(ctx, user); err != nil {
		log.WithError(err).Error("Failed to save email")
		h.reply(ctx, update, "Something went wrong, please try again.")
		return
	}
	h.reply(ctx, update, "Email alerts will go to "+addr)
}

func (h *Handler) trackHandler(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	rawURL, target, err := parseTrackArgs(commandArgs(update.Message.Text))
	if err != nil {
		h.reply(ctx, update, "Usage: /track <product url> [target price]")
		return
	}
	h.track(ctx, update, rawURL, target)
}

// linkHandler treats a bare link as /track without a target.
func (h *Handler) linkHandler(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	if !looksLikeURL(update.Message.Text) {
		return
	}
	h.track(ctx, update, strings.Fields(update.Message.Text)[0], nil)
}

func (h *Handler) track(ctx context.Context, update *models.Update, rawURL string, target *float64) {
	log := h.commandLog(update, "/track").WithField("url", rawURL)

	res, err := h.deps.Tracker.Track(ctx, update.Message.From.ID, rawURL, target)
	if err != nil {
		if errors.Is(err, tracker.ErrInvalidURL) {
			h.reply(ctx, update, "That doesn't look like a product link.")
			return
		}
		log.WithError(err).Error("Failed to track product")
		h.reply(ctx, update, "Could not start tracking that product, please try again.")
		return
	}
	if res.ScrapeErr != nil {
		h.reply(ctx, update, fmt.Sprintf("Added #%d but the price fetch failed. I'll retry on the next check.", res.Product.ID))
		return
	}
	msg := fmt.Sprintf("Now tracking #%d %s", res.Product.ID, res.Product.DisplayName())
	if res.Product.LastPrice != nil {
		msg += " at " + h.deps.FormatPrice(*res.Product.LastPrice)
	}
	if target != nil {
		msg += "\nTarget: " + h.deps.FormatPrice(*target)
	}
	h.reply(ctx, update, msg)
}

func (h *Handler) untrackHandler(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	id, err := parseProductID(commandArgs(update.Message.Text))
	if err != nil {
		h.reply(ctx, update, "Usage: /untrack <product id>")
		return
	}
	if err := h.deps.Tracker.Untrack(ctx, update.Message.From.ID, id); err != nil {
		h.commandLog(update, "/untrack").WithError(err).Error("Failed to untrack product")
		h.reply(ctx, update, "Could not untrack that product.")
		return
	}
	h.reply(ctx, update, fmt.Sprintf("Stopped tracking #%d.", id))
}

func (h *Handler) pauseHandler(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	h.setPaused(ctx, update, "/pause", true)
}

func (h *Handler) resumeHandler(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	h.setPaused(ctx, update, "/resume", false)
}

func (h *Handler) setPaused(ctx context.Context, update *models.Update, command string, paused bool) {
	id, err := parseProductID(commandArgs(update.Message.Text))
	if err != nil {
		h.reply(ctx, update, "Usage: "+command+" <product id>")
		return
	}
	err = h.deps.Users.SetPaused(ctx, update.Message.From.ID, id, paused)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.reply(ctx, update, fmt.Sprintf("You are not tracking #%d.", id))
	case err != nil:
		h.commandLog(update, command).WithError(err).Error("Failed to update subscription")
		h.reply(ctx, update, "Something went wrong, please try again.")
	case paused:
		h.reply(ctx, update, fmt.Sprintf("Alerts for #%d paused.", id))
	default:
		h.reply(ctx, update, fmt.Sprintf("Alerts for #%d resumed.", id))
	}
}

func (h *Handler) listHandler(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	items, err := h.deps.Tracker.ListTracked(ctx, update.Message.From.ID)
	if err != nil {
		h.commandLog(update, "/list").WithError(err).Error("Failed to list tracked products")
		h.reply(ctx, update, "Something went wrong, please try again.")
		return
	}
	h.reply(ctx, update, formatTracked(items, h.deps.FormatPrice))
}

func (h *Handler) predictHandler(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	id, err := parseProductID(commandArgs(update.Message.Text))
	if err != nil {
		h.reply(ctx, update, "Usage: /predict <product id>")
		return
	}
	in, err := h.deps.Tracker.Insight(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.reply(ctx, update, fmt.Sprintf("Product #%d not found.", id))
		return
	case err != nil:
		h.commandLog(update, "/predict").WithError(err).Error("Failed to build insight")
		h.reply(ctx, update, "Something went wrong, please try again.")
		return
	}
	h.reply(ctx, update, formatInsight(in, h.deps.FormatPrice))
}

func (h *Handler) notificationsHandler(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	log := h.commandLog(update, "/notifications")
	userID := update.Message.From.ID

	notes, err := h.deps.Users.ListNotifications(ctx, userID, true, 10)
	if err != nil {
		log.WithError(err).Error("Failed to list notifications")
		h.reply(ctx, update, "Something went wrong, please try again.")
		return
	}
	if len(notes) == 0 {
		h.reply(ctx, update, "No unread notifications.")
		return
	}
	var b strings.Builder
	shown := make([]string, 0, len(notes))
	for _, n := range notes {
		fmt.Fprintf(&b, "%s  %s\n", n.CreatedAt.Format("Jan 2 15:04"), n.Message)
		shown = append(shown, n.ID)
	}
	h.reply(ctx, update, b.String())

	if _, err := h.deps.Users.MarkNotificationsRead(ctx, userID, shown...); err != nil {
		log.WithError(err).Warn("Failed to mark notifications read")
	}
}

func (h *Handler) checkNowHandler(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	log := h.commandLog(update, "/checknow")
	h.reply(ctx, update, "Checking all prices now...")

	err := h.deps.Trigger.TriggerNow(ctx)
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		h.reply(ctx, update, "A price check is already running. Try again in a few minutes.")
	case err != nil:
		log.WithError(err).Warn("Manual check finished with errors")
		h.reply(ctx, update, "Price check finished with some errors. Check /notifications for details.")
	default:
		log.Info("Manual check completed")
		h.reply(ctx, update, "Price check complete. See /notifications for any alerts.")
	}
}
