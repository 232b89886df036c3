package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"photocron/internal/retry"
)

// MaxPhotoSize is the Bot API upload limit.
const MaxPhotoSize = 50 * 1024 * 1024

var ErrFileTooLarge = errors.New("file too large")

type Config struct {
	Token   string
	ChatID  string // numeric id or @channel
	APIURL  string // e.g. https://api.telegram.org
	Timeout time.Duration
}

type Client struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	channel string
}

// New connects to the Bot API and verifies the token.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, errors.New("telegram: token and chat id are required")
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, apiURL+"/bot%s/%s", &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	c := &Client{bot: bot}
	if id, err := strconv.ParseInt(cfg.ChatID, 10, 64); err == nil {
		c.chatID = id
	} else {
		c.channel = cfg.ChatID
	}
	log.Info().Str("bot", bot.Self.UserName).Str("chat", cfg.ChatID).Msg("telegram client ready")
	return c, nil
}

// SendPhoto uploads the file at path and returns the message id. Errors are
// marked retryable or terminal for retry.Execute.
func (c *Client) SendPhoto(ctx context.Context, path, caption string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, retry.Terminal(fmt.Errorf("stat photo: %w", err))
	}
	if info.Size() > MaxPhotoSize {
		return 0, retry.Terminal(fmt.Errorf("%w: %d bytes > %d bytes", ErrFileTooLarge, info.Size(), MaxPhotoSize))
	}
	if caption == "" {
		caption = "📸 " + filepath.Base(path)
	}

	params := make(tgbotapi.Params)
	if err := params.AddFirstValid("chat_id", c.chatID, c.channel); err != nil {
		return 0, retry.Terminal(fmt.Errorf("chat id: %w", err))
	}
	params.AddNonEmpty("caption", caption)
	files := []tgbotapi.RequestFile{{Name: "photo", Data: tgbotapi.FilePath(path)}}

	resp, err := c.bot.UploadFiles("sendPhoto", params, files)
	if err != nil {
		return 0, classify(resp, err)
	}
	var sent tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &sent); err != nil {
		return 0, retry.Terminal(fmt.Errorf("decode sendPhoto result: %w", err))
	}
	return sent.MessageID, nil
}

// classify marks Bot API rejections: rate limits and server errors are
// retryable, everything else the API refuses is terminal. Transport errors
// are left to the default classifier.
func classify(resp *tgbotapi.APIResponse, err error) error {
	code, retryAfter := 0, 0
	if resp != nil {
		code = resp.ErrorCode
		if resp.Parameters != nil {
			retryAfter = resp.Parameters.RetryAfter
		}
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if code == 0 {
			code = apiErr.Code
		}
		if retryAfter == 0 {
			retryAfter = apiErr.RetryAfter
		}
	}
	if code == 0 && retryAfter == 0 {
		return fmt.Errorf("telegram send: %w", err)
	}

	wrapped := fmt.Errorf("telegram API error %d: %w", code, err)
	if retryAfter > 0 || code == http.StatusTooManyRequests || code >= 500 {
		return retry.Retryable(wrapped)
	}
	return retry.Terminal(wrapped)
}
