package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

type Service struct {
	logger   *logrus.Logger
	client   *http.Client
	enabled  bool
	botToken string
	chatID   string
	baseURL  string
}

func NewService(cfg *config.Config, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		logger: logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		enabled:  cfg.Telegram.Enabled,
		botToken: cfg.Telegram.BotToken,
		chatID:   cfg.Telegram.ChatID,
		baseURL:  strings.TrimRight(cfg.Telegram.BaseURL, "/"),
	}
}

// SendMessage sends a message to the configured Telegram chat
func (s *Service) SendMessage(ctx context.Context, message string) error {
	if !s.enabled {
		return nil
	}

	if s.botToken == "" {
		return errors.New("telegram bot token is not configured")
	}

	if s.chatID == "" {
		return errors.New("telegram chat ID is not configured")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	payload := map[string]interface{}{
		"chat_id":    s.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message to Telegram API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return errors.New("invalid bot token - please check your token from @BotFather")
		case http.StatusBadRequest:
			return fmt.Errorf("invalid chat ID or message format: %s", string(body))
		case http.StatusForbidden:
			return errors.New("bot was blocked by the user or chat")
		case http.StatusNotFound:
			return errors.New("bot not found - please check your token from @BotFather")
		default:
			return fmt.Errorf("telegram API error (status %d): %s", resp.StatusCode, string(body))
		}
	}

	return nil
}

// NotifyMarketGap sends an alert for an underpriced property
func (s *Service) NotifyMarketGap(ctx context.Context, property *models.Property, gap *models.MarketGapRecord) error {
	if !s.enabled {
		return nil
	}
	s.logger.WithFields(logrus.Fields{
		"property_id": property.ID,
		"gap":         gap.GapPercentage,
		"confidence":  gap.Confidence,
	}).Debug("Sending market gap alert")
	return s.SendMessage(ctx, FormatMarketGap(property, gap))
}

// FormatMarketGap renders the alert text in Telegram HTML
func FormatMarketGap(property *models.Property, gap *models.MarketGapRecord) string {
	title := "<b>Market gap found</b>"
	if gap.Confidence == models.ConfidenceHigh {
		title = "<b>🔥 Strong market gap found</b>"
	}

	location := property.City
	if property.District != "" {
		location = property.District + ", " + location
	}
	if property.Street != "" {
		location = property.Street + ", " + location
	}

	level := "street"
	if gap.ComparableLevel == models.LevelDistrict {
		level = "district"
	}

	return fmt.Sprintf(
		"%s\n\n"+
			"🏠 %s\n"+
			"📍 %s\n"+
			"💰 €%d (€%.0f/m²)\n"+
			"📐 %.0f m², %d rooms\n"+
			"📊 %.1f%% below the %s mean of €%.0f/m² (%d samples)\n"+
			"💵 Potential profit: €%s",
		title,
		html.EscapeString(property.Title),
		html.EscapeString(location),
		property.Price,
		gap.PricePerArea,
		property.Area,
		property.Rooms,
		gap.GapPercentage,
		level,
		gap.ComparableMean,
		gap.SampleCount,
		gap.PotentialProfit.StringFixed(0),
	)
}
