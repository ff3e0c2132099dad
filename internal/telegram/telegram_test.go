package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

func testService(t *testing.T, handler http.HandlerFunc, enabled bool) *Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Telegram.Enabled = enabled
	cfg.Telegram.BotToken = "123:abc"
	cfg.Telegram.ChatID = "-1001"
	cfg.Telegram.BaseURL = server.URL

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewService(cfg, logger)
}

func gapFixture() (*models.Property, *models.MarketGapRecord) {
	property := &models.Property{
		ID: 9, Title: "2-izbový byt <novostavba>", City: "Košice", District: "Staré Mesto",
		Street: "Hlavná", Price: 120000, Area: 60, Rooms: 2,
	}
	gap := &models.MarketGapRecord{
		PropertyID: 9, GapPercentage: 20, PricePerArea: 2000, ComparableMean: 2500,
		ComparableLevel: models.LevelStreet, SampleCount: 12,
		PotentialProfit: decimal.NewFromInt(30000), Confidence: models.ConfidenceMedium,
	}
	return property, gap
}

func TestNotifyMarketGap(t *testing.T) {
	var received map[string]interface{}
	var path string
	s := testService(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}, true)

	property, gap := gapFixture()
	require.NoError(t, s.NotifyMarketGap(context.Background(), property, gap))

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "-1001", received["chat_id"])
	assert.Equal(t, "HTML", received["parse_mode"])
	text := received["text"].(string)
	assert.Contains(t, text, "20.0% below the street mean of €2500/m²")
	assert.Contains(t, text, "Hlavná, Staré Mesto, Košice")
	assert.Contains(t, text, "&lt;novostavba&gt;")
	assert.Contains(t, text, "Potential profit: €30000")
}

func TestNotifyMarketGapDisabled(t *testing.T) {
	called := false
	s := testService(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, false)

	property, gap := gapFixture()
	require.NoError(t, s.NotifyMarketGap(context.Background(), property, gap))
	assert.False(t, called)
}

func TestSendMessageErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{name: "bad token", status: http.StatusUnauthorized, want: "invalid bot token"},
		{name: "bad chat", status: http.StatusBadRequest, want: "invalid chat ID"},
		{name: "blocked", status: http.StatusForbidden, want: "blocked"},
		{name: "server error", status: http.StatusBadGateway, want: "status 502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testService(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"ok":false}`))
			}, true)

			err := s.SendMessage(context.Background(), "hello")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFormatMarketGapHighConfidence(t *testing.T) {
	property, gap := gapFixture()
	gap.Confidence = models.ConfidenceHigh
	gap.ComparableLevel = models.LevelDistrict

	text := FormatMarketGap(property, gap)
	assert.Contains(t, text, "Strong market gap")
	assert.Contains(t, text, "district mean")
}
