package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"safewalk/models"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramChannel posts to contacts' Telegram chats through the Bot API.
type TelegramChannel struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

func NewTelegramChannel(token, baseURL string) *TelegramChannel {
	if baseURL == "" {
		baseURL = defaultTelegramAPI
	}
	return &TelegramChannel{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *TelegramChannel) Type() string { return models.ChannelTypeTelegram }

func (c *TelegramChannel) Targets(contacts []models.Contact) []string {
	seen := make(map[string]bool)
	var chats []string
	for _, contact := range contacts {
		id := strings.TrimSpace(contact.TelegramChatID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		chats = append(chats, id)
	}
	return chats
}

func (c *TelegramChannel) Send(ctx context.Context, msg models.AlertMessage, target string) error {
	if c.token == "" {
		return errors.New("telegram bot token not configured")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":                  target,
		"text":                     msg.Body,
		"disable_web_page_preview": false,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var botResponse struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &botResponse); err != nil {
		return fmt.Errorf("telegram API error: %s", resp.Status)
	}
	if !botResponse.OK {
		return fmt.Errorf("telegram API error: %s", botResponse.Description)
	}
	return nil
}
