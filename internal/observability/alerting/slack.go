package alerting

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
)

const (
	defaultSlackBaseURL  = "https://hooks.slack.com/services/"
	defaultSlackUsername = "CronCat"
	defaultSlackIcon     = "https://cron.cat/icons/icon-512x512.png"
)

// SlackConfig 描述 Slack incoming webhook 的配置。
type SlackConfig struct {
	Token    string
	Channel  string
	Username string
	IconURL  string
	BaseURL  string
	Timeout  time.Duration
}

// SlackNotifier 通过 incoming webhook 把事件发送到 Slack。
type SlackNotifier struct {
	cfg    SlackConfig
	client *http.Client
}

// NewSlackNotifier 创建 Slack 通知器，未配置 token 时返回 nil。
func NewSlackNotifier(cfg SlackConfig) *SlackNotifier {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSlackBaseURL
	}
	if cfg.Username == "" {
		cfg.Username = defaultSlackUsername
	}
	if cfg.IconURL == "" {
		cfg.IconURL = defaultSlackIcon
	}
	if cfg.Channel == "" {
		cfg.Channel = "general"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SlackNotifier{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Channel 返回 Slack 渠道。
func (s *SlackNotifier) Channel() Channel { return ChannelSlack }

type slackPayload struct {
	Channel  string `json:"channel"`
	Username string `json:"username"`
	Text     string `json:"text"`
	IconURL  string `json:"icon_url"`
}

// Notify 发送事件。
func (s *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if s == nil {
		return errors.New("slack notifier not configured")
	}
	body, err := json.Marshal(slackPayload{
		Channel:  "#" + strings.TrimPrefix(s.cfg.Channel, "#"),
		Username: s.cfg.Username,
		Text:     FormatText(event),
		IconURL:  s.cfg.IconURL,
	})
	if err != nil {
		return err
	}
	url := strings.TrimSuffix(s.cfg.BaseURL, "/") + "/" + s.cfg.Token
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// FormatText 生成带 agent 与网络前缀的消息正文。
func FormatText(event Event) string {
	var b strings.Builder
	if event.AgentID != "" {
		b.WriteString("*")
		b.WriteString(event.AgentID)
		b.WriteString("*")
		if event.Network != "" {
			b.WriteString(" (")
			b.WriteString(event.Network)
			b.WriteString(")")
		}
		b.WriteString(": ")
	}
	b.WriteString(event.Message)
	return b.String()
}
