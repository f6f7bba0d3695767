package bot

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Pool spreads Bot API calls over several bots. A file_id can only be
// resolved by the bot that saw it, so bots are also addressable by username.
type Pool struct {
	bots    []*tgbotapi.BotAPI
	current uint64
}

// NewPool logs every token in against apiEndpoint. The first token is the
// primary bot that receives updates.
func NewPool(tokens []string, apiEndpoint string) (*Pool, error) {
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}

	// long polling holds requests open for the update timeout
	client := &http.Client{
		Timeout: 2 * time.Minute,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	var bots []*tgbotapi.BotAPI
	for _, t := range tokens {
		if t == "" {
			continue
		}
		b, err := tgbotapi.NewBotAPIWithClient(t, apiEndpoint, client)
		if err != nil {
			return nil, fmt.Errorf("failed to log in bot: %w", err)
		}
		bots = append(bots, b)
	}
	if len(bots) == 0 {
		return nil, fmt.Errorf("no bot tokens configured")
	}
	return &Pool{bots: bots}, nil
}

// Primary is the bot that owns the conversation with users.
func (p *Pool) Primary() *tgbotapi.BotAPI {
	if len(p.bots) == 0 {
		return nil
	}
	return p.bots[0]
}

func (p *Pool) Next() *tgbotapi.BotAPI {
	if len(p.bots) == 0 {
		return nil
	}
	idx := atomic.AddUint64(&p.current, 1)
	return p.bots[(idx-1)%uint64(len(p.bots))]
}

// ByUsername returns the bot with that username, or the next bot in
// rotation when it is no longer part of the pool.
func (p *Pool) ByUsername(username string) *tgbotapi.BotAPI {
	for _, b := range p.bots {
		if b.Self.UserName == username {
			return b
		}
	}
	return p.Next()
}

func (p *Pool) Size() int {
	return len(p.bots)
}
