package telegram

import (
	"context"
	"sync"

	"quiz-competition-service/internal/domain"
)

// Registry caches one Client (and thereby one rate limiter) per bot token.
// It implements app.Messenger. The registry is owned by the process that
// creates it; Close drops all cached clients.
type Registry struct {
	cfg     ClientConfig
	mu      sync.Mutex
	clients map[string]*Client
}

func NewRegistry(cfg ClientConfig) *Registry {
	return &Registry{cfg: cfg, clients: make(map[string]*Client)}
}

func (r *Registry) client(token string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[token]; ok {
		return c
	}
	c := NewClient(token, r.cfg)
	r.clients[token] = c
	return c
}

func (r *Registry) SendMessage(ctx context.Context, botToken string, msg domain.OutboundMessage) (int64, error) {
	return r.client(botToken).SendMessage(ctx, msg)
}

func (r *Registry) EditMessage(ctx context.Context, botToken string, msg domain.OutboundMessage) error {
	return r.client(botToken).EditMessage(ctx, msg)
}

// Close releases all cached clients.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = make(map[string]*Client)
}
