package ws

import "sync"

// ConnectionParams is the per-connection credential state. It is written
// by connection_init and again whenever a refresh mints a new pair, so
// every later check on the connection sees the newest token.
type ConnectionParams struct {
	mu            sync.RWMutex
	hasPayload    bool
	authorization string
	refreshToken  string
}

func NewConnectionParams(refreshToken string) *ConnectionParams {
	return &ConnectionParams{refreshToken: refreshToken}
}

func (p *ConnectionParams) Init(payload *InitPayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasPayload = payload != nil
	if payload != nil {
		p.authorization = payload.Authorization
	}
}

func (p *ConnectionParams) HasPayload() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hasPayload
}

func (p *ConnectionParams) Authorization() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.authorization
}

func (p *ConnectionParams) RefreshToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.refreshToken
}

func (p *ConnectionParams) SetTokens(accessToken, refreshToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authorization = "Bearer " + accessToken
	if refreshToken != "" {
		p.refreshToken = refreshToken
	}
}
