package session

import "sync"

// Provider supplies the current user identity and the credential used
// to authorize channel and poll calls. Credential renewal is expected
// to happen behind UpdateToken; consumers always read the latest value.
type Provider interface {
	CurrentUserID() string
	AuthToken() string
}

// StaticProvider is a Provider backed by configuration, with support
// for transparent token renewal.
type StaticProvider struct {
	userID string

	mu    sync.RWMutex
	token string
}

func NewStaticProvider(userID, token string) *StaticProvider {
	return &StaticProvider{userID: userID, token: token}
}

func (p *StaticProvider) CurrentUserID() string {
	return p.userID
}

func (p *StaticProvider) AuthToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// UpdateToken swaps the credential in place; in-flight calls keep the
// token they already read.
func (p *StaticProvider) UpdateToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
}
