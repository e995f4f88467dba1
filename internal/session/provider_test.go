package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider("user-1", "token-a")

	assert.Equal(t, "user-1", p.CurrentUserID())
	assert.Equal(t, "token-a", p.AuthToken())

	p.UpdateToken("token-b")
	assert.Equal(t, "token-b", p.AuthToken())
	assert.Equal(t, "user-1", p.CurrentUserID())
}

func TestUpdateTokenConcurrent(t *testing.T) {
	p := NewStaticProvider("user-1", "initial")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.UpdateToken("rotated")
				_ = p.AuthToken()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, "rotated", p.AuthToken())
}
