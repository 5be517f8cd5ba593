package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHolder_UpdateReplacesSnapshot(t *testing.T) {
	initial := DefaultConfig()
	h := NewHolder(initial, "/etc/rowmark/config.toml")

	assert.Same(t, initial, h.Config())
	assert.Equal(t, "/etc/rowmark/config.toml", h.Path())

	updated := DefaultConfig()
	updated.LogLevel = "debug"
	h.Update(updated)

	assert.Same(t, updated, h.Config())
	assert.Equal(t, "debug", h.Config().LogLevel)
}

func TestHolder_ConcurrentReadsAndUpdates(t *testing.T) {
	h := NewHolder(DefaultConfig(), "")

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()

			for j := 0; j < 100; j++ {
				_ = h.Config().LogLevel
			}
		}()

		go func() {
			defer wg.Done()

			for j := 0; j < 100; j++ {
				h.Update(DefaultConfig())
			}
		}()
	}

	wg.Wait()
	assert.NotNil(t, h.Config())
}
