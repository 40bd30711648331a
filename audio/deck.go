package audio

import (
	"context"
	"sync"
)

// Player hands a buffer to some playback facility and blocks until playback
// finishes or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, buf *Buffer) error
}

// Deck owns exclusive access to a Player: starting new playback stops and
// waits for the previous one first.
type Deck struct {
	player Player

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDeck creates a deck in front of player.
func NewDeck(player Player) *Deck {
	return &Deck{player: player}
}

// Start stops any playback in progress and plays buf in the background. The
// returned channel receives the playback result exactly once.
func (d *Deck) Start(ctx context.Context, buf *Buffer) <-chan error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()

	playCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	result := make(chan error, 1)
	d.cancel, d.done = cancel, done

	go func() {
		defer close(done)
		defer cancel()
		result <- d.player.Play(playCtx, buf)
	}()
	return result
}

// Stop releases the player. It is a no-op when nothing is playing.
func (d *Deck) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Deck) stopLocked() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel, d.done = nil, nil
}
