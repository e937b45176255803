// Package playback defines the audio playback sink consumed by the
// announcer.
//
// A Sink plays appended cues sequentially and in order; Wait blocks until
// every appended cue has finished. The announcer appends the fully assembled
// announcement before waiting, so a sink never observes a partial sequence
// followed by an abort.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// Sink consumes an ordered sequence of audio cues.
type Sink interface {
	// Append enqueues one cue for playback after all previously appended cues.
	Append(cue []byte) error

	// Wait blocks until every appended cue has been played.
	Wait() error
}

// ExecPlayer plays cues by spawning an external player process per cue,
// strictly one at a time. Each cue is written to a temporary file whose path
// is appended to the configured argument list.
type ExecPlayer struct {
	command string
	args    []string
}

// NewExecPlayer creates a player invoking the given command for each cue.
func NewExecPlayer(command string, args []string) *ExecPlayer {
	return &ExecPlayer{command: command, args: args}
}

// Session returns a fresh Sink for one announcement. Sessions are
// independent; the player itself holds no cross-announcement state.
func (p *ExecPlayer) Session(ctx context.Context) Sink {
	return &execSession{player: p, ctx: ctx}
}

type execSession struct {
	player *ExecPlayer
	ctx    context.Context

	mu    sync.Mutex
	queue [][]byte
}

func (s *execSession) Append(cue []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, cue)
	return nil
}

// Wait plays the queued cues back to back and returns once the last process
// exits.
func (s *execSession) Wait() error {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	for i, cue := range queue {
		if err := s.playOne(cue); err != nil {
			return fmt.Errorf("playing cue %d/%d: %w", i+1, len(queue), err)
		}
	}
	return nil
}

func (s *execSession) playOne(cue []byte) error {
	tmp, err := os.CreateTemp("", "firecentral-cue-*.wav")
	if err != nil {
		return fmt.Errorf("creating cue file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.Write(cue); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cue file: %w", err)
	}

	args := append(append([]string(nil), s.player.args...), path)
	cmd := exec.CommandContext(s.ctx, s.player.command, args...)
	slog.Debug("playing cue", "player", s.player.command, "file", filepath.Base(path), "bytes", len(cue))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", s.player.command, err)
	}
	return nil
}

// Buffer is an in-memory Sink that records appended cues, for tests and for
// callers that want the assembled announcement as data.
type Buffer struct {
	mu   sync.Mutex
	cues [][]byte
}

func (b *Buffer) Append(cue []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cues = append(b.cues, append([]byte(nil), cue...))
	return nil
}

func (b *Buffer) Wait() error { return nil }

// Cues returns the appended cues in order.
func (b *Buffer) Cues() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.cues))
	copy(out, b.cues)
	return out
}
