package piper

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunoalves/firecentral/internal/config"
)

func TestStripMarkup(t *testing.T) {
	assert.Equal(t, "Saída para  Incêndio",
		stripMarkup(`<speak>Saída <phoneme alphabet="ipa" ph="pɐ.ɾɐ">para</phoneme> <break strength="weak" /> Incêndio</speak>`))
	assert.Equal(t, "plain", stripMarkup("plain"))
}

func TestPCMToWAVHeader(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav := pcmToWAV(pcm, 22050, 1, 2)

	require.Len(t, wav, 44+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, pcm, wav[44:])
}

// fakeWyomingServer accepts one connection, reads the synthesize event and
// streams back audio-start, one chunk, audio-stop.
func fakeWyomingServer(t *testing.T, pcm []byte) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { lis.Close() })

	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		evt, _, err := readEvent(conn)
		if err != nil || evt.Type != "synthesize" {
			return
		}

		_ = writeEvent(conn, wyomingEvent{
			Type: "audio-start",
			Data: map[string]any{"rate": float64(16000), "channels": float64(1), "width": float64(2)},
		}, nil)
		_ = writeEvent(conn, wyomingEvent{Type: "audio-chunk"}, pcm)
		_ = writeEvent(conn, wyomingEvent{Type: "audio-stop"}, nil)
	}()

	return lis.Addr().String()
}

func TestSynthesizeAgainstFakeServer(t *testing.T) {
	pcm := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	endpoint := fakeWyomingServer(t, pcm)

	s := New(config.PiperConfig{Endpoint: "tcp://" + endpoint, Voice: "pt_PT-test"})
	wav, err := s.Synthesize(context.Background(), "<speak>Veículo</speak>")
	require.NoError(t, err)

	require.Len(t, wav, 44+len(pcm))
	assert.Equal(t, pcm, wav[44:])
}

func TestSynthesizeEmptyText(t *testing.T) {
	s := New(config.PiperConfig{Endpoint: "localhost:1"})
	_, err := s.Synthesize(context.Background(), "<speak></speak>")
	assert.Error(t, err)
}
