package clipwriter

import (
	"errors"
	"os"
	"sync"

	"github.com/yeti47/cryospy/client/motion-recorder/frame"
	"github.com/yeti47/cryospy/client/motion-recorder/resolution"
)

var ErrMockCodecUnavailable = errors.New("mock: codec unavailable")

// MockEncoderFactory is an EncoderFactory for tests. It creates the target file like
// OpenCV does, fails for the codecs listed in FailCodecs and records every attempt.
type MockEncoderFactory struct {
	mu         sync.Mutex
	FailCodecs map[string]bool
	// FailWritesAfter makes every encoder fail writes once it holds this many
	// frames. Zero disables write failures.
	FailWritesAfter int
	// FailClose makes Close report an error after counting the call.
	FailClose bool
	attempts        []Entry
	encoders        []*MockEncoder
}

func NewMockEncoderFactory(failCodecs ...string) *MockEncoderFactory {
	m := &MockEncoderFactory{FailCodecs: make(map[string]bool)}
	for _, c := range failCodecs {
		m.FailCodecs[c] = true
	}
	return m
}

func (m *MockEncoderFactory) OpenEncoder(path string, entry Entry, fps float64, dims resolution.Resolution) (Encoder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts = append(m.attempts, entry)
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return nil, err
	}
	if m.FailCodecs[entry.Codec] {
		return nil, ErrMockCodecUnavailable
	}

	enc := &MockEncoder{Path: path, Entry: entry, failAfter: m.FailWritesAfter, failClose: m.FailClose}
	m.encoders = append(m.encoders, enc)
	return enc, nil
}

// Attempts returns the entries OpenEncoder was called with, in order.
func (m *MockEncoderFactory) Attempts() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.attempts...)
}

// Encoders returns the encoders that were opened successfully, in order.
func (m *MockEncoderFactory) Encoders() []*MockEncoder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockEncoder(nil), m.encoders...)
}

// MockEncoder counts frames and close calls.
type MockEncoder struct {
	Path      string
	Entry     Entry
	Frames    int
	Closes    int
	failAfter int
	failClose bool
}

var (
	ErrMockWriteFailed = errors.New("mock: write failed")
	ErrMockCloseFailed = errors.New("mock: close failed")
)

func (e *MockEncoder) Write(f *frame.Frame) error {
	if e.failAfter > 0 && e.Frames >= e.failAfter {
		return ErrMockWriteFailed
	}
	e.Frames++
	return nil
}

func (e *MockEncoder) Close() error {
	e.Closes++
	if e.failClose {
		return ErrMockCloseFailed
	}
	return nil
}
