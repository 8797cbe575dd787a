// Package providertest provides a testify mock of the provider port plus a
// canned in-memory stream for handler tests.
package providertest

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/hanjaemi/hanjaemi/internal/provider"
)

type MockClient struct {
	mock.Mock
}

var _ provider.Client = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) ChatCompletion(ctx context.Context, req provider.ChatRequest) (provider.Completion, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(provider.Completion), args.Error(1)
}

func (m *MockClient) ChatCompletionStream(ctx context.Context, req provider.ChatRequest) (provider.Stream, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(provider.Stream), args.Error(1)
}

func (m *MockClient) Transcribe(ctx context.Context, model, filename string, audio []byte) (provider.Transcription, error) {
	args := m.Called(ctx, model, filename, audio)
	return args.Get(0).(provider.Transcription), args.Error(1)
}

func (m *MockClient) Speech(ctx context.Context, req provider.SpeechRequest) ([]byte, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// CannedStream replays fixed chunks, then FinalErr (io.EOF for a clean end,
// io.ErrUnexpectedEOF for a truncated stream).
type CannedStream struct {
	Chunks   []provider.Chunk
	FinalErr error
	Closed   bool
	pos      int
}

var _ provider.Stream = (*CannedStream)(nil)

// StreamOf builds a cleanly terminating stream from content fragments.
func StreamOf(contents ...string) *CannedStream {
	chunks := make([]provider.Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = provider.Chunk{Content: c}
	}
	return &CannedStream{Chunks: chunks, FinalErr: io.EOF}
}

func (s *CannedStream) Next() (provider.Chunk, error) {
	if s.pos >= len(s.Chunks) {
		if s.FinalErr != nil {
			return provider.Chunk{}, s.FinalErr
		}
		return provider.Chunk{}, io.EOF
	}
	chunk := s.Chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *CannedStream) Close() error {
	s.Closed = true
	return nil
}
