package pipeline

import (
	"context"
	"image"
)

// Input is the raw image handed to the preprocessor. It is one of
// PathInput, BytesInput or DecodedInput.
type Input interface {
	input()
}

type PathInput struct {
	Path string
}

type BytesInput struct {
	Data []byte
}

type DecodedInput struct {
	Image image.Image
}

func (PathInput) input()    {}
func (BytesInput) input()   {}
func (DecodedInput) input() {}

// Tensor is a batch of one NHWC image with values in [0,1]
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Frame is one sampled video frame encoded as JPEG. Index is the position of
// the frame in the decoded stream.
type Frame struct {
	Index int
	JPEG  []byte
}

// Sampler extracts frames from a video at a fixed rate per second
type Sampler interface {
	Sample(ctx context.Context, video []byte, ratePerSecond int) ([]Frame, error)
}

// emit sends to a processor stream unless the stream is nil or the caller
// gave up
func emit(ctx context.Context, stream chan interface{}, v interface{}) {
	if stream == nil {
		return
	}

	select {
	case <-ctx.Done():
	case stream <- v:
	}
}
