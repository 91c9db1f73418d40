package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/service/chat"
	"github.com/khaledhikmat/asd-go/service/lgr"
)

const framePrompt = "Analyze frame %d and describe the observed activity, focus on the child's behavior:"

// Analyzer describes the behavior seen in sampled video frames, one chat
// call per frame
type Analyzer struct {
	Sampler       Sampler
	ChatSvc       chat.IService
	RatePerSecond int
}

func NewAnalyzer(sampler Sampler, chatSvc chat.IService, ratePerSecond int) *Analyzer {
	return &Analyzer{
		Sampler:       sampler,
		ChatSvc:       chatSvc,
		RatePerSecond: ratePerSecond,
	}
}

// Analyze returns one description per sampled frame, in frame order
func (a *Analyzer) Analyze(ctx context.Context, video []byte) ([]string, error) {
	frames, err := a.Sampler.Sample(ctx, video, a.RatePerSecond)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, model.ErrNoFrames
	}

	responses := make([]string, 0, len(frames))
	for i, frame := range frames {
		msg := chat.UserImage(fmt.Sprintf(framePrompt, i+1), FrameDataURL(frame))

		content, err := a.ChatSvc.Complete(ctx, []chat.Message{msg})
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i+1, err)
		}
		responses = append(responses, content)
	}

	lgr.Logger.InfoContext(ctx, "video analyzed",
		slog.Int("frames", len(frames)),
	)
	return responses, nil
}

// FrameDataURL embeds a JPEG frame as a data URL
func FrameDataURL(frame Frame) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame.JPEG)
}
