package pipeline

import (
	"context"
	"log/slog"
	"os"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/service/lgr"
)

const DefaultMaxFrames = 5

// FrameInterval keeps one frame every interval frames so that roughly
// ratePerSecond frames are kept per second of video
func FrameInterval(fps float64, ratePerSecond int) int {
	if ratePerSecond < 1 {
		ratePerSecond = 1
	}
	interval := int(fps) / ratePerSecond
	if interval < 1 {
		return 1
	}
	return interval
}

type videoSampler struct {
	maxFrames   int
	statsStream chan interface{}
}

// NewVideoSampler decodes uploads with OpenCV. At most maxFrames frames are
// returned.
func NewVideoSampler(maxFrames int, statsStream chan interface{}) Sampler {
	if maxFrames < 1 {
		maxFrames = DefaultMaxFrames
	}
	return &videoSampler{
		maxFrames:   maxFrames,
		statsStream: statsStream,
	}
}

func (s *videoSampler) Sample(ctx context.Context, video []byte, ratePerSecond int) ([]Frame, error) {
	tmp, err := os.CreateTemp("", "asd-video-*.mp4")
	if err != nil {
		return nil, xerrors.Errorf("create temp video: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(video)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, xerrors.Errorf("write temp video: %w", err)
	}

	capture, err := gocv.VideoCaptureFile(tmp.Name())
	if err != nil {
		return nil, model.WrapError(model.ErrNoFrames, "sample", err)
	}
	defer capture.Close()

	start := time.Now()
	fps := capture.Get(gocv.VideoCaptureFPS)
	interval := FrameInterval(fps, ratePerSecond)

	stats := model.SamplerStats{
		Name:     "videoSampler",
		FPS:      fps,
		Interval: interval,
	}
	defer func() {
		stats.ProcTime = time.Since(start).Seconds()
		emit(ctx, s.statsStream, stats)
	}()

	frames := []Frame{}
	img := gocv.NewMat()
	defer img.Close()

	for index := 0; len(frames) < s.maxFrames; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if ok := capture.Read(&img); !ok || img.Empty() {
			break
		}
		stats.Frames++

		if index%interval != 0 {
			continue
		}

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
		if err != nil {
			stats.Errors++
			continue
		}
		frames = append(frames, Frame{
			Index: index,
			JPEG:  append([]byte(nil), buf.GetBytes()...),
		})
		buf.Close()
	}

	stats.Sampled = len(frames)
	lgr.Logger.DebugContext(ctx, "video sampled",
		slog.Float64("fps", fps),
		slog.Int("interval", interval),
		slog.Int("decoded", stats.Frames),
		slog.Int("sampled", len(frames)),
	)

	if len(frames) == 0 {
		return nil, model.ErrNoFrames
	}
	return frames, nil
}
