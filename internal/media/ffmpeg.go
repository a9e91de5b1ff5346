package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Static errors for media operations.
var (
	// ErrUnknownFrame is returned when the requested frame position is not supported.
	ErrUnknownFrame = errors.New("media: unknown frame position")
	// ErrEmptyFrame is returned when ffmpeg exits cleanly but writes no image.
	ErrEmptyFrame = errors.New("media: extracted frame is empty")
)

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath}
}

// ExtractFrame writes the requested frame to a scratch PNG next to the
// video, reads it back and removes it.
func (p *FFmpegProcessor) ExtractFrame(ctx context.Context, videoPath string, frame Frame) ([]byte, error) {
	if frame == "" {
		frame = FrameFirst
	}

	framePath, cleanup, err := scratchFrame(videoPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var args []string
	switch frame {
	case FrameFirst:
		args = []string{"-y", "-i", videoPath, "-frames:v", "1"}
	case FrameLast:
		// seek near the end and keep overwriting the output until the last frame
		args = []string{"-y", "-sseof", "-0.5", "-i", videoPath, "-update", "1"}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, frame)
	}
	args = append(args, "-f", "image2", "-c:v", "png", framePath)

	if err := p.runFFmpeg(ctx, args); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(framePath) // #nosec G304 - framePath is created above
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	return data, nil
}

// scratchFrame reserves a PNG path next to the video, falling back to the
// system temp dir when the video lives on a read-only volume.
func scratchFrame(videoPath string) (string, func(), error) {
	out, err := os.CreateTemp(filepath.Dir(videoPath), ".frame-*.png")
	if err != nil {
		out, err = os.CreateTemp("", "frame-*.png")
		if err != nil {
			return "", nil, fmt.Errorf("create frame file: %w", err)
		}
	}
	path := out.Name()
	_ = out.Close()
	return path, func() { _ = os.Remove(path) }, nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Compile-time check that FFmpegProcessor implements Processor.
var _ Processor = (*FFmpegProcessor)(nil)
