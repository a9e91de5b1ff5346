// Package media reduces video references to still frames with the ffmpeg CLI.
package media

import "context"

// Frame selects which end of a video to capture.
type Frame string

const (
	// FrameFirst captures the first decoded frame.
	FrameFirst Frame = "first"
	// FrameLast captures the final frame.
	FrameLast Frame = "last"
)

// Processor defines the frame extraction the generator needs when a
// reference image points at a video clip.
type Processor interface {
	// ExtractFrame decodes one frame of videoPath and returns it as PNG bytes.
	ExtractFrame(ctx context.Context, videoPath string, frame Frame) ([]byte, error)
}
