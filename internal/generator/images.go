package generator

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/maauso/kling-panel/internal/generation"
	"github.com/maauso/kling-panel/internal/media"
)

// maxImageBytes caps an inlined reference image. Replicate rejects larger
// data URIs anyway.
const maxImageBytes = 10 << 20

// encodeImage turns a reference into a data URI. Unreadable or unsupported
// references are validation failures: the caller picked the wrong layer.
func (c *Client) encodeImage(ctx context.Context, ref *generation.ImageRef, label string) (string, error) {
	data := ref.Data
	if len(data) == 0 {
		var err error
		data, err = c.readReference(ctx, ref, label)
		if err != nil {
			return "", err
		}
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", invalid("%s has unsupported type %s", label, mt.String())
	}
	if len(data) > maxImageBytes {
		return "", invalid("%s is %d bytes, limit is %d", label, len(data), maxImageBytes)
	}

	return fmt.Sprintf("data:%s;base64,%s", baseMIME(mt), base64.StdEncoding.EncodeToString(data)), nil
}

// readReference loads a file reference. Video files are reduced to one frame.
func (c *Client) readReference(ctx context.Context, ref *generation.ImageRef, label string) ([]byte, error) {
	path := strings.TrimSpace(ref.Path)

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, invalid("cannot read %s %q: %v", label, path, err)
	}

	if strings.HasPrefix(mt.String(), "video/") {
		if c.media == nil {
			return nil, invalid("%s %q is a video and frame extraction is not available", label, path)
		}
		frame := media.Frame(ref.Frame)
		data, err := c.media.ExtractFrame(ctx, path, frame)
		if err != nil {
			if ctx.Err() != nil {
				return nil, generation.NewError(generation.KindCanceled, "", ctx.Err())
			}
			return nil, generation.NewError(generation.KindValidation,
				fmt.Sprintf("cannot extract frame from %s %q", label, path), err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - path comes from the host layer selection
	if err != nil {
		return nil, invalid("cannot read %s %q: %v", label, path, err)
	}
	if len(data) == 0 {
		return nil, invalid("%s %q is empty", label, path)
	}
	return data, nil
}

// baseMIME strips parameters such as charset from the detected type.
func baseMIME(mt *mimetype.MIME) string {
	s, _, _ := strings.Cut(mt.String(), ";")
	return s
}

func invalid(format string, args ...any) error {
	return generation.NewError(generation.KindValidation, fmt.Sprintf(format, args...), nil)
}
