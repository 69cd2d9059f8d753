package source

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	"github.com/amitbet/jpeg2vnc/frameslot"
	"github.com/amitbet/jpeg2vnc/logger"
	"github.com/pkg/errors"
)

var bars = []color.RGBA{
	{255, 255, 255, 255},
	{255, 255, 0, 255},
	{0, 255, 255, 255},
	{0, 255, 0, 255},
	{255, 0, 255, 255},
	{255, 0, 0, 255},
	{0, 0, 255, 255},
	{0, 0, 0, 255},
}

// Pattern generates scrolling colour bars.
type Pattern struct {
	Width, Height int
	FPS           int
	Quality       int
}

// NewPattern returns a pattern source with the given frame size and rate.
func NewPattern(width, height, fps int) *Pattern {
	if fps <= 0 {
		fps = 10
	}
	return &Pattern{Width: width, Height: height, FPS: fps, Quality: 75}
}

func (p *Pattern) Name() string { return "pattern" }

// Frame renders frame n.
func (p *Pattern) Frame(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	barWidth := p.Width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			img.SetRGBA(x, y, bars[((x+n)/barWidth)%len(bars)])
		}
	}
	return img
}

// Run encodes and publishes a frame per tick until ctx is done.
func (p *Pattern) Run(ctx context.Context, out Publisher) error {
	if p.Width <= 0 || p.Height <= 0 {
		return errors.Errorf("source: bad pattern size %dx%d", p.Width, p.Height)
	}
	logger.Infof("source: test pattern %dx%d at %d fps", p.Width, p.Height, p.FPS)

	ticker := time.NewTicker(time.Second / time.Duration(p.FPS))
	defer ticker.Stop()

	var buf bytes.Buffer
	for n := 0; ; n++ {
		buf.Reset()
		if err := jpeg.Encode(&buf, p.Frame(n), &jpeg.Options{Quality: p.Quality}); err != nil {
			return errors.Wrap(err, "source: encoding pattern")
		}
		err := out.Publish(buf.Bytes())
		if errors.Is(err, frameslot.ErrClosed) {
			return nil
		}
		if err != nil {
			logger.Warnf("source: pattern frame dropped: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
