//go:build libjpeg

package jpegdec

import (
	"github.com/pixiv/go-libjpeg/jpeg"
	"github.com/pixiv/go-libjpeg/rgb"
	"github.com/pkg/errors"
)

func init() {
	Register(LibJPEGCodec{})
}

// LibJPEGCodec decodes through libjpeg(-turbo), honouring FastDCT and
// FancyUpsampling. Built with -tags libjpeg.
type LibJPEGCodec struct{}

func (LibJPEGCodec) Name() string { return "libjpeg" }

func (LibJPEGCodec) Start(src Source, hdr Header, opts Options) (Scanner, error) {
	dopts := &jpeg.DecoderOptions{
		DCTMethod:              jpeg.DCTISlow,
		DisableFancyUpsampling: !opts.FancyUpsampling,
	}
	if opts.FastDCT {
		dopts.DCTMethod = jpeg.DCTIFast
	}
	img, err := jpeg.DecodeIntoRGB(src, dopts)
	if err != nil {
		return nil, err
	}
	if img.Rect.Dx() != hdr.Width || img.Rect.Dy() != hdr.Height {
		return nil, errors.Errorf("decoded %dx%d, header says %dx%d", img.Rect.Dx(), img.Rect.Dy(), hdr.Width, hdr.Height)
	}
	return &libjpegScanner{img: img, width: hdr.Width, height: hdr.Height}, nil
}

type libjpegScanner struct {
	img    *rgb.Image
	width  int
	height int
	y      int
}

func (s *libjpegScanner) ReadScanline(dst []byte) error {
	if s.img == nil {
		return errors.New("scanner closed")
	}
	if s.y >= s.height {
		return errors.New("read past last scanline")
	}
	off := s.y * s.img.Stride
	if copy(dst, s.img.Pix[off:off+s.width*3]) != s.width*3 {
		return errors.Errorf("row buffer %d < %d", len(dst), s.width*3)
	}
	s.y++
	return nil
}

func (s *libjpegScanner) Finish() error {
	if s.img == nil {
		return errors.New("scanner closed")
	}
	if s.y != s.height {
		return errors.Errorf("finished after %d of %d scanlines", s.y, s.height)
	}
	return nil
}

func (s *libjpegScanner) Close() {
	s.img = nil
}
