package source

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/amitbet/jpeg2vnc/frameslot"
	"github.com/amitbet/jpeg2vnc/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MJPEGClient reads frames from an HTTP camera. It understands
// multipart/x-mixed-replace streams and plain image/jpeg snapshots, which
// it polls every PollInterval. Lost connections are retried after
// RetryDelay.
type MJPEGClient struct {
	URL          string
	Client       *http.Client
	MaxFrameSize int
	RetryDelay   time.Duration
	PollInterval time.Duration

	log *logrus.Entry
}

// NewMJPEGClient returns a client for url with default timings.
func NewMJPEGClient(url string, maxFrameSize int) *MJPEGClient {
	if maxFrameSize <= 0 {
		maxFrameSize = frameslot.DefaultMaxSize
	}
	return &MJPEGClient{
		URL:          url,
		Client:       &http.Client{},
		MaxFrameSize: maxFrameSize,
		RetryDelay:   time.Second,
		PollInterval: 100 * time.Millisecond,
		log:          logger.WithFields(map[string]interface{}{"source": "http", "url": url}),
	}
}

func (m *MJPEGClient) Name() string { return "http:" + m.URL }

// Run fetches frames until ctx is done.
func (m *MJPEGClient) Run(ctx context.Context, out Publisher) error {
	for {
		err := m.fetch(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, frameslot.ErrClosed) {
			return nil
		}
		delay := m.PollInterval
		if err != nil {
			m.log.Warnf("source: %v, retrying in %v", err, m.RetryDelay)
			delay = m.RetryDelay
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (m *MJPEGClient) fetch(ctx context.Context, out Publisher) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "multipart/x-mixed-replace, image/jpeg")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.Client.Do(req)
	if err != nil {
		return errors.Wrap(err, "connecting")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("bad status: %s", resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return errors.Wrap(err, "content type")
	}
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		if params["boundary"] == "" {
			return errors.New("multipart stream without boundary")
		}
		return m.stream(ctx, multipart.NewReader(resp.Body, params["boundary"]), out)
	case mediaType == "image/jpeg":
		return m.publish(resp.Body, out)
	}
	return errors.Errorf("unexpected content type %q", mediaType)
}

func (m *MJPEGClient) stream(ctx context.Context, mr *multipart.Reader, out Publisher) error {
	m.log.Info("source: streaming")
	for ctx.Err() == nil {
		part, err := mr.NextPart()
		if err == io.EOF {
			return errors.New("stream ended")
		}
		if err != nil {
			return errors.Wrap(err, "reading part")
		}
		if ct := part.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/jpeg") {
			part.Close()
			continue
		}
		err = m.publish(part, out)
		part.Close()
		if errors.Is(err, frameslot.ErrClosed) {
			return err
		}
		if err != nil {
			m.log.Debugf("source: skipping part: %v", err)
		}
	}
	return nil
}

func (m *MJPEGClient) publish(r io.Reader, out Publisher) error {
	frame, err := io.ReadAll(io.LimitReader(r, int64(m.MaxFrameSize)+1))
	if err != nil {
		return errors.Wrap(err, "reading frame")
	}
	if len(frame) > m.MaxFrameSize {
		return errors.Wrapf(frameslot.ErrFrameTooLarge, "more than %d bytes", m.MaxFrameSize)
	}
	if len(frame) == 0 {
		return errors.New("empty frame")
	}
	return out.Publish(frame)
}
