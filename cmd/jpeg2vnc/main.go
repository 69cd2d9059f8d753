// Command jpeg2vnc serves JPEG frames from a camera or a test pattern to
// VNC viewers.
package main

import (
	"context"
	"io"
	"os"

	"github.com/amitbet/jpeg2vnc/config"
	"github.com/amitbet/jpeg2vnc/logger"
	"github.com/amitbet/jpeg2vnc/output"
	"github.com/amitbet/jpeg2vnc/source"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitHelp   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	helped := false
	cmd := newRootCommand(config.New())
	defaultHelp := cmd.HelpFunc()
	cmd.SetHelpFunc(func(c *cobra.Command, a []string) {
		helped = true
		defaultHelp(c, a)
	})
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	switch {
	case err != nil:
		logger.Error("jpeg2vnc: ", err)
		return exitFailed
	case helped:
		return exitHelp
	}
	return exitOK
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "jpeg2vnc",
		Short: "Serve JPEG frames to VNC viewers",
		Long: `jpeg2vnc decodes JPEG frames from an MJPEG HTTP camera or a built in
test pattern and shows the latest one on a VNC display. Viewers connect
with any RFB client, or over WebSocket with noVNC.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			c, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			return serve(c)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "config file (default: jpeg2vnc.yaml in ., $HOME/.jpeg2vnc or /etc/jpeg2vnc)")
	f.StringP("listen", "l", "0.0.0.0:5900", "RFB listen address")
	f.String("websocket", "", "WebSocket listen address for browser viewers")
	f.StringP("name", "n", "jpeg2vnc", "desktop name")
	f.String("password", "", "VNC password, none when empty")
	f.Int("width", 640, "display width until the first frame")
	f.Int("height", 480, "display height until the first frame")
	f.IntP("input", "i", 0, "index of the input to show")
	f.StringP("url", "u", "", "MJPEG stream or JPEG snapshot URL")
	f.Bool("pattern", true, "offer the test pattern input")
	f.Int("fps", 10, "test pattern frame rate")
	f.Int("max-frame-size", 4<<20, "largest compressed frame in bytes")
	f.String("codec", "go", "JPEG decoder: go (ignores the fast-decode settings) or libjpeg (fast DCT, no fancy upsampling; needs -tags libjpeg)")
	f.String("record", "", "record input frames to this AVI file")
	f.Int("record-fps", 5, "frame rate written to the recording")
	f.Duration("shutdown-timeout", output.DefaultShutdownTimeout, "how long shutdown may take")
	f.String("log-level", "info", "trace, debug, info, warn or error")
	f.String("log-format", "text", "text or json")
	return cmd
}

// inputs lists the configured capture sources in index order.
func inputs(c *config.Config) []source.Source {
	var list []source.Source
	if c.Input.URL != "" {
		list = append(list, source.NewMJPEGClient(c.Input.URL, c.Frame.MaxSize))
	}
	if c.Input.Pattern {
		list = append(list, source.NewPattern(c.Server.Width, c.Server.Height, c.Input.FPS))
	}
	return list
}

func serve(c *config.Config) error {
	logger.SetLevel(logger.ParseLevel(c.Log.Level))
	logger.SetJSON(c.Log.Format == "json")

	sources := inputs(c)
	out, err := output.Init(output.Params{
		Server: output.ServerParams{
			Listen:          c.Server.Listen,
			WebsocketListen: c.Server.WebsocketListen,
			Name:            c.Server.Name,
			Password:        c.Server.Password,
			Width:           c.Server.Width,
			Height:          c.Server.Height,
		},
		Input:           c.Input.Index,
		Inputs:          len(sources),
		MaxFrameSize:    c.Frame.MaxSize,
		Codec:           c.Decode.Codec,
		RecordPath:      c.Record.Path,
		RecordFPS:       c.Record.FPS,
		ShutdownTimeout: c.ShutdownTimeout,
	})
	if err != nil {
		return err
	}
	src, err := source.Select(sources, c.Input.Index)
	if err != nil {
		return err
	}

	if err := out.Run(); err != nil {
		out.Stop()
		return err
	}
	logger.Infof("jpeg2vnc: showing input %d (%s)", c.Input.Index, src.Name())

	ctx, cancel := context.WithCancel(context.Background())
	srcDone := make(chan error, 1)
	go func() {
		err := src.Run(ctx, out.Slot())
		if err != nil {
			out.Server().Exit()
		}
		srcDone <- err
	}()

	runErr := out.Wait()
	cancel()
	stopErr := out.Stop()
	srcErr := <-srcDone

	switch {
	case runErr != nil:
		return runErr
	case srcErr != nil:
		return errors.Wrap(srcErr, "input")
	}
	return stopErr
}
