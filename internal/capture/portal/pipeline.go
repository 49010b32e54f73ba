package portal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/bryanchriswhite/screenshare/internal/logger"
)

const (
	fallbackWidth  = 1920
	fallbackHeight = 1080
	probeTimeout   = 10 * time.Second
)

// pipeline runs gst-launch-1.0 against a PipeWire node and reads raw RGBA
// frames from its stdout. The first complete frame acknowledges Start.
type pipeline struct {
	launcher string
	nodeID   uint32
	cfg      capture.Configuration
	sink     capture.Sink
	width    int
	height   int

	mu       sync.Mutex
	cmd      *exec.Cmd
	started  bool
	stopped  bool
	seq      uint64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logDone  chan struct{}
	stopOnce sync.Once
}

func newPipeline(launcher string, surface capture.Surface, cfg capture.Configuration, sink capture.Sink) *pipeline {
	return &pipeline{
		launcher: launcher,
		nodeID:   surface.ID,
		cfg:      cfg,
		sink:     sink,
		width:    surface.Width(),
		height:   surface.Height(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logDone:  make(chan struct{}),
	}
}

// pipelineArgs builds the gst-launch argument list. Each element and caps
// string is its own argument so no shell is involved.
func pipelineArgs(nodeID uint32, width, height, fps int) []string {
	return []string{
		"-q",
		"pipewiresrc", fmt.Sprintf("path=%d", nodeID), "do-timestamp=true", "!",
		"videorate", "!",
		"videoconvert", "!",
		"videoscale", "!",
		fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1", width, height, fps), "!",
		"fdsink", "fd=1", "sync=false",
	}
}

// Start launches the subprocess and waits for the first frame
func (g *pipeline) Start(ctx context.Context) error {
	log := logger.WithComponent("gstreamer-subprocess")

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return errors.New("pipeline stopped")
	}
	if g.started {
		g.mu.Unlock()
		return fmt.Errorf("pipeline already running")
	}
	g.mu.Unlock()

	width, height := g.cfg.Width, g.cfg.Height
	if width == 0 || height == 0 {
		width, height = g.width, g.height
	}
	if width == 0 || height == 0 {
		var err error
		width, height, err = probeVideoDimensions(ctx, g.launcher, g.nodeID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to probe video dimensions, using defaults")
			width, height = fallbackWidth, fallbackHeight
		}
	}
	log.Info().Int("width", width).Int("height", height).Msg("Video dimensions")

	args := pipelineArgs(g.nodeID, width, height, g.cfg.FrameRate())
	cmd := exec.Command(g.launcher, args...)
	log.Debug().Strs("args", args).Msg("Starting GStreamer subprocess")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return errors.New("pipeline stopped")
	}
	if err := cmd.Start(); err != nil {
		g.mu.Unlock()
		return fmt.Errorf("failed to start %s: %w", g.launcher, err)
	}
	g.cmd = cmd
	g.started = true
	g.mu.Unlock()

	log.Info().Uint32("node_id", g.nodeID).Int("pid", cmd.Process.Pid).Msg("GStreamer subprocess started")

	firstFrame := make(chan error, 1)
	go g.logStderr(stderr)
	go g.readFrames(stdout, width, height, firstFrame)

	select {
	case err := <-firstFrame:
		if err != nil {
			return fmt.Errorf("no frame from pipeline: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readFrames reads fixed-size RGBA frames until the process exits or Stop is called
func (g *pipeline) readFrames(stdout io.Reader, width, height int, firstFrame chan<- error) {
	defer close(g.doneCh)

	log := logger.WithComponent("gstreamer-subprocess")
	frameSize := width * height * 4
	reader := bufio.NewReaderSize(stdout, frameSize*2)
	acked := false

	for {
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		if _, err := io.ReadFull(reader, img.Pix); err != nil {
			select {
			case <-g.stopCh:
				log.Debug().Msg("Frame reader stopping")
				return
			default:
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				err = fmt.Errorf("pipeline exited: %w", err)
			}
			if !acked {
				firstFrame <- err
				return
			}
			g.sink.OnError(err)
			return
		}

		if !acked {
			acked = true
			firstFrame <- nil
		}

		select {
		case <-g.stopCh:
			return
		default:
		}

		g.seq++
		g.sink.OnSample(capture.FrameEvent{
			Type:      capture.StreamTypeScreen,
			Image:     img,
			Timestamp: time.Now(),
			Sequence:  g.seq,
		})
	}
}

// logStderr logs any errors from the GStreamer subprocess
func (g *pipeline) logStderr(stderr io.Reader) {
	defer close(g.logDone)
	log := logger.WithComponent("gstreamer-subprocess")
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Stop kills the subprocess and waits for the reader to exit
func (g *pipeline) Stop() error {
	g.stopOnce.Do(func() {
		g.mu.Lock()
		g.stopped = true
		cmd := g.cmd
		g.mu.Unlock()

		close(g.stopCh)
		if cmd == nil {
			return
		}

		log := logger.WithComponent("gstreamer-subprocess")
		log.Debug().Int("pid", cmd.Process.Pid).Msg("Killing GStreamer subprocess")
		cmd.Process.Kill()
		<-g.doneCh
		<-g.logDone
		cmd.Wait()
		log.Info().Uint64("frames", g.seq).Msg("GStreamer subprocess stopped")
	})
	return nil
}

// probeVideoDimensions runs a one-buffer pipeline and reads the negotiated caps
func probeVideoDimensions(ctx context.Context, launcher string, nodeID uint32) (int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, launcher, "-v",
		"pipewiresrc", fmt.Sprintf("path=%d", nodeID), "num-buffers=1", "!", "fakesink")
	output, err := cmd.CombinedOutput()
	if err != nil {
		// caps are often printed before the error
		logger.WithComponent("gstreamer-subprocess").Debug().Str("output", string(output)).Msg("Probe command output")
	}

	if w, h := dimensionsFromCaps(string(output)); w > 0 && h > 0 {
		return w, h, nil
	}
	return 0, 0, fmt.Errorf("could not determine video dimensions")
}

// dimensionsFromCaps finds the first video/x-raw caps line with a size, e.g.
// .../GstPipeWireSrc:pipewiresrc0.GstPad:src: caps = video/x-raw, format=(string)BGRx, width=(int)2560, height=(int)1440
func dimensionsFromCaps(output string) (int, int) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "video/x-raw") || !strings.Contains(line, "width=") {
			continue
		}
		width := extractIntFromCaps(line, "width")
		height := extractIntFromCaps(line, "height")
		if width > 0 && height > 0 {
			return width, height
		}
	}
	return 0, 0
}

// extractIntFromCaps extracts an integer value from GStreamer caps string
func extractIntFromCaps(caps, key string) int {
	// Look for patterns like "width=(int)1920" or "width=1920"
	for _, pattern := range []string{key + "=(int)", key + "="} {
		idx := strings.Index(caps, pattern)
		if idx < 0 {
			continue
		}
		start := idx + len(pattern)
		end := start
		for end < len(caps) && caps[end] >= '0' && caps[end] <= '9' {
			end++
		}
		if end > start {
			if val, err := strconv.Atoi(caps[start:end]); err == nil {
				return val
			}
		}
	}
	return 0
}
