package capture

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// DefaultSequenceFPS is the replay rate of a frame sequence when none is given.
const DefaultSequenceFPS = 15

// FrameFile is one still image of a recorded sequence.
type FrameFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the frame number parsed from a "frame-<n>" file name, or -1.
	Frame int
}

// ListFrameFiles returns the image files of dir in replay order: numbered frames
// ("frame-12.jpg" or "12.png") by number first, then every other image by name.
//
// Arguments:
//   - dir: Directory containing the image files.
//
// Returns:
//   - []FrameFile: The files in replay order.
//   - error: When the directory cannot be read or holds no images.
func ListFrameFiles(dir string) ([]FrameFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read frame directory")
	}

	var files []FrameFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".bmp":
			frame, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())), "frame-"))
			if err != nil || frame < 0 {
				frame = -1
			}
			files = append(files, FrameFile{Path: filepath.Join(dir, entry.Name()), Frame: frame})
		}
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no image files in %s", dir)
	}

	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		switch {
		case a.Frame >= 0 && b.Frame >= 0:
			return a.Frame < b.Frame
		case a.Frame >= 0 || b.Frame >= 0:
			return a.Frame >= 0
		default:
			return a.Path < b.Path
		}
	})

	return files, nil
}

// sequence replays still images as if they came from a device, one per frame period.
type sequence struct {
	files  []FrameFile
	period time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	next   int
	last   time.Time
	width  float64
	height float64
}

func (s *sequence) Read(m *gocv.Mat) bool {
	s.mu.Lock()
	if s.next >= len(s.files) {
		s.mu.Unlock()
		return false
	}
	file := s.files[s.next]
	s.next++
	wait := s.period - time.Since(s.last)
	s.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}

	img := gocv.IMRead(file.Path, gocv.IMReadColor)
	defer img.Close()
	if err := img.CopyTo(m); err != nil {
		s.logger.Debug("failed to copy frame", "path", file.Path, "error", err)
	}

	s.mu.Lock()
	s.last = time.Now()
	if !img.Empty() {
		s.width, s.height = float64(img.Cols()), float64(img.Rows())
	}
	s.mu.Unlock()

	return true
}

// Set is a no-op: still images keep their recorded size.
func (s *sequence) Set(gocv.VideoCaptureProperties, float64) {}

func (s *sequence) Get(prop gocv.VideoCaptureProperties) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch prop {
	case gocv.VideoCaptureFrameWidth:
		return s.width
	case gocv.VideoCaptureFrameHeight:
		return s.height
	case gocv.VideoCaptureFPS:
		return float64(time.Second) / float64(s.period)
	default:
		return 0
	}
}

func (s *sequence) Close() error { return nil }

// OpenSequence replays the images of dir at fps frames per second as a Camera. The
// camera becomes inactive after the last image.
//
// Arguments:
//   - ctx: Bounds the replay.
//   - dir: Directory of image files, see ListFrameFiles.
//   - fps: Replay rate; non-positive means DefaultSequenceFPS.
//   - opts: Logger and device label. Resolution is ignored.
//
// Returns:
//   - *Camera: The replaying source.
//   - error: When the directory holds no images.
func OpenSequence(ctx context.Context, dir string, fps float64, opts Options) (*Camera, error) {
	files, err := ListFrameFiles(dir)
	if err != nil {
		return nil, err
	}
	if fps <= 0 {
		fps = DefaultSequenceFPS
	}

	opts.Device = dir
	opts.Resolution = Resolution{Name: ResolutionNative}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return start(ctx, &sequence{
		files:  files,
		period: time.Duration(float64(time.Second) / fps),
		logger: logger.With("component", "sequence", "dir", dir),
	}, opts), nil
}

// IsSequence reports whether device names a directory of frames.
func IsSequence(device string) bool {
	info, err := os.Stat(device)
	return err == nil && info.IsDir()
}
