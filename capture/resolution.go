package capture

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// AspectRatio represents a capture aspect ratio by name (e.g., "16:9").
type AspectRatio string

// Defines standard aspect ratios for webcams and surveillance cameras.
const (
	AspectRatio169 AspectRatio = "16:9"
	AspectRatio43  AspectRatio = "4:3"
	AspectRatio54  AspectRatio = "5:4"
)

// ResolutionName is the common name of a capture resolution.
type ResolutionName string

// Defines the names accepted in the capture configuration.
const (
	// ResolutionNative leaves the device at whatever size it opens with.
	ResolutionNative ResolutionName = ""

	ResolutionVGA      ResolutionName = "VGA"
	ResolutionNHD      ResolutionName = "nHD"
	ResolutionFWVGA    ResolutionName = "FWVGA"
	ResolutionSVGA     ResolutionName = "SVGA"
	ResolutionQHD540   ResolutionName = "qHD 540p"
	ResolutionHD720p   ResolutionName = "HD 720p"
	ResolutionXGA      ResolutionName = "XGA"
	ResolutionSXGA     ResolutionName = "SXGA"
	ResolutionHDPlus   ResolutionName = "HD+"
	ResolutionFHD1080p ResolutionName = "Full HD 1080p"
	ResolutionUXGA     ResolutionName = "UXGA"
	ResolutionQHD1440p ResolutionName = "QHD 1440p"
	ResolutionUHD4K    ResolutionName = "4K UHD"
)

// Resolution is a named frame size requested from a capture device.
type Resolution struct {
	Name        ResolutionName
	AspectRatio AspectRatio
	Width       int
	Height      int
}

// MegaPixels returns the pixel count in millions, rounded to two decimal places (e.g., 2.07
// for 1080p).
func (r Resolution) MegaPixels() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0.0
	}
	mp := float64(r.Width*r.Height) / 1_000_000.0
	return math.Round(mp*100) / 100
}

// String returns a human-readable summary of the resolution.
func (r Resolution) String() string {
	if r.Name == ResolutionNative {
		return "native"
	}
	return fmt.Sprintf("%s (%dx%d, %.2fMP)", r.Name, r.Width, r.Height, r.MegaPixels())
}

// resolutions stores every supported resolution keyed by name.
var resolutions = map[ResolutionName]Resolution{
	ResolutionVGA:      {Name: ResolutionVGA, AspectRatio: AspectRatio43, Width: 640, Height: 480},
	ResolutionNHD:      {Name: ResolutionNHD, AspectRatio: AspectRatio169, Width: 640, Height: 360},
	ResolutionFWVGA:    {Name: ResolutionFWVGA, AspectRatio: AspectRatio169, Width: 854, Height: 480},
	ResolutionSVGA:     {Name: ResolutionSVGA, AspectRatio: AspectRatio43, Width: 800, Height: 600},
	ResolutionQHD540:   {Name: ResolutionQHD540, AspectRatio: AspectRatio169, Width: 960, Height: 540},
	ResolutionHD720p:   {Name: ResolutionHD720p, AspectRatio: AspectRatio169, Width: 1280, Height: 720},
	ResolutionXGA:      {Name: ResolutionXGA, AspectRatio: AspectRatio43, Width: 1024, Height: 768},
	ResolutionSXGA:     {Name: ResolutionSXGA, AspectRatio: AspectRatio54, Width: 1280, Height: 1024},
	ResolutionHDPlus:   {Name: ResolutionHDPlus, AspectRatio: AspectRatio169, Width: 1600, Height: 900},
	ResolutionFHD1080p: {Name: ResolutionFHD1080p, AspectRatio: AspectRatio169, Width: 1920, Height: 1080},
	ResolutionUXGA:     {Name: ResolutionUXGA, AspectRatio: AspectRatio43, Width: 1600, Height: 1200},
	ResolutionQHD1440p: {Name: ResolutionQHD1440p, AspectRatio: AspectRatio169, Width: 2560, Height: 1440},
	ResolutionUHD4K:    {Name: ResolutionUHD4K, AspectRatio: AspectRatio169, Width: 3840, Height: 2160},
}

// Resolutions returns every supported resolution, smallest first.
func Resolutions() []Resolution {
	all := make([]Resolution, 0, len(resolutions))
	for _, res := range resolutions {
		all = append(all, res)
	}
	sort.Slice(all, func(i, j int) bool {
		pi, pj := all[i].Width*all[i].Height, all[j].Width*all[j].Height
		if pi != pj {
			return pi < pj
		}
		return all[i].Name < all[j].Name
	})
	return all
}

// LookupResolution finds a resolution by name, ignoring case. The empty name is the
// native resolution.
//
// Arguments:
//   - name: The resolution name, e.g. "HD 720p".
//
// Returns:
//   - Resolution: The matching resolution.
//   - bool: false when the name is unknown.
func LookupResolution(name string) (Resolution, bool) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "native") {
		return Resolution{Name: ResolutionNative}, true
	}
	for key, res := range resolutions {
		if strings.EqualFold(string(key), name) {
			return res, true
		}
	}
	return Resolution{}, false
}

// HighestResolutionUnder returns the largest supported resolution that fits in the
// given dimensions.
//
// Arguments:
//   - width: The maximum width.
//   - height: The maximum height.
//
// Returns:
//   - Resolution: The highest resolution not exceeding width x height.
//   - bool: True if a resolution was found, otherwise false.
func HighestResolutionUnder(width, height int) (Resolution, bool) {
	var highest Resolution
	var found bool

	for _, res := range Resolutions() {
		if res.Width <= width && res.Height <= height {
			if !found || res.Width*res.Height > highest.Width*highest.Height {
				highest = res
				found = true
			}
		}
	}
	return highest, found
}

// SelectResolution resolves the configured resolution name against an optional size cap.
// A named resolution larger than the cap, or the native resolution when a cap is set, is
// replaced by the highest named resolution that fits.
//
// Arguments:
//   - name: The configured resolution name, empty for native.
//   - maxWidth: The largest width to request, 0 for no cap.
//   - maxHeight: The largest height to request, 0 for no cap.
//
// Returns:
//   - Resolution: The resolution to request from the device.
//   - error: When the name is unknown or nothing fits the cap.
func SelectResolution(name string, maxWidth, maxHeight int) (Resolution, error) {
	res, ok := LookupResolution(name)
	if !ok {
		return Resolution{}, errors.Errorf("unknown capture resolution %q", name)
	}
	if maxWidth <= 0 && maxHeight <= 0 {
		return res, nil
	}

	if maxWidth <= 0 {
		maxWidth = math.MaxInt
	}
	if maxHeight <= 0 {
		maxHeight = math.MaxInt
	}
	if res.Name != ResolutionNative && res.Width <= maxWidth && res.Height <= maxHeight {
		return res, nil
	}

	capped, ok := HighestResolutionUnder(maxWidth, maxHeight)
	if !ok {
		return Resolution{}, errors.Errorf("no capture resolution fits %dx%d", maxWidth, maxHeight)
	}
	return capped, nil
}
