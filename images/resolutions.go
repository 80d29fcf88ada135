package images

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// AspectRatio represents an aspect ratio by name (e.g., "16:9").
type AspectRatio string

const (
	AspectRatio169 AspectRatio = "16:9"
	AspectRatio43  AspectRatio = "4:3"
	AspectRatio54  AspectRatio = "5:4"
	AspectRatio11  AspectRatio = "1:1"
)

// ErrUnknownResolution is returned for a name that is neither a preset nor
// WIDTHxHEIGHT.
var ErrUnknownResolution = errors.New("unknown resolution")

// Resolution is a named capture resolution.
type Resolution struct {
	Name        string      `json:"name"`
	AspectRatio AspectRatio `json:"aspectRatio"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
}

// MegaPixels returns the pixel count in millions, rounded to two places.
func (r Resolution) MegaPixels() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	mp := float64(r.Width*r.Height) / 1_000_000.0
	return float64(int(mp*100+0.5)) / 100
}

func (r Resolution) String() string {
	return fmt.Sprintf("%s (%dx%d, %.2fMP)", r.Name, r.Width, r.Height, r.MegaPixels())
}

// Presets accepted by ParseResolution. The square preset matches the
// default canonical frame, which avoids any stretch when freezing.
var resolutions = map[string]Resolution{
	"vga":    {Name: "vga", AspectRatio: AspectRatio43, Width: 640, Height: 480},
	"square": {Name: "square", AspectRatio: AspectRatio11, Width: DefaultFrameSize, Height: DefaultFrameSize},
	"svga":   {Name: "svga", AspectRatio: AspectRatio43, Width: 800, Height: 600},
	"720p":   {Name: "720p", AspectRatio: AspectRatio169, Width: 1280, Height: 720},
	"sxga":   {Name: "sxga", AspectRatio: AspectRatio54, Width: 1280, Height: 1024},
	"1080p":  {Name: "1080p", AspectRatio: AspectRatio169, Width: 1920, Height: 1080},
	"2mp":    {Name: "2mp", AspectRatio: AspectRatio43, Width: 1600, Height: 1200},
	"1440p":  {Name: "1440p", AspectRatio: AspectRatio169, Width: 2560, Height: 1440},
	"4k":     {Name: "4k", AspectRatio: AspectRatio169, Width: 3840, Height: 2160},
}

// Resolutions returns every preset, smallest first.
func Resolutions() []Resolution {
	all := make([]Resolution, 0, len(resolutions))
	for _, r := range resolutions {
		all = append(all, r)
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

// ParseResolution resolves a preset name (case-insensitive) or an explicit
// WIDTHxHEIGHT string.
func ParseResolution(name string) (Resolution, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if r, ok := resolutions[key]; ok {
		return r, nil
	}

	w, h, found := strings.Cut(key, "x")
	if !found {
		return Resolution{}, errors.Wrapf(ErrUnknownResolution, "%q", name)
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return Resolution{}, errors.Wrapf(ErrUnknownResolution, "%q", name)
	}
	return Resolution{Name: key, Width: width, Height: height}, nil
}
