package node

import "context"

// Snapshot sizing defaults. Quality is clamped to [0.05, 1.0].
const (
	SnapshotMaxWidthPNG  = 900
	SnapshotMaxWidthJPEG = 1600
	SnapshotQuality      = 0.9
	snapshotQualityMin   = 0.05
	snapshotQualityMax   = 1.0
)

// SnapshotParams controls canvas.snapshot output.
type SnapshotParams struct {
	Format   string  `json:"format,omitempty"`
	MaxWidth int     `json:"maxWidth,omitempty"`
	Quality  float64 `json:"quality,omitempty"`
}

// normalize fills documented defaults and clamps quality.
func (p *SnapshotParams) normalize() {
	if p.Format != "jpeg" && p.Format != "png" {
		p.Format = "png"
	}
	if p.MaxWidth <= 0 {
		if p.Format == "jpeg" {
			p.MaxWidth = SnapshotMaxWidthJPEG
		} else {
			p.MaxWidth = SnapshotMaxWidthPNG
		}
	}
	if p.Quality <= 0 {
		p.Quality = SnapshotQuality
	}
	if p.Quality < snapshotQualityMin {
		p.Quality = snapshotQualityMin
	}
	if p.Quality > snapshotQualityMax {
		p.Quality = snapshotQualityMax
	}
}

// CameraSnapParams controls camera.snap.
type CameraSnapParams struct {
	Facing   string  `json:"facing,omitempty"`
	MaxWidth int     `json:"maxWidth,omitempty"`
	Quality  float64 `json:"quality,omitempty"`
}

func (p *CameraSnapParams) normalize() {
	if p.Facing != "front" && p.Facing != "back" {
		p.Facing = "back"
	}
	if p.MaxWidth <= 0 {
		p.MaxWidth = SnapshotMaxWidthJPEG
	}
	if p.Quality <= 0 {
		p.Quality = SnapshotQuality
	}
	if p.Quality < snapshotQualityMin {
		p.Quality = snapshotQualityMin
	}
	if p.Quality > snapshotQualityMax {
		p.Quality = snapshotQualityMax
	}
}

// CameraClipParams controls camera.clip.
type CameraClipParams struct {
	Facing  string  `json:"facing,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`
}

func (p *CameraClipParams) normalize() {
	if p.Facing != "front" && p.Facing != "back" {
		p.Facing = "back"
	}
	if p.Seconds <= 0 {
		p.Seconds = 3
	}
}

// ScreenRecordParams controls screen.record.
type ScreenRecordParams struct {
	Seconds float64 `json:"seconds,omitempty"`
	Screen  int     `json:"screen,omitempty"`
}

func (p *ScreenRecordParams) normalize() {
	if p.Seconds <= 0 {
		p.Seconds = 5
	}
}

// Capture is the result of a camera/screen/snapshot operation. Media is
// carried base64-encoded; backends that write temporary files report the
// path instead and own the file's lifetime.
type Capture struct {
	Format          string  `json:"format,omitempty"`
	Base64          string  `json:"base64,omitempty"`
	Path            string  `json:"path,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

// ShellResult is the result of system.run.
type ShellResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// Canvas is the embedded web view capability. The renderer itself lives
// outside this package; commands reach it through script evaluation.
type Canvas interface {
	Present(ctx context.Context, url string) error
	Hide(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	EvalJS(ctx context.Context, script string) (string, error)
	Snapshot(ctx context.Context, p SnapshotParams) (Capture, error)
}

// Camera is the device camera capability.
type Camera interface {
	Snap(ctx context.Context, p CameraSnapParams) (Capture, error)
	Clip(ctx context.Context, p CameraClipParams) (Capture, error)
}

// Screen is the screen recording capability.
type Screen interface {
	Record(ctx context.Context, p ScreenRecordParams) (Capture, error)
}

// Shell executes commands on the node host.
type Shell interface {
	Run(ctx context.Context, command string) (ShellResult, error)
}

// Notifier posts local notifications on the node.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// Capabilities bundles the concrete device services injected into the
// dispatcher at construction. Nil fields mean the capability is not
// installed on this node.
type Capabilities struct {
	Canvas   Canvas
	Camera   Camera
	Screen   Screen
	Shell    Shell
	Notifier Notifier
}

// Gates controls capability availability at dispatch time. Nil funcs mean
// always allowed / always foreground.
type Gates struct {
	CanvasEnabled func() bool
	CameraEnabled func() bool
	Foreground    func() bool
}

func (g Gates) canvasEnabled() bool {
	return g.CanvasEnabled == nil || g.CanvasEnabled()
}

func (g Gates) cameraEnabled() bool {
	return g.CameraEnabled == nil || g.CameraEnabled()
}

func (g Gates) foreground() bool {
	return g.Foreground == nil || g.Foreground()
}
