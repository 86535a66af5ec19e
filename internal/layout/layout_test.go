package layout

import (
	"math"
	"testing"
)

const epsilon = 1e-6

func relClose(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return true
	}
	return math.Abs(a-b)/scale < epsilon
}

func TestRenderHeight(t *testing.T) {
	if got := RenderHeight(1000, 2.0); got != 500 {
		t.Fatalf("RenderHeight(1000, 2.0) = %v, want 500", got)
	}
	if got := RenderHeight(1920, 16.0/9.0); !relClose(got, 1080) {
		t.Fatalf("RenderHeight(1920, 16/9) = %v, want 1080", got)
	}
	if got := RenderHeight(1000, 0); got != 0 {
		t.Fatalf("RenderHeight with zero aspect ratio = %v, want 0", got)
	}
}

func TestPercentPixelRoundTrip(t *testing.T) {
	percents := []float64{0, 0.001, 12.5, 33.333333, 50, 99.999, 100}
	widths := []float64{1, 320, 1000, 1920, 3840.5}
	ratios := []float64{0.5, 1, 1.78, 2.0, 21.0 / 9.0}

	for _, p := range percents {
		for _, w := range widths {
			if got := PixelToPercentX(PercentToPixelX(p, w), w); !relClose(got, p) {
				t.Errorf("x round trip p=%v w=%v: got %v", p, w, got)
			}
			if got := PixelToHeightPercent(HeightPercentToPixel(p, w), w); !relClose(got, p) {
				t.Errorf("height round trip p=%v w=%v: got %v", p, w, got)
			}
			for _, a := range ratios {
				if got := PixelToPercentY(PercentToPixelY(p, w, a), w, a); !relClose(got, p) {
					t.Errorf("y round trip p=%v w=%v a=%v: got %v", p, w, a, got)
				}
			}
		}
	}
}

func TestClampPercent(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-5, 0},
		{0, 0},
		{42.5, 42.5},
		{100, 100},
		{100.01, 100},
	}
	for _, c := range cases {
		if got := ClampPercent(c.in); got != c.want {
			t.Errorf("ClampPercent(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestAnimationValidate(t *testing.T) {
	valid := Animation{Name: AnimationFadeIn, Speed: SpeedNormal, Trigger: TriggerOnce}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid animation rejected: %v", err)
	}

	if err := DefaultAnimation().Validate(); err != nil {
		t.Fatalf("default animation rejected: %v", err)
	}

	cases := []Animation{
		{Name: "sparkle", Speed: SpeedNormal, Trigger: TriggerOnce},
		{Name: AnimationFadeIn, Speed: "warp", Trigger: TriggerOnce},
		{Name: AnimationFadeIn, Speed: SpeedNormal, Trigger: "scroll"},
		{},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: invalid animation %+v accepted", i, c)
		}
	}
}
