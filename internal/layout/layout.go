package layout

import "fmt"

// 区块坐标约定：
// 背景图以视口全宽渲染，高度由宽高比推导（height = width / aspectRatio）。
// 子图片的位置与尺寸一律以该盒子的百分比存储，像素换算只发生在展示时，
// 因此同一份布局在任意视口宽度下都能正确还原。

// RenderHeight 按宽高比推导区块的渲染高度（像素）。
func RenderHeight(widthPx, aspectRatio float64) float64 {
	if aspectRatio <= 0 {
		return 0
	}
	return widthPx / aspectRatio
}

// PercentToPixelX 把横向百分比换算成像素。
func PercentToPixelX(percent, widthPx float64) float64 {
	return percent / 100 * widthPx
}

// PixelToPercentX 把横向像素换算回百分比。
func PixelToPercentX(px, widthPx float64) float64 {
	if widthPx <= 0 {
		return 0
	}
	return px / widthPx * 100
}

// PercentToPixelY 把纵向百分比换算成像素（纵轴参照由宽高比锁定的渲染高度）。
func PercentToPixelY(percent, widthPx, aspectRatio float64) float64 {
	return percent / 100 * RenderHeight(widthPx, aspectRatio)
}

// PixelToPercentY 把纵向像素换算回百分比。
func PixelToPercentY(px, widthPx, aspectRatio float64) float64 {
	height := RenderHeight(widthPx, aspectRatio)
	if height <= 0 {
		return 0
	}
	return px / height * 100
}

// HeightPercentToPixel 把子图片高度百分比换算成像素。
// 注意：高度百分比的参照是渲染宽度而不是高度，这样图片的观感尺寸随视口缩放。
func HeightPercentToPixel(percent, widthPx float64) float64 {
	return percent / 100 * widthPx
}

// PixelToHeightPercent 把子图片像素高度换算回百分比。
func PixelToHeightPercent(px, widthPx float64) float64 {
	if widthPx <= 0 {
		return 0
	}
	return px / widthPx * 100
}

// ClampPercent 把百分比限制在 [0,100]。
func ClampPercent(percent float64) float64 {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// 动画描述符的枚举值。与前端的 CSS 动画类名保持一致。
const (
	AnimationNone       = "none"
	AnimationFadeIn     = "fadeIn"
	AnimationFadeOut    = "fadeOut"
	AnimationSlideLeft  = "slideLeft"
	AnimationSlideRight = "slideRight"
	AnimationSlideUp    = "slideUp"
	AnimationSlideDown  = "slideDown"
	AnimationZoomIn     = "zoomIn"
	AnimationZoomOut    = "zoomOut"
	AnimationBounce     = "bounce"
	AnimationRotate     = "rotate"
)

const (
	SpeedVerySlow = "very-slow"
	SpeedSlow     = "slow"
	SpeedNormal   = "normal"
	SpeedFast     = "fast"
	SpeedVeryFast = "very-fast"
)

const (
	TriggerContinuous = "continuous"
	TriggerHover      = "hover"
	TriggerOnce       = "once"
)

var animationNames = map[string]struct{}{
	AnimationNone:       {},
	AnimationFadeIn:     {},
	AnimationFadeOut:    {},
	AnimationSlideLeft:  {},
	AnimationSlideRight: {},
	AnimationSlideUp:    {},
	AnimationSlideDown:  {},
	AnimationZoomIn:     {},
	AnimationZoomOut:    {},
	AnimationBounce:     {},
	AnimationRotate:     {},
}

var animationSpeeds = map[string]struct{}{
	SpeedVerySlow: {},
	SpeedSlow:     {},
	SpeedNormal:   {},
	SpeedFast:     {},
	SpeedVeryFast: {},
}

var animationTriggers = map[string]struct{}{
	TriggerContinuous: {},
	TriggerHover:      {},
	TriggerOnce:       {},
}

// Animation 描述子图片的入场/交互动画。
type Animation struct {
	Name    string `json:"name"`
	Speed   string `json:"speed"`
	Trigger string `json:"trigger"`
}

// DefaultAnimation 返回不做动画的默认描述符。
func DefaultAnimation() Animation {
	return Animation{
		Name:    AnimationNone,
		Speed:   SpeedNormal,
		Trigger: TriggerOnce,
	}
}

// Validate 校验动画描述符的枚举值。
func (a Animation) Validate() error {
	if _, ok := animationNames[a.Name]; !ok {
		return fmt.Errorf("unknown animation name %q", a.Name)
	}
	if _, ok := animationSpeeds[a.Speed]; !ok {
		return fmt.Errorf("unknown animation speed %q", a.Speed)
	}
	if _, ok := animationTriggers[a.Trigger]; !ok {
		return fmt.Errorf("unknown animation trigger %q", a.Trigger)
	}
	return nil
}
