package ansi

import "fmt"

// base16 holds the first 16 palette entries in the xterm defaults. Terminals
// are free to theme these, but a fixed table keeps rendering deterministic
// across consumers.
var base16 = [16]string{
	"#000000", "#cd0000", "#00cd00", "#cdcd00",
	"#0000ee", "#cd00cd", "#00cdcd", "#e5e5e5",
	"#7f7f7f", "#ff0000", "#00ff00", "#ffff00",
	"#5c5cff", "#ff00ff", "#00ffff", "#ffffff",
}

// cubeLevels are the six channel intensities of the 216-color cube.
var cubeLevels = [6]int{0, 95, 135, 175, 215, 255}

// Palette256 maps a 256-color palette index to a hex RGB string. Indexes
// outside [0,255] return the empty string (default color).
func Palette256(idx int) string {
	switch {
	case idx < 0 || idx > 255:
		return ""
	case idx < 16:
		return base16[idx]
	case idx < 232:
		n := idx - 16
		r := cubeLevels[n/36]
		g := cubeLevels[(n/6)%6]
		b := cubeLevels[n%6]
		return fmt.Sprintf("#%02x%02x%02x", r, g, b)
	default:
		// 24-step grayscale ramp from 8 to 238.
		v := 8 + (idx-232)*10
		return fmt.Sprintf("#%02x%02x%02x", v, v, v)
	}
}
