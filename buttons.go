package vnc

// Button represents a mask of pointer presses/releases.
type Button uint8

// All available button mask components.
const (
	BtnLeft Button = 1 << iota
	BtnMiddle
	BtnRight
	BtnFour
	BtnFive
	BtnSix
	BtnSeven
	BtnEight
	BtnNone Button = 0
)

// Mask returns button mask
func Mask(button Button) uint8 {
	return uint8(button)
}

// Has reports whether every button in b is pressed.
func (m Button) Has(b Button) bool {
	return m&b == b && b != BtnNone
}
