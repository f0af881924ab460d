package app

// Key binding constants used in handleKey.
const (
	KeyQuit      = "q"
	KeyQuitUpper = "Q"
	KeyCtrlC     = "ctrl+c"
	KeyStart     = "s"
	KeyEnter     = "enter"
	KeyContinue  = "c"
	KeySpace     = " "
	KeyMute      = "m"
	KeyLabs      = "l"
	KeyXray      = "x"
	KeyZoomIn    = "+"
	KeyZoomInAlt = "="
	KeyZoomOut   = "-"
	KeyEsc       = "esc"
	KeyBack      = "b"
	KeyLeft      = "left"
	KeyRight     = "right"
	KeyBackspace = "backspace"
)
