package chess

import "errors"

var (
	ErrSessionNotFound = errors.New("chess session not found")
	ErrColorLocked     = errors.New("color already chosen")
	ErrColorNotChosen  = errors.New("color not chosen yet")
	ErrGameFinished    = errors.New("chess game already finished")
)
