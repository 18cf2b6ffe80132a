package actions

import "errors"

var ErrInputUnavailable = errors.New("keyboard input synthesis unavailable")

// NopKeyboard is used when no input backend could be opened. Every call fails
// so the failure shows up in the activity log.
type NopKeyboard struct{}

func (NopKeyboard) PressSaveCombo() error { return ErrInputUnavailable }
func (NopKeyboard) PressSaveAsCombo() error { return ErrInputUnavailable }
func (NopKeyboard) TypeText(string) error { return ErrInputUnavailable }
func (NopKeyboard) PressEnter() error { return ErrInputUnavailable }
