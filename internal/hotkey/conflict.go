package hotkey

import (
	"strings"

	"golang.design/x/hotkey"
)

// Conflict is a shortcut already owned by macOS or by an app that tends to be
// open next to a voice session
type Conflict struct {
	Name  string
	Owner string
	Combo Config
}

// String names the shortcut with its owner, e.g. "Mute (Zoom)"
func (c Conflict) String() string {
	return c.Name + " (" + c.Owner + ")"
}

func combo(key hotkey.Key, mods ...hotkey.Modifier) Config {
	return Config{Modifiers: mods, Key: key}
}

var knownConflicts = []Conflict{
	{"Spotlight / Siri", "macOS", combo(hotkey.KeySpace, hotkey.ModCmd)},
	{"Input source switch", "macOS", combo(hotkey.KeySpace, hotkey.ModCtrl)},
	{"Character Viewer", "macOS", combo(hotkey.KeySpace, hotkey.ModCtrl, hotkey.ModCmd)},
	{"Force Quit", "macOS", combo(hotkey.KeyEscape, hotkey.ModCmd, hotkey.ModOption)},
	{"App switcher", "macOS", combo(hotkey.KeyTab, hotkey.ModCmd)},
	{"Quit app", "macOS", combo(hotkey.KeyQ, hotkey.ModCmd)},

	// Call apps grab the microphone too; sharing their mute key would
	// start the tutor while muting the call
	{"Mute", "Zoom", combo(hotkey.KeyA, hotkey.ModCmd, hotkey.ModShift)},
	{"Mute", "Google Meet", combo(hotkey.KeyD, hotkey.ModCmd)},
	{"Mute", "Microsoft Teams", combo(hotkey.KeyM, hotkey.ModCmd, hotkey.ModShift)},
	{"Voice mode", "ChatGPT", combo(hotkey.KeySpace, hotkey.ModOption)},
}

// CheckConflicts lists the known shortcuts the given combination would shadow
func CheckConflicts(modifiers []hotkey.Modifier, key hotkey.Key) []Conflict {
	c := Config{Modifiers: modifiers, Key: key}

	var conflicts []Conflict
	for _, known := range knownConflicts {
		if c.Matches(known.Combo) {
			conflicts = append(conflicts, known)
		}
	}
	return conflicts
}

// Matches reports whether both configs press the same keys, in any
// modifier order
func (c Config) Matches(other Config) bool {
	return c.Key == other.Key && modifierMask(c.Modifiers) == modifierMask(other.Modifiers)
}

func modifierMask(mods []hotkey.Modifier) hotkey.Modifier {
	var mask hotkey.Modifier
	for _, m := range mods {
		mask |= m
	}
	return mask
}

var modifierSymbols = map[hotkey.Modifier]string{
	hotkey.ModCtrl:   "⌃",
	hotkey.ModShift:  "⇧",
	hotkey.ModOption: "⌥",
	hotkey.ModCmd:    "⌘",
}

// FormatHotkey renders modifiers as symbols in the given order followed by
// the key name, e.g. ⌃⌥Space
func FormatHotkey(modifiers []hotkey.Modifier, key hotkey.Key) string {
	var b strings.Builder
	for _, mod := range modifiers {
		b.WriteString(modifierSymbols[mod])
	}
	b.WriteString(keyToString(key))
	return b.String()
}

// namedKeys are the non-alphanumeric keys a session hotkey may use
var namedKeys = map[hotkey.Key]string{
	hotkey.KeySpace:  "Space",
	hotkey.KeyEscape: "Esc",
	hotkey.KeyReturn: "Return",
	hotkey.KeyTab:    "Tab",
	hotkey.KeyDelete: "Delete",
}

// Virtual key codes are not contiguous on macOS, so letters and digits are
// listed explicitly
var letterKeys = [26]hotkey.Key{
	hotkey.KeyA, hotkey.KeyB, hotkey.KeyC, hotkey.KeyD, hotkey.KeyE, hotkey.KeyF, hotkey.KeyG, hotkey.KeyH, hotkey.KeyI, hotkey.KeyJ, hotkey.KeyK, hotkey.KeyL, hotkey.KeyM,
	hotkey.KeyN, hotkey.KeyO, hotkey.KeyP, hotkey.KeyQ, hotkey.KeyR, hotkey.KeyS, hotkey.KeyT, hotkey.KeyU, hotkey.KeyV, hotkey.KeyW, hotkey.KeyX, hotkey.KeyY, hotkey.KeyZ,
}

var digitKeys = [10]hotkey.Key{
	hotkey.Key0, hotkey.Key1, hotkey.Key2, hotkey.Key3, hotkey.Key4, hotkey.Key5, hotkey.Key6, hotkey.Key7, hotkey.Key8, hotkey.Key9,
}

func keyToString(key hotkey.Key) string {
	if name, ok := namedKeys[key]; ok {
		return name
	}
	for i, k := range letterKeys {
		if k == key {
			return string(rune('A' + i))
		}
	}
	for i, k := range digitKeys {
		if k == key {
			return string(rune('0' + i))
		}
	}
	return "Unknown"
}
