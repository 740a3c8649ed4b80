// The option stack: named booleans arranged as a stack of (level, value)
// settings, as described in spec.md §3 "Option stack" and §6.

package main

// OptLevel is one of the precedence levels a flag can be set at, ordered
// from highest to lowest precedence.
type OptLevel int

const (
	LevelError OptLevel = iota
	LevelAuto
	LevelCommandLine
	LevelExecute
	LevelRecipe
	LevelCookbook
	LevelEnvironment
	LevelDefault
	numLevels
)

// Flag names recognised by the option stack (spec.md §6, abbreviated
// table). A `no-` prefix clears a flag in a cookbook bracket attribute
// (cookbook.go) and in a `:no-` command word (exec.go); the command line
// registers no negative spellings.
type Flag string

const (
	FlagAction                  Flag = "action"
	FlagSilent                  Flag = "silent"
	FlagErrok                   Flag = "errok"
	FlagPrecious                Flag = "precious"
	FlagUnlink                  Flag = "unlink"
	FlagMkdir                   Flag = "mkdir"
	FlagSymlinkIngredients      Flag = "symlink-ingredients"
	FlagTouch                   Flag = "touch"
	FlagForce                   Flag = "force"
	FlagFingerprint             Flag = "fingerprint"
	FlagFingerprintWrite        Flag = "fingerprint_write"
	FlagIngredientsFingerprint  Flag = "ingredients-fingerprint"
	FlagCascade                 Flag = "cascade"
	FlagGateBeforeIngredients   Flag = "gate-before-ingredients"
	FlagImplicitAllowed         Flag = "implicit-allowed"
	FlagRecurse                 Flag = "recurse"
	FlagShallow                 Flag = "shallow"
	FlagMeter                   Flag = "meter"
	FlagUpdate                  Flag = "update"
	FlagUpdateMax               Flag = "update_max"
	FlagPersevere                Flag = "persevere"
	FlagMatchModeRegex          Flag = "match-mode-regex"
	FlagReason                  Flag = "reason"
	FlagTellPosition             Flag = "tell-position"
	FlagStar                    Flag = "star"
	FlagStripDot                Flag = "strip-dot"
	FlagInvalidateStatCache     Flag = "invalidate-stat-cache"
	FlagAllowRelaxedZero        Flag = "relaxed-pattern-zero"
)

type levelSetting struct {
	set   bool
	value bool
}

// OptionStack holds, per flag, the setting (set/value) at each precedence
// level. Writing a level marks both set and value; unwinding a level
// clears both bits. Discipline is strict LIFO per scope (spec.md §3
// "Lifecycles").
type OptionStack struct {
	flags map[Flag]*[numLevels]levelSetting
}

func NewOptionStack() *OptionStack {
	return &OptionStack{flags: make(map[Flag]*[numLevels]levelSetting)}
}

func (o *OptionStack) slot(f Flag) *[numLevels]levelSetting {
	s, ok := o.flags[f]
	if !ok {
		s = &[numLevels]levelSetting{}
		o.flags[f] = s
	}
	return s
}

// Set writes a flag's value at the given level.
func (o *OptionStack) Set(level OptLevel, f Flag, value bool) {
	s := o.slot(f)
	s[level] = levelSetting{set: true, value: value}
}

// Unset clears a flag's value at the given level (used when unwinding a
// scope, e.g. the execute-level push made by `set-flags` for the
// duration of an enclosing call frame).
func (o *OptionStack) Unset(level OptLevel, f Flag) {
	s := o.slot(f)
	s[level] = levelSetting{}
}

// Get returns the effective value of a flag: the value set at the
// highest-precedence level that has it set, else false.
func (o *OptionStack) Get(f Flag) bool {
	s, ok := o.flags[f]
	if !ok {
		return false
	}
	for lvl := LevelError; lvl < numLevels; lvl++ {
		if s[lvl].set {
			return s[lvl].value
		}
	}
	return false
}

// IsSet reports whether any level has set f.
func (o *OptionStack) IsSet(f Flag) bool {
	s, ok := o.flags[f]
	if !ok {
		return false
	}
	for lvl := LevelError; lvl < numLevels; lvl++ {
		if s[lvl].set {
			return true
		}
	}
	return false
}

// PushScope pushes a set of flag values at `level` and returns a function
// that restores the prior state for that level (strict LIFO unwind). Used
// by the interpreter's `set-flags` opcode and by check_ingredients when
// applying a recipe's flag set at LevelRecipe.
func (o *OptionStack) PushScope(level OptLevel, values map[Flag]bool) func() {
	prior := make(map[Flag]levelSetting, len(values))
	for f := range values {
		prior[f] = o.slot(f)[level]
	}
	for f, v := range values {
		o.Set(level, f, v)
	}
	return func() {
		for f, p := range prior {
			o.slot(f)[level] = p
		}
	}
}
