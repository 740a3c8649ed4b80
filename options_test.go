package main

import "testing"

func TestOptionStackPrecedenceHighestLevelWins(t *testing.T) {
	o := NewOptionStack()
	o.Set(LevelDefault, FlagSilent, false)
	o.Set(LevelEnvironment, FlagSilent, true)
	if !o.Get(FlagSilent) {
		t.Errorf("expected LevelEnvironment to beat LevelDefault")
	}
	o.Set(LevelCommandLine, FlagSilent, false)
	if o.Get(FlagSilent) {
		t.Errorf("expected LevelCommandLine to beat LevelEnvironment")
	}
}

func TestOptionStackUnsetFallsBackToLowerLevel(t *testing.T) {
	o := NewOptionStack()
	o.Set(LevelDefault, FlagTouch, false)
	o.Set(LevelCommandLine, FlagTouch, true)
	if !o.Get(FlagTouch) {
		t.Fatalf("expected command-line true to win")
	}
	o.Unset(LevelCommandLine, FlagTouch)
	if o.Get(FlagTouch) {
		t.Errorf("expected Unset to fall back to the default level's false")
	}
}

func TestOptionStackGetUnsetFlagIsFalse(t *testing.T) {
	o := NewOptionStack()
	if o.Get(FlagMeter) {
		t.Errorf("expected an entirely unset flag to read false")
	}
	if o.IsSet(FlagMeter) {
		t.Errorf("expected IsSet to report false for an untouched flag")
	}
}

func TestOptionStackPushScopeRestoresPriorLevelValue(t *testing.T) {
	o := NewOptionStack()
	o.Set(LevelRecipe, FlagSilent, false)
	restore := o.PushScope(LevelExecute, map[Flag]bool{FlagSilent: true})
	if !o.Get(FlagSilent) {
		t.Fatalf("expected the pushed scope's value to take effect")
	}
	restore()
	if o.Get(FlagSilent) {
		t.Errorf("expected restore to drop the execute-level override")
	}
}

func TestOptionStackPushScopeRestoresUnsetWhenNothingWasThereBefore(t *testing.T) {
	o := NewOptionStack()
	restore := o.PushScope(LevelExecute, map[Flag]bool{FlagErrok: true})
	if !o.Get(FlagErrok) {
		t.Fatalf("expected errok to be set inside the scope")
	}
	restore()
	if o.IsSet(FlagErrok) {
		t.Errorf("expected restore to leave errok entirely unset, since nothing set it at LevelExecute before")
	}
}
