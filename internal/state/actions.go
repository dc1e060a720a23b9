package state

// ActionType names a state change.
type ActionType string

const (
	ActionSetEnabled             ActionType = "setEnabled"
	ActionSetGain                ActionType = "setGain"
	ActionSetMuted               ActionType = "setMuted"
	ActionSetBalance             ActionType = "setBalance"
	ActionSetBoostEnabled        ActionType = "setBoostEnabled"
	ActionSetEqualizerType       ActionType = "setEqualizerType"
	ActionSelectBasicPreset      ActionType = "selectBasicPreset"
	ActionSelectAdvancedPreset   ActionType = "selectAdvancedPreset"
	ActionSelectParametricPreset ActionType = "selectParametricPreset"
)

// Action is a proposed state change. Only the payload field matching Type
// is meaningful.
type Action struct {
	Type   ActionType
	Origin Origin
	Bool   bool
	Float  float64
	String string
}

// FromSelf reports whether the session itself caused the action.
func (a Action) FromSelf() bool { return a.Origin == OriginSelf }

func SetEnabled(enabled bool, origin Origin) Action {
	return Action{Type: ActionSetEnabled, Origin: origin, Bool: enabled}
}

func SetGain(gain float64, origin Origin) Action {
	return Action{Type: ActionSetGain, Origin: origin, Float: gain}
}

func SetMuted(muted bool, origin Origin) Action {
	return Action{Type: ActionSetMuted, Origin: origin, Bool: muted}
}

func SetBalance(balance float64, origin Origin) Action {
	return Action{Type: ActionSetBalance, Origin: origin, Float: balance}
}

func SetBoostEnabled(enabled bool, origin Origin) Action {
	return Action{Type: ActionSetBoostEnabled, Origin: origin, Bool: enabled}
}

func SetEqualizerType(t EqualizerType, origin Origin) Action {
	return Action{Type: ActionSetEqualizerType, Origin: origin, String: string(t)}
}

func SelectBasicPreset(id string, origin Origin) Action {
	return Action{Type: ActionSelectBasicPreset, Origin: origin, String: id}
}

func SelectAdvancedPreset(id string, origin Origin) Action {
	return Action{Type: ActionSelectAdvancedPreset, Origin: origin, String: id}
}

func SelectParametricPreset(id string, origin Origin) Action {
	return Action{Type: ActionSelectParametricPreset, Origin: origin, String: id}
}

// SelectPreset selects id on the equalizer of type t.
func SelectPreset(t EqualizerType, id string, origin Origin) Action {
	switch t {
	case EqualizerAdvanced:
		return SelectAdvancedPreset(id, origin)
	case EqualizerParametric:
		return SelectParametricPreset(id, origin)
	default:
		return SelectBasicPreset(id, origin)
	}
}
