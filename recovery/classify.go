// Package recovery detects abnormal UI states and repairs them one step at
// a time.
//
// Every cycle the host hands the machine the cycle's snapshot. Classify
// maps it to one State in strict priority order; Step performs at most one
// corrective action for that state and leaves the rest for the next cycle,
// which re-evaluates from scratch.
package recovery

import (
	"github.com/hazyhaar/partyhost/device"
	"github.com/hazyhaar/partyhost/uitree"
)

// State is the classification of one snapshot.
type State string

const (
	StateNormal           State = "normal"
	StateRiskPresent      State = "risk_present"      // non-blocking element that destabilizes the UI
	StateBlockedCloseable State = "blocked_closeable" // a close/back affordance is shown
	StateBlockedDrawer    State = "blocked_drawer"    // a drawer overlay covers the screen
	StateBlockedOther     State = "blocked_other"     // a known situation with its own fix
	StateUnknown          State = "unknown"           // no marker and nothing recognised
)

// Risk is an element to dismiss even when the screen is otherwise normal.
// Dismiss is clicked to get rid of it; when zero the element itself is
// clicked.
type Risk struct {
	Key     uitree.Key `yaml:"key"`
	Dismiss uitree.Key `yaml:"dismiss"`
}

// Drawer is an overlay closed by tapping a screen edge.
type Drawer struct {
	Key  uitree.Key  `yaml:"key"`
	Side device.Side `yaml:"side"`
}

// Situation is a recognised anomaly shape and the element that fixes it,
// e.g. a "rejoin room" button shown after being kicked to the lobby.
type Situation struct {
	Name  string     `yaml:"name"`
	When  uitree.Key `yaml:"when"`
	Click uitree.Key `yaml:"click"`
}

// Rules describe the normal screen and the known anomalies. Close keys are
// tried in order.
type Rules struct {
	Marker     uitree.Key   `yaml:"marker"`
	Risks      []Risk       `yaml:"risks"`
	Close      []uitree.Key `yaml:"close"`
	Drawers    []Drawer     `yaml:"drawers"`
	Situations []Situation  `yaml:"situations"`
}

// Assessment is the classification of one snapshot and the element it
// hinges on.
type Assessment struct {
	State State `json:"state"`
	// Key is the element the corrective action targets.
	Key       uitree.Key  `json:"key"`
	Side      device.Side `json:"side,omitempty"`
	Situation string      `json:"situation,omitempty"`
}

// Classify assesses a snapshot. Risks are checked first, even when the
// marker is present; then the marker; then close keys, drawers and
// situations in that order.
func Classify(tree *uitree.Tree, r Rules) Assessment {
	for _, risk := range r.Risks {
		if tree.Has(risk.Key) {
			target := risk.Dismiss
			if target.IsZero() {
				target = risk.Key
			}
			return Assessment{State: StateRiskPresent, Key: target}
		}
	}
	if tree.Has(r.Marker) {
		return Assessment{State: StateNormal, Key: r.Marker}
	}
	for _, k := range r.Close {
		if tree.Has(k) {
			return Assessment{State: StateBlockedCloseable, Key: k}
		}
	}
	for _, d := range r.Drawers {
		if tree.Has(d.Key) {
			side := d.Side
			if side == "" {
				side = device.SideRight
			}
			return Assessment{State: StateBlockedDrawer, Key: d.Key, Side: side}
		}
	}
	for _, s := range r.Situations {
		if tree.Has(s.When) {
			target := s.Click
			if target.IsZero() {
				target = s.When
			}
			return Assessment{State: StateBlockedOther, Key: target, Situation: s.Name}
		}
	}
	return Assessment{State: StateUnknown}
}
