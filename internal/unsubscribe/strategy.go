package unsubscribe

import (
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/dom"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/keywords"
)

// Strategy is the approach applied to a page's controls.
type Strategy string

const (
	UncheckAllPreferences            Strategy = "uncheck_all_preferences"
	ActivateSingleUnsubscribeControl Strategy = "activate_unsubscribe_control"
	SubmitDirectLink                 Strategy = "submit_direct_link"
)

// Policy holds the tunable thresholds of strategy selection.
type Policy struct {
	// CategoryThreshold is the number of category checkboxes that marks a
	// preference center on its own.
	CategoryThreshold int
	// MinPreferenceCheckboxes is the checkbox count needed when only the
	// title or heading suggests a preference page.
	MinPreferenceCheckboxes int
}

func DefaultPolicy() Policy {
	return Policy{CategoryThreshold: 2, MinPreferenceCheckboxes: 2}
}

// Decision is the chosen strategy plus the counts that led to it.
type Decision struct {
	Strategy        Strategy
	Unsubscribe     int
	Category        int
	// NamedCategories counts category checkboxes whose label names a
	// known topic. Selection does not depend on it.
	NamedCategories int
	Checkboxes      int
	PreferencesPage bool
}

// SelectStrategy picks one strategy for the page.
func SelectStrategy(inv *Inventory, dict *keywords.Dictionary, p Policy) Decision {
	d := Decision{PreferencesPage: dict.MentionsPreferences(inv.Title, inv.Heading)}

	anyUnsubscribe := false
	for _, c := range inv.Controls {
		switch c.Kind {
		case dom.KindCheckbox:
			d.Checkboxes++
			switch c.Class {
			case ClassUnsubscribe:
				d.Unsubscribe++
				anyUnsubscribe = true
			case ClassCategory:
				d.Category++
				if dict.IsCategory(c.Label) {
					d.NamedCategories++
				}
			}
		case dom.KindRadio:
			if c.Class == ClassUnsubscribe {
				anyUnsubscribe = true
			}
		}
	}

	switch {
	case d.Category > d.Unsubscribe,
		d.Category >= p.CategoryThreshold,
		d.PreferencesPage && d.Checkboxes >= p.MinPreferenceCheckboxes:
		d.Strategy = UncheckAllPreferences
	case anyUnsubscribe:
		d.Strategy = ActivateSingleUnsubscribeControl
	default:
		d.Strategy = SubmitDirectLink
	}
	return d
}
