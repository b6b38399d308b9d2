package unsubscribe

import (
	"context"
	"fmt"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/dom"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/keywords"
)

// Class is the semantic role of a control.
type Class string

const (
	ClassUnsubscribe Class = "unsubscribe_action"
	ClassCategory    Class = "category_preference"
	ClassUnknown     Class = "unknown"
)

// ResolveLabel returns the first non-empty label source, normalized. An
// unlabeled control yields "".
func ResolveLabel(src dom.LabelSources) string {
	for _, s := range src.Ordered() {
		if n := keywords.Normalize(s); n != "" {
			return n
		}
	}
	return ""
}

// Classify maps a label to a class. Unsubscribe wording wins over category
// wording; any other non-empty label counts as a category.
func Classify(label string, dict *keywords.Dictionary) Class {
	switch {
	case keywords.Normalize(label) == "":
		return ClassUnknown
	case dict.IsUnsubscribe(label):
		return ClassUnsubscribe
	default:
		return ClassCategory
	}
}

// FormControl is a surveyed control with its resolved label and class.
type FormControl struct {
	dom.Control
	Label string
	Class Class
}

func classifyControl(c dom.Control, dict *keywords.Dictionary) FormControl {
	fc := FormControl{Control: c, Label: ResolveLabel(c.Labels)}
	fc.Class = Classify(fc.Label, dict)
	// Radio options often carry their intent in the value only.
	if c.Kind == dom.KindRadio && fc.Class != ClassUnsubscribe && dict.IsUnsubscribe(c.Value) {
		fc.Class = ClassUnsubscribe
	}
	return fc
}

// Inventory is everything the survey learned about the page.
type Inventory struct {
	Title    string
	Heading  string
	Forms    int
	Controls []FormControl
}

func (inv *Inventory) ByKind(k dom.Kind) []FormControl {
	var out []FormControl
	for _, c := range inv.Controls {
		if c.Kind == k {
			out = append(out, c)
		}
	}
	return out
}

// Survey reads page signals and classifies every control inside a form.
func Survey(ctx context.Context, page dom.Page, dict *keywords.Dictionary) (*Inventory, error) {
	info, err := page.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page info: %w", err)
	}
	inv := &Inventory{
		Title:   keywords.Normalize(info.Title),
		Heading: keywords.Normalize(info.Heading),
		Forms:   info.Forms,
	}
	if info.Forms == 0 {
		return inv, nil
	}

	controls, err := page.Controls(ctx)
	if err != nil {
		return inv, fmt.Errorf("failed to list controls: %w", err)
	}
	for _, c := range controls {
		inv.Controls = append(inv.Controls, classifyControl(c, dict))
	}
	return inv, nil
}
