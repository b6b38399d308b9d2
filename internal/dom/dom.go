// Package dom describes the page capability the unsubscribe pipeline drives.
//
// A Page is one isolated browser page. Elements are addressed by opaque refs
// handed out by Controls and Find; refs stay valid until the page navigates.
package dom

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("element not found")
	ErrNotInteractable = errors.New("element not interactable")
	ErrStateUnchanged  = errors.New("element state did not change")
	ErrNoLabel         = errors.New("no associated label")
	ErrClosed          = errors.New("page closed")
)

// Kind is the tagged variant of a surveyed form control.
type Kind string

const (
	KindCheckbox Kind = "checkbox"
	KindRadio    Kind = "radio"
	KindText     Kind = "text"
	KindTextarea Kind = "textarea"
	KindSelect   Kind = "select"
)

// LabelSources holds the raw text of every place a label can come from,
// in the order they should be consulted.
type LabelSources struct {
	Wrapping string `json:"wrapping"`
	For      string `json:"for"`
	Aria     string `json:"aria"`
	Title    string `json:"title"`
	Sibling  string `json:"sibling"`
}

// Ordered returns the sources in lookup order.
func (l LabelSources) Ordered() []string {
	return []string{l.Wrapping, l.For, l.Aria, l.Title, l.Sibling}
}

type Option struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// Control is a form control as read from the DOM at survey time.
type Control struct {
	Ref         string       `json:"ref"`
	Kind        Kind         `json:"kind"`
	Form        int          `json:"form"`
	Name        string       `json:"name"`
	ID          string       `json:"id"`
	Value       string       `json:"value"`
	Placeholder string       `json:"placeholder"`
	InputType   string       `json:"inputType"`
	Checked     bool         `json:"checked"`
	Disabled    bool         `json:"disabled"`
	Visible     bool         `json:"visible"`
	Labels      LabelSources `json:"labels"`
	Options     []Option     `json:"options,omitempty"`
}

// Element is a clickable candidate returned by Find. Text is the trimmed text
// content, or the value attribute for inputs. Form is -1 outside any form.
type Element struct {
	Ref     string `json:"ref"`
	Tag     string `json:"tag"`
	Type    string `json:"type"`
	Text    string `json:"text"`
	Href    string `json:"href"`
	Visible bool   `json:"visible"`
	Form    int    `json:"form"`
}

// Info carries page-level signals.
type Info struct {
	Title   string `json:"title"`
	Heading string `json:"heading"`
	Forms   int    `json:"forms"`
}

// Page is the browser capability consumed by the pipeline. Implementations
// must make Close idempotent.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Info(ctx context.Context) (Info, error)
	// Controls lists checkbox, radio, text, textarea and select controls
	// that live inside a form.
	Controls(ctx context.Context) ([]Control, error)
	Find(ctx context.Context, css string) ([]Element, error)

	Checked(ctx context.Context, ref string) (bool, error)
	// Click performs a real pointer click on the element, skipping
	// actionability waits.
	Click(ctx context.Context, ref string) error
	// ClickLabel clicks the label whose for attribute names the control.
	ClickLabel(ctx context.Context, ref string) error
	// SetChecked writes the checked property and dispatches change and
	// click events without a pointer interaction.
	SetChecked(ctx context.Context, ref string, checked bool) error
	Fill(ctx context.Context, ref, value string) error
	Select(ctx context.Context, ref, value string) error
	// SubmitForm calls the native submit of the form at index form.
	SubmitForm(ctx context.Context, form int) error

	// Navigations counts main-frame navigations since the page was opened.
	Navigations() int
	// WaitForNavigation blocks until Navigations exceeds since or ctx ends.
	WaitForNavigation(ctx context.Context, since int) bool

	Captcha(ctx context.Context) (CaptchaInfo, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher opens one isolated page per call.
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}
