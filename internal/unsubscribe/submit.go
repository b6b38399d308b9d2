package unsubscribe

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/dom"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/keywords"
)

const (
	typedSubmitCSS = `button[type="submit"], input[type="submit"]`
	buttonCSS      = `button, input[type="submit"], input[type="button"], [role="button"]`
)

// directLinkLocators are tried in order on pages where nothing was mutated.
// When textual is false any visible match is accepted.
var directLinkLocators = []struct {
	css     string
	textual bool
}{
	{`button, [role="button"]`, true},
	{`a`, true},
	{`[href*="unsubscribe"]`, false},
	{`input[type="submit"], input[type="button"]`, true},
}

var errNoCandidate = errors.New("no matching visible element")

// submit commits the change: through the form after a mutation, otherwise
// through an unsubscribe link or button anywhere on the page. When only
// auxiliary fields were filled the link goes first, since the form may be
// an unrelated sign-up form.
func (r *run) submit(ctx context.Context) {
	if r.tracker.Status() != StatusFormInteracted {
		r.directLink(ctx)
		return
	}
	if !r.decisive && r.directLink(ctx) {
		return
	}
	r.commit(ctx)
}

func (r *run) commit(ctx context.Context) {
	var tag string
	mark := r.page.Navigations()

	res := runTiers(ctx, []tier{
		{name: "typed_submit", run: func(ctx context.Context) error {
			label, err := r.clickMatching(ctx, typedSubmitCSS, true)
			tag = "submit_button_clicked: " + label
			return err
		}},
		{name: "text_match", run: func(ctx context.Context) error {
			label, err := r.clickMatching(ctx, buttonCSS, false)
			tag = "submit_button_clicked_via_text: " + keywords.Normalize(label)
			return err
		}},
		{name: "direct_link", run: func(ctx context.Context) error {
			el, ok := r.findDirectLink(ctx)
			if !ok {
				return errNoCandidate
			}
			tag = "button_clicked"
			return r.click(ctx, el.Ref)
		}},
		{name: "native_submit", run: func(ctx context.Context) error {
			if r.inv.Forms == 0 || !r.decisive {
				return errNoCandidate
			}
			form := r.commitForm
			if form < 0 {
				form = 0
			}
			tag = "form_auto_submitted"
			cctx, cancel := context.WithTimeout(ctx, r.cfg.ControlTimeout)
			defer cancel()
			return r.page.SubmitForm(cctx, form)
		}},
	})
	if !res.Succeeded() {
		r.log.Warn("no way to commit the form", zap.Error(res.Err))
		r.actions.Add("submit_error: " + res.Err.Error())
		return
	}
	r.log.Debug("form committed", zap.String("tier", res.Tier))
	r.actions.Add(tag)
	r.tracker.Advance(StatusSubmitted)
	r.awaitNavigation(ctx, mark, StatusSubmitted)
}

// clickMatching clicks the first visible element under css whose text
// matches a submit keyword. With byKeyword the keyword order decides
// between candidates, otherwise document order does.
func (r *run) clickMatching(ctx context.Context, css string, byKeyword bool) (string, error) {
	elems, err := r.visible(ctx, css)
	if err != nil {
		return "", err
	}

	var ordered []dom.Element
	if byKeyword {
		for _, k := range r.dict.Submit {
			for _, e := range elems {
				if strings.Contains(keywords.Normalize(e.Text), k) {
					ordered = append(ordered, e)
				}
			}
		}
	} else {
		for _, e := range elems {
			if _, ok := keywords.Match(e.Text, r.dict.Submit); ok {
				ordered = append(ordered, e)
			}
		}
	}

	lastErr := errNoCandidate
	for _, e := range ordered {
		if err := r.click(ctx, e.Ref); err != nil {
			lastErr = err
			continue
		}
		return strings.TrimSpace(e.Text), nil
	}
	return "", lastErr
}

func (r *run) visible(ctx context.Context, css string) ([]dom.Element, error) {
	elems, err := r.page.Find(ctx, css)
	if err != nil {
		return nil, err
	}
	out := elems[:0]
	for _, e := range elems {
		if e.Visible {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *run) click(ctx context.Context, ref string) error {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.ControlTimeout)
	defer cancel()
	return r.page.Click(cctx, ref)
}

// directLink polls for an unsubscribe link or button for up to
// SelectorWait and clicks the first one found. It reports whether a click
// happened.
func (r *run) directLink(ctx context.Context) bool {
	wctx, cancel := context.WithTimeout(ctx, r.cfg.SelectorWait)
	defer cancel()

	var target dom.Element
	for {
		if el, ok := r.findDirectLink(wctx); ok {
			target = el
			break
		}
		if !sleep(wctx, r.cfg.PollInterval) {
			r.log.Debug("no unsubscribe link or button on page")
			return false
		}
	}

	mark := r.page.Navigations()
	if err := r.click(ctx, target.Ref); err != nil {
		r.log.Warn("failed to click unsubscribe element", zap.String("text", target.Text), zap.Error(err))
		return false
	}
	r.actions.Add("button_clicked")
	r.tracker.Advance(StatusSubmitted)
	r.awaitNavigation(ctx, mark, StatusFormSubmitted)
	return true
}

func (r *run) findDirectLink(ctx context.Context) (dom.Element, bool) {
	for _, loc := range directLinkLocators {
		elems, err := r.visible(ctx, loc.css)
		if err != nil {
			return dom.Element{}, false
		}
		for _, e := range elems {
			if !loc.textual {
				return e, true
			}
			if _, ok := keywords.Match(e.Text, r.dict.DirectLink); ok {
				return e, true
			}
		}
	}
	return dom.Element{}, false
}

// awaitNavigation waits a bounded time for a navigation after mark.
// Without one the run settles on fallback.
func (r *run) awaitNavigation(ctx context.Context, mark int, fallback Status) {
	wctx, cancel := context.WithTimeout(ctx, r.cfg.NavigationWait)
	defer cancel()
	if r.page.WaitForNavigation(wctx, mark) {
		r.tracker.Advance(StatusNavigated)
		r.actions.Add("navigation_detected")
		return
	}
	r.tracker.Advance(fallback)
}
