package unsubscribe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/dom"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/keywords"
)

// execute applies the selected strategy, then fills the auxiliary fields
// whatever the strategy was.
func (r *run) execute(ctx context.Context) {
	switch r.decision.Strategy {
	case UncheckAllPreferences:
		r.uncheckAll(ctx)
	case ActivateSingleUnsubscribeControl:
		r.activate(ctx)
	}
	r.fillFields(ctx)
}

func (r *run) uncheckAll(ctx context.Context) {
	unchecked := 0
	for _, c := range r.inv.ByKind(dom.KindCheckbox) {
		if !c.Checked {
			continue
		}
		res := runTiers(ctx, r.uncheckTiers(c))
		if !res.Succeeded() {
			r.log.Warn("checkbox resisted every tier", zap.String("label", c.Label), zap.Error(res.Err))
			r.actions.Add("uncheck_failed: " + displayLabel(c))
			continue
		}
		r.log.Debug("checkbox unchecked", zap.String("label", c.Label), zap.String("tier", res.Tier))
		unchecked++
		r.markMutated(c)
	}
	if unchecked > 0 {
		r.actions.Add(fmt.Sprintf("unchecked_%d_preferences", unchecked))
	}
}

// uncheckTiers escalates from a real click, to a click on the label, to
// writing the property from script.
func (r *run) uncheckTiers(c FormControl) []tier {
	return []tier{
		{name: "force_click", run: func(ctx context.Context) error {
			return r.toggle(ctx, c.Ref, false, 0, r.page.Click)
		}},
		{name: "label_click", run: func(ctx context.Context) error {
			return r.toggle(ctx, c.Ref, false, r.cfg.LabelVerifyWait, r.page.ClickLabel)
		}},
		{name: "script", run: func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, r.cfg.ControlTimeout)
			defer cancel()
			if err := r.page.SetChecked(cctx, c.Ref, false); err != nil {
				return err
			}
			return r.verify(cctx, c.Ref, false)
		}},
	}
}

// toggle clicks via click when the checked state differs from want, waits
// settle, then confirms the state.
func (r *run) toggle(ctx context.Context, ref string, want bool, settle time.Duration, click func(context.Context, string) error) error {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.ControlTimeout)
	defer cancel()

	got, err := r.page.Checked(cctx, ref)
	if err != nil {
		return err
	}
	if got == want {
		return nil
	}
	if err := click(cctx, ref); err != nil {
		return err
	}
	sleep(cctx, settle)
	return r.verify(cctx, ref, want)
}

func (r *run) verify(ctx context.Context, ref string, want bool) error {
	got, err := r.page.Checked(ctx, ref)
	if err != nil {
		return err
	}
	if got != want {
		return dom.ErrStateUnchanged
	}
	return nil
}

// activate checks the unsubscribe checkboxes and selects the first
// unsubscribe radio option. There is one target, so no fallback.
func (r *run) activate(ctx context.Context) {
	for _, c := range r.inv.ByKind(dom.KindCheckbox) {
		if c.Class != ClassUnsubscribe || c.Checked {
			continue
		}
		if err := r.toggle(ctx, c.Ref, true, 0, r.page.Click); err != nil {
			r.log.Warn("failed to check unsubscribe checkbox", zap.String("label", c.Label), zap.Error(err))
			r.actions.Add("form_error: " + err.Error())
			continue
		}
		r.actions.Add("checkbox_checked")
		r.markMutated(c)
	}

	for _, c := range r.inv.ByKind(dom.KindRadio) {
		if c.Class != ClassUnsubscribe {
			continue
		}
		if err := r.toggle(ctx, c.Ref, true, 0, r.page.Click); err != nil {
			r.log.Warn("failed to select unsubscribe option", zap.String("label", c.Label), zap.Error(err))
			r.actions.Add("form_error: " + err.Error())
			break
		}
		r.actions.Add("radio_selected")
		r.markMutated(c)
		break
	}
}

// fillFields fills empty email, reason and reason-select fields so that
// required-field validation does not block the submit.
func (r *run) fillFields(ctx context.Context) {
	email := r.req.subscriberEmail()
	for _, c := range r.inv.Controls {
		var (
			tag   string
			apply func(context.Context) error
		)
		switch c.Kind {
		case dom.KindText:
			if c.Value != "" || email == "" || !r.isEmailField(c) {
				continue
			}
			tag, apply = "email_filled", func(ctx context.Context) error { return r.page.Fill(ctx, c.Ref, email) }
		case dom.KindTextarea:
			if c.Value != "" || !matchesAny(r.dict.ReasonFields, c.Name, c.Placeholder) {
				continue
			}
			tag, apply = "textarea_filled", func(ctx context.Context) error { return r.page.Fill(ctx, c.Ref, r.cfg.FillerPhrase) }
		case dom.KindSelect:
			if !matchesAny(r.dict.SelectFields, c.Name) {
				continue
			}
			opt, ok := r.unsubscribeOption(c)
			if !ok || opt.Value == c.Value {
				continue
			}
			tag, apply = "select_changed", func(ctx context.Context) error { return r.page.Select(ctx, c.Ref, opt.Value) }
		default:
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, r.cfg.ControlTimeout)
		err := apply(cctx)
		cancel()
		if err != nil {
			r.log.Warn("failed to fill field", zap.String("field", c.Name), zap.Error(err))
			r.actions.Add("form_error: " + err.Error())
			continue
		}
		r.actions.Add(tag)
		r.markMutated(c)
	}
}

func (r *run) isEmailField(c FormControl) bool {
	return c.InputType == "email" || matchesAny(r.dict.EmailFields, c.Name, c.ID, c.Placeholder)
}

func (r *run) unsubscribeOption(c FormControl) (dom.Option, bool) {
	for _, o := range c.Options {
		if r.dict.IsUnsubscribe(o.Text) || r.dict.IsUnsubscribe(o.Value) {
			return o, true
		}
	}
	return dom.Option{}, false
}

func matchesAny(set []string, texts ...string) bool {
	for _, t := range texts {
		if _, ok := keywords.Match(t, set); ok {
			return true
		}
	}
	return false
}

func displayLabel(c FormControl) string {
	switch {
	case c.Label != "":
		return c.Label
	case c.Name != "":
		return c.Name
	case c.ID != "":
		return c.ID
	}
	return c.Ref
}
