package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/dom"
)

// helpersJS is prepended to scripts that hand out refs or test visibility.
// Refs live in a data attribute so chromedp can address them by selector.
const helpersJS = `
	function ref(el) {
		if (!el.dataset.unsubRef) {
			window.__unsubSeq = (window.__unsubSeq || 0) + 1;
			el.dataset.unsubRef = 'c' + window.__unsubSeq;
		}
		return el.dataset.unsubRef;
	}
	function visible(el) {
		var st = window.getComputedStyle(el);
		if (st.visibility === 'hidden' || st.display === 'none') return false;
		return !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
	}
	function text(el) {
		return el ? (el.textContent || '').trim() : '';
	}
`

const infoJS = `(function() {
	var h = document.querySelector('h1, h2, h3, h4');
	return {
		title: document.title || '',
		heading: h ? h.textContent.trim() : '',
		forms: document.forms.length
	};
})()`

const controlsJS = `(function() {` + helpersJS + `
	function kindOf(el) {
		var tag = el.tagName.toLowerCase();
		if (tag === 'textarea') return 'textarea';
		if (tag === 'select') return 'select';
		var t = (el.getAttribute('type') || 'text').toLowerCase();
		if (t === 'checkbox' || t === 'radio') return t;
		if (t === 'text' || t === 'email') return 'text';
		return '';
	}
	function sibling(el) {
		for (var n = el.nextElementSibling; n; n = n.nextElementSibling) {
			if (n.tagName === 'LABEL') return text(n);
		}
		return '';
	}

	var out = [];
	for (var f = 0; f < document.forms.length; f++) {
		var els = document.forms[f].querySelectorAll('input, textarea, select');
		for (var i = 0; i < els.length; i++) {
			var el = els[i];
			var kind = kindOf(el);
			if (!kind) continue;
			var forLabel = el.id ? document.querySelector('label[for="' + CSS.escape(el.id) + '"]') : null;
			var c = {
				ref: ref(el),
				kind: kind,
				form: f,
				name: el.name || '',
				id: el.id || '',
				value: el.value || '',
				placeholder: el.getAttribute('placeholder') || '',
				inputType: el.tagName === 'INPUT' ? (el.getAttribute('type') || 'text').toLowerCase() : '',
				checked: !!el.checked,
				disabled: !!el.disabled,
				visible: visible(el),
				labels: {
					wrapping: text(el.closest('label')),
					'for': text(forLabel),
					aria: el.getAttribute('aria-label') || '',
					title: el.getAttribute('title') || '',
					sibling: sibling(el)
				}
			};
			if (kind === 'select') {
				c.options = [];
				for (var o = 0; o < el.options.length; o++) {
					c.options.push({value: el.options[o].value, text: el.options[o].text.trim()});
				}
			}
			out.push(c);
		}
	}
	return out;
})()`

const findJS = `function(css) {` + helpersJS + `
	var forms = Array.prototype.slice.call(document.forms);
	var els = document.querySelectorAll(css);
	var out = [];
	for (var i = 0; i < els.length; i++) {
		var el = els[i];
		var tag = el.tagName.toLowerCase();
		out.push({
			ref: ref(el),
			tag: tag,
			type: (el.getAttribute('type') || '').toLowerCase(),
			text: tag === 'input' ? (el.value || '') : text(el),
			href: el.getAttribute('href') || '',
			visible: visible(el),
			form: forms.indexOf(el.closest('form'))
		});
	}
	return out;
}`

const checkedJS = `function(sel) {
	var el = document.querySelector(sel);
	return el ? {status: 'ok', checked: !!el.checked} : {status: 'missing'};
}`

const clickableJS = `function(sel) {` + helpersJS + `
	var el = document.querySelector(sel);
	if (!el) return {status: 'missing'};
	el.scrollIntoView({block: 'center'});
	return {status: visible(el) ? 'ok' : 'hidden'};
}`

const labelJS = `function(sel) {` + helpersJS + `
	var el = document.querySelector(sel);
	if (!el) return {status: 'missing'};
	if (!el.id) return {status: 'noid'};
	var label = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
	if (!label) return {status: 'nolabel'};
	if (!visible(label)) return {status: 'hidden'};
	return {status: 'ok', ref: ref(label)};
}`

const setCheckedJS = `function(sel, checked) {
	var el = document.querySelector(sel);
	if (!el) return {status: 'missing'};
	el.checked = checked;
	el.dispatchEvent(new Event('change', {bubbles: true}));
	el.dispatchEvent(new Event('click', {bubbles: true}));
	return {status: 'ok'};
}`

const editableJS = `function(sel) {` + helpersJS + `
	var el = document.querySelector(sel);
	if (!el) return {status: 'missing'};
	if (el.disabled || el.readOnly) return {status: 'readonly'};
	return {status: 'ok', visible: visible(el)};
}`

const setValueJS = `function(sel, value) {
	var el = document.querySelector(sel);
	if (!el) return {status: 'missing'};
	el.value = value;
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return {status: 'ok'};
}`

const selectJS = `function(sel, value) {
	var el = document.querySelector(sel);
	if (!el) return {status: 'missing'};
	for (var i = 0; i < el.options.length; i++) {
		if (el.options[i].value === value) {
			el.value = value;
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('change', {bubbles: true}));
			return {status: 'ok'};
		}
	}
	return {status: 'nooption'};
}`

const submitFormJS = `function(i) {
	var f = document.forms[i];
	if (!f) return {status: 'missing'};
	HTMLFormElement.prototype.submit.call(f);
	return {status: 'ok'};
}`

// keyboardTimeout bounds typing into a field before Fill falls back to
// setting its value from script.
const keyboardTimeout = 2 * time.Second

// answer is the common shape of script results.
type answer struct {
	Status  string `json:"status"`
	Checked bool   `json:"checked"`
	Visible bool   `json:"visible"`
	Ref     string `json:"ref"`
}

func (a answer) err(what string) error {
	switch a.Status {
	case "ok":
		return nil
	case "missing":
		return fmt.Errorf("%w: %s", dom.ErrNotFound, what)
	case "hidden":
		return fmt.Errorf("%w: %s has no box", dom.ErrNotInteractable, what)
	case "readonly":
		return fmt.Errorf("%w: %s is not editable", dom.ErrNotInteractable, what)
	case "noid":
		return fmt.Errorf("%w: %s has no id", dom.ErrNoLabel, what)
	case "nolabel":
		return fmt.Errorf("%w: %s", dom.ErrNoLabel, what)
	case "nooption":
		return fmt.Errorf("%w: option for %s", dom.ErrNotFound, what)
	}
	return fmt.Errorf("unexpected page answer %q for %s", a.Status, what)
}

// call renders fn applied to args, each encoded as a JS literal.
func call(fn string, args ...any) string {
	lits := make([]string, len(args))
	for i, a := range args {
		b, _ := json.Marshal(a)
		lits[i] = string(b)
	}
	return "(" + fn + ")(" + strings.Join(lits, ", ") + ")"
}

func selector(ref string) string {
	return fmt.Sprintf(`[data-unsub-ref=%q]`, ref)
}

func (s *Session) eval(ctx context.Context, js string, out any) error {
	return s.run(ctx, chromedp.Evaluate(js, out))
}

func (s *Session) ask(ctx context.Context, what, fn string, args ...any) (answer, error) {
	var a answer
	if err := s.eval(ctx, call(fn, args...), &a); err != nil {
		return a, err
	}
	return a, a.err(what)
}

func (s *Session) Info(ctx context.Context) (dom.Info, error) {
	var info dom.Info
	err := s.eval(ctx, infoJS, &info)
	return info, err
}

func (s *Session) Controls(ctx context.Context) ([]dom.Control, error) {
	var controls []dom.Control
	if err := s.eval(ctx, controlsJS, &controls); err != nil {
		return nil, fmt.Errorf("failed to read controls: %w", err)
	}
	return controls, nil
}

func (s *Session) Find(ctx context.Context, css string) ([]dom.Element, error) {
	var elems []dom.Element
	if err := s.eval(ctx, call(findJS, css), &elems); err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", css, err)
	}
	return elems, nil
}

func (s *Session) Checked(ctx context.Context, ref string) (bool, error) {
	a, err := s.ask(ctx, ref, checkedJS, selector(ref))
	return a.Checked, err
}

// Click scrolls the element into view and sends a real mouse click at its
// center. Visibility is checked up front so a hidden element fails fast
// instead of waiting out ctx.
func (s *Session) Click(ctx context.Context, ref string) error {
	sel := selector(ref)
	if _, err := s.ask(ctx, ref, clickableJS, sel); err != nil {
		return err
	}
	return s.run(ctx, chromedp.Click(sel, chromedp.ByQuery))
}

func (s *Session) ClickLabel(ctx context.Context, ref string) error {
	a, err := s.ask(ctx, "label of "+ref, labelJS, selector(ref))
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.Click(selector(a.Ref), chromedp.ByQuery))
}

func (s *Session) SetChecked(ctx context.Context, ref string, checked bool) error {
	_, err := s.ask(ctx, ref, setCheckedJS, selector(ref), checked)
	return err
}

// Fill types value into the field like a user would, falling back to
// setting the property when the field has no box or typing stalls.
// SendKeys waits for the node to be visible, so boxless fields skip it.
func (s *Session) Fill(ctx context.Context, ref, value string) error {
	sel := selector(ref)
	a, err := s.ask(ctx, ref, editableJS, sel)
	if err != nil {
		return err
	}
	if a.Visible {
		kctx, cancel := context.WithTimeout(ctx, keyboardTimeout)
		err = s.run(kctx,
			chromedp.Clear(sel, chromedp.ByQuery),
			chromedp.SendKeys(sel, value, chromedp.ByQuery),
		)
		cancel()
		if err == nil || ctx.Err() != nil {
			return err
		}
	}
	_, err = s.ask(ctx, ref, setValueJS, sel, value)
	return err
}

func (s *Session) Select(ctx context.Context, ref, value string) error {
	_, err := s.ask(ctx, ref, selectJS, selector(ref), value)
	return err
}

func (s *Session) SubmitForm(ctx context.Context, form int) error {
	_, err := s.ask(ctx, fmt.Sprintf("form %d", form), submitFormJS, form)
	return err
}
