// Package htmlpage is an in-memory dom.Page over static HTML. It follows
// links and form submissions within a fixed set of documents, which makes
// it useful for dry runs over saved pages and for tests.
package htmlpage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/dom"
)

const refAttr = "data-unsub-ref"

const blankDocument = "<html><head></head><body></body></html>"

// Site maps absolute URLs to the HTML served for them.
type Site map[string]string

// Launcher hands out pages over one Site and remembers them so callers can
// check that every page got closed.
type Launcher struct {
	mu    sync.Mutex
	site  Site
	pages []*Page
}

func NewLauncher(site Site) *Launcher {
	return &Launcher{site: site}
}

func (l *Launcher) Launch(ctx context.Context) (dom.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := New(l.site)
	l.mu.Lock()
	l.pages = append(l.pages, p)
	l.mu.Unlock()
	return p, nil
}

// Pages returns every page launched so far.
func (l *Launcher) Pages() []*Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Page(nil), l.pages...)
}

// Page implements dom.Page. Disabled controls ignore clicks, and hidden
// elements have no box to click, but JS-style property writes reach both.
type Page struct {
	mu     sync.Mutex
	site   Site
	url    *url.URL
	doc    *goquery.Document
	seq    int
	nav    dom.NavCounter
	closes int
}

func New(site Site) *Page {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(blankDocument))
	return &Page{site: site, doc: doc}
}

func (p *Page) guard(ctx context.Context) error {
	if p.closes > 0 {
		return dom.ErrClosed
	}
	return ctx.Err()
}

func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return err
	}
	body, ok := p.site[rawURL]
	if !ok {
		return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	return p.load(u, body)
}

func (p *Page) load(u *url.URL, body string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to parse page: %w", err)
	}
	p.url, p.doc = u, doc
	p.nav.Bump()
	return nil
}

// follow navigates to href relative to the current document. Targets
// outside the site load a blank document, like a page we know nothing about.
func (p *Page) follow(href string) error {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return fmt.Errorf("invalid href %q: %w", href, err)
	}
	target := ref
	if p.url != nil {
		target = p.url.ResolveReference(ref)
	}
	body, ok := p.site[target.String()]
	if !ok {
		body = blankDocument
	}
	return p.load(target, body)
}

func (p *Page) Info(ctx context.Context) (dom.Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return dom.Info{}, err
	}
	return dom.Info{
		Title:   strings.TrimSpace(p.doc.Find("title").First().Text()),
		Heading: strings.TrimSpace(p.doc.Find("h1, h2, h3, h4").First().Text()),
		Forms:   p.doc.Find("form").Length(),
	}, nil
}

func (p *Page) Controls(ctx context.Context) ([]dom.Control, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return nil, err
	}

	var controls []dom.Control
	p.doc.Find("form").Each(func(fi int, form *goquery.Selection) {
		form.Find("input, textarea, select").Each(func(_ int, el *goquery.Selection) {
			kind, ok := controlKind(el)
			if !ok {
				return
			}
			c := dom.Control{
				Ref:         p.ref(el),
				Kind:        kind,
				Form:        fi,
				Name:        el.AttrOr("name", ""),
				ID:          el.AttrOr("id", ""),
				Value:       controlValue(el, kind),
				Placeholder: el.AttrOr("placeholder", ""),
				InputType:   inputType(el),
				Checked:     el.Is("[checked]"),
				Disabled:    el.Is("[disabled]"),
				Visible:     visible(el),
				Labels:      p.labels(el),
			}
			if kind == dom.KindSelect {
				el.Find("option").Each(func(_ int, o *goquery.Selection) {
					c.Options = append(c.Options, dom.Option{Value: optionValue(o), Text: strings.TrimSpace(o.Text())})
				})
			}
			controls = append(controls, c)
		})
	})
	return controls, nil
}

func (p *Page) labels(el *goquery.Selection) dom.LabelSources {
	var ls dom.LabelSources
	ls.Wrapping = strings.TrimSpace(el.Closest("label").Text())
	if id := el.AttrOr("id", ""); id != "" {
		ls.For = strings.TrimSpace(p.labelFor(id).Text())
	}
	ls.Aria = el.AttrOr("aria-label", "")
	ls.Title = el.AttrOr("title", "")
	ls.Sibling = strings.TrimSpace(el.NextAllFiltered("label").First().Text())
	return ls
}

func (p *Page) labelFor(id string) *goquery.Selection {
	return p.doc.Find("label[for]").FilterFunction(func(_ int, l *goquery.Selection) bool {
		return l.AttrOr("for", "") == id
	}).First()
}

func (p *Page) Find(ctx context.Context, css string) ([]dom.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return nil, err
	}

	forms := p.doc.Find("form")
	var out []dom.Element
	p.doc.Find(css).Each(func(_ int, el *goquery.Selection) {
		tag := goquery.NodeName(el)
		text := strings.TrimSpace(el.Text())
		if tag == "input" {
			text = el.AttrOr("value", "")
		}
		out = append(out, dom.Element{
			Ref:     p.ref(el),
			Tag:     tag,
			Type:    strings.ToLower(el.AttrOr("type", "")),
			Text:    text,
			Href:    el.AttrOr("href", ""),
			Visible: visible(el),
			Form:    forms.IndexOfSelection(el.Closest("form")),
		})
	})
	return out, nil
}

func (p *Page) Checked(ctx context.Context, ref string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return false, err
	}
	el, err := p.byRef(ref)
	if err != nil {
		return false, err
	}
	return el.Is("[checked]"), nil
}

func (p *Page) Click(ctx context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return err
	}
	el, err := p.byRef(ref)
	if err != nil {
		return err
	}
	if !visible(el) {
		return fmt.Errorf("%w: element has no box", dom.ErrNotInteractable)
	}
	return p.activate(el)
}

func (p *Page) ClickLabel(ctx context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return err
	}
	el, err := p.byRef(ref)
	if err != nil {
		return err
	}
	id := el.AttrOr("id", "")
	if id == "" {
		return fmt.Errorf("%w: control has no id", dom.ErrNoLabel)
	}
	label := p.labelFor(id)
	if label.Length() == 0 {
		return dom.ErrNoLabel
	}
	if !visible(label) {
		return fmt.Errorf("%w: label has no box", dom.ErrNotInteractable)
	}
	return p.activate(label)
}

// activate applies the default action of a click on el.
func (p *Page) activate(el *goquery.Selection) error {
	disabled := el.Is("[disabled]")
	switch goquery.NodeName(el) {
	case "label":
		target := el.Find("input, textarea, select").First()
		if id := el.AttrOr("for", ""); id != "" {
			target = p.doc.Find("input, textarea, select").FilterFunction(func(_ int, s *goquery.Selection) bool {
				return s.AttrOr("id", "") == id
			}).First()
		}
		if target.Length() == 0 {
			return nil
		}
		return p.activate(target)
	case "a":
		href, ok := el.Attr("href")
		if !ok || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return nil
		}
		return p.follow(href)
	case "button":
		t := strings.ToLower(el.AttrOr("type", "submit"))
		if disabled || t != "submit" {
			return nil
		}
		return p.submitEnclosing(el)
	case "input":
		if disabled {
			return nil
		}
		switch inputType(el) {
		case "checkbox":
			p.setChecked(el, !el.Is("[checked]"))
		case "radio":
			p.setChecked(el, true)
		case "submit", "image":
			return p.submitEnclosing(el)
		}
	}
	return nil
}

func (p *Page) setChecked(el *goquery.Selection, checked bool) {
	if !checked {
		el.RemoveAttr("checked")
		return
	}
	if inputType(el) == "radio" {
		name := el.AttrOr("name", "")
		el.Closest("form").Find("input[type=radio]").Each(func(_ int, r *goquery.Selection) {
			if r.AttrOr("name", "") == name {
				r.RemoveAttr("checked")
			}
		})
	}
	el.SetAttr("checked", "checked")
}

func (p *Page) submitEnclosing(el *goquery.Selection) error {
	form := el.Closest("form")
	if form.Length() == 0 {
		return nil
	}
	return p.submit(form)
}

func (p *Page) submit(form *goquery.Selection) error {
	return p.follow(form.AttrOr("action", ""))
}

func (p *Page) SetChecked(ctx context.Context, ref string, checked bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return err
	}
	el, err := p.byRef(ref)
	if err != nil {
		return err
	}
	p.setChecked(el, checked)
	return nil
}

func (p *Page) Fill(ctx context.Context, ref, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return err
	}
	el, err := p.byRef(ref)
	if err != nil {
		return err
	}
	if el.Is("[disabled]") || el.Is("[readonly]") {
		return fmt.Errorf("%w: field is not editable", dom.ErrNotInteractable)
	}
	if goquery.NodeName(el) == "textarea" {
		el.SetText(value)
		return nil
	}
	el.SetAttr("value", value)
	return nil
}

func (p *Page) Select(ctx context.Context, ref, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return err
	}
	el, err := p.byRef(ref)
	if err != nil {
		return err
	}
	options := el.Find("option")
	match := options.FilterFunction(func(_ int, o *goquery.Selection) bool {
		return optionValue(o) == value
	}).First()
	if match.Length() == 0 {
		return fmt.Errorf("%w: option %q", dom.ErrNotFound, value)
	}
	options.RemoveAttr("selected")
	match.SetAttr("selected", "selected")
	return nil
}

func (p *Page) SubmitForm(ctx context.Context, form int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return err
	}
	f := p.doc.Find("form").Eq(form)
	if f.Length() == 0 {
		return fmt.Errorf("%w: form %d", dom.ErrNotFound, form)
	}
	return p.submit(f)
}

func (p *Page) Navigations() int {
	return p.nav.Count()
}

func (p *Page) WaitForNavigation(ctx context.Context, since int) bool {
	return p.nav.Wait(ctx, since)
}

func (p *Page) Captcha(ctx context.Context) (dom.CaptchaInfo, error) {
	html, err := p.html(ctx)
	if err != nil {
		return dom.CaptchaInfo{}, err
	}
	return dom.DetectCaptchaInHTML(html), nil
}

// Screenshot returns the serialized document; there is nothing to render.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	html, err := p.html(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(html), nil
}

func (p *Page) html(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return "", err
	}
	return p.doc.Html()
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

// Closed reports whether Close has been called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes > 0
}

func (p *Page) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// Snapshot returns the current document, also after Close.
func (p *Page) Snapshot() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	html, _ := p.doc.Html()
	return html
}

// URL returns the address of the current document.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.url == nil {
		return ""
	}
	return p.url.String()
}

func (p *Page) ref(el *goquery.Selection) string {
	if r, ok := el.Attr(refAttr); ok {
		return r
	}
	p.seq++
	r := fmt.Sprintf("h%d", p.seq)
	el.SetAttr(refAttr, r)
	return r
}

func (p *Page) byRef(ref string) (*goquery.Selection, error) {
	el := p.doc.Find(fmt.Sprintf("[%s=%q]", refAttr, ref))
	if el.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", dom.ErrNotFound, ref)
	}
	return el.First(), nil
}

func inputType(el *goquery.Selection) string {
	t := strings.ToLower(el.AttrOr("type", ""))
	if t == "" {
		return "text"
	}
	return t
}

func controlKind(el *goquery.Selection) (dom.Kind, bool) {
	switch goquery.NodeName(el) {
	case "textarea":
		return dom.KindTextarea, true
	case "select":
		return dom.KindSelect, true
	}
	switch inputType(el) {
	case "checkbox":
		return dom.KindCheckbox, true
	case "radio":
		return dom.KindRadio, true
	case "text", "email":
		return dom.KindText, true
	}
	return "", false
}

func controlValue(el *goquery.Selection, kind dom.Kind) string {
	switch kind {
	case dom.KindTextarea:
		return el.Text()
	case dom.KindSelect:
		selected := el.Find("option[selected]").First()
		if selected.Length() == 0 {
			selected = el.Find("option").First()
		}
		return optionValue(selected)
	case dom.KindCheckbox, dom.KindRadio:
		return el.AttrOr("value", "on")
	}
	return el.AttrOr("value", "")
}

func optionValue(o *goquery.Selection) string {
	if v, ok := o.Attr("value"); ok {
		return v
	}
	return strings.TrimSpace(o.Text())
}

// visible approximates layout: hidden inputs, the hidden attribute and
// inline display:none or visibility:hidden on the element or an ancestor.
func visible(el *goquery.Selection) bool {
	if goquery.NodeName(el) == "input" && inputType(el) == "hidden" {
		return false
	}
	for n := el; n.Length() > 0; n = n.Parent() {
		if n.Is("[hidden]") {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(n.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}
