package browser

import (
	"context"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/dom"
)

// captchaProbe checks the live DOM for one kind of challenge. Its script
// returns {found, src}.
type captchaProbe struct {
	typ        string
	confidence float64
	desc       string
	js         string
}

// Checked in order; the first hit wins.
var captchaProbes = []captchaProbe{
	{
		typ:        dom.CaptchaRecaptchaV2,
		confidence: 0.95,
		desc:       "Google reCAPTCHA v2 detected",
		js: `(function() {
			var iframe = document.querySelector('iframe[src*="recaptcha/api2/anchor"], iframe[src*="recaptcha/enterprise/anchor"]');
			if (iframe) return {found: true, src: iframe.src};
			var div = document.querySelector('.g-recaptcha');
			if (div) return {found: true, src: ''};
			return {found: false};
		})()`,
	},
	{
		typ:        dom.CaptchaRecaptchaV3,
		confidence: 0.85,
		desc:       "Google reCAPTCHA v3 (invisible) detected",
		js: `(function() {
			var scripts = document.querySelectorAll('script[src*="recaptcha"]');
			for (var i = 0; i < scripts.length; i++) {
				if (scripts[i].src.indexOf('render=') !== -1 && scripts[i].src.indexOf('render=explicit') === -1) {
					return {found: true, src: scripts[i].src};
				}
			}
			return {found: false};
		})()`,
	},
	{
		typ:        dom.CaptchaHCaptcha,
		confidence: 0.95,
		desc:       "hCaptcha detected",
		js: `(function() {
			var iframe = document.querySelector('iframe[src*="hcaptcha"]');
			if (iframe) return {found: true, src: iframe.src};
			if (document.querySelector('.h-captcha, [data-hcaptcha-sitekey]')) return {found: true, src: ''};
			return {found: false};
		})()`,
	},
	{
		typ:        dom.CaptchaTurnstile,
		confidence: 0.95,
		desc:       "Cloudflare Turnstile detected",
		js: `(function() {
			var iframe = document.querySelector('iframe[src*="challenges.cloudflare.com"]');
			if (iframe) return {found: true, src: iframe.src};
			if (document.querySelector('.cf-turnstile, [data-turnstile-sitekey]')) return {found: true, src: ''};
			return {found: false};
		})()`,
	},
	{
		typ:        dom.CaptchaFunCaptcha,
		confidence: 0.9,
		desc:       "Arkose Labs FunCaptcha detected",
		js: `(function() {
			var iframe = document.querySelector('iframe[src*="funcaptcha"], iframe[src*="arkoselabs"]');
			if (iframe) return {found: true, src: iframe.src};
			return {found: !!document.querySelector('#FunCaptcha'), src: ''};
		})()`,
	},
	{
		typ:        dom.CaptchaCloudflare,
		confidence: 0.9,
		desc:       "Cloudflare challenge page detected",
		js: `(function() {
			var title = (document.title || '').toLowerCase();
			if (title.indexOf('just a moment') !== -1 || title.indexOf('checking your browser') !== -1) {
				return {found: true, src: ''};
			}
			return {found: !!document.querySelector('form#challenge-form, #cf-challenge-running'), src: ''};
		})()`,
	},
	{
		typ:        dom.CaptchaUnknown,
		confidence: 0.75,
		desc:       "image or text CAPTCHA detected",
		js: `(function() {
			var img = document.querySelector('img[src*="captcha" i], img[alt*="captcha" i]');
			var input = document.querySelector('input[name*="captcha" i], input[id*="captcha" i]');
			return {found: !!(img || input), src: img ? img.src : ''};
		})()`,
	},
}

type probeResult struct {
	Found bool   `json:"found"`
	Src   string `json:"src"`
}

// Captcha runs the probes against the live page. A probe that fails to
// evaluate is skipped unless ctx is done.
func (s *Session) Captcha(ctx context.Context) (dom.CaptchaInfo, error) {
	for _, p := range captchaProbes {
		var res probeResult
		if err := s.eval(ctx, p.js, &res); err != nil {
			if ctx.Err() != nil || s.Closed() {
				return dom.CaptchaInfo{}, err
			}
			continue
		}
		if res.Found {
			return dom.CaptchaInfo{
				Found:       true,
				Type:        p.typ,
				FrameSrc:    res.Src,
				Confidence:  p.confidence,
				Description: p.desc,
			}, nil
		}
	}
	return dom.CaptchaInfo{}, nil
}
