package dom

import "strings"

// CaptchaInfo describes a challenge found on the page.
type CaptchaInfo struct {
	Found       bool    `json:"found"`
	Type        string  `json:"type,omitempty"`
	FrameSrc    string  `json:"frame_src,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Description string  `json:"description,omitempty"`
}

const (
	CaptchaRecaptchaV2 = "recaptcha_v2"
	CaptchaRecaptchaV3 = "recaptcha_v3"
	CaptchaHCaptcha    = "hcaptcha"
	CaptchaTurnstile   = "cloudflare_turnstile"
	CaptchaFunCaptcha  = "funcaptcha"
	CaptchaCloudflare  = "cloudflare_challenge"
	CaptchaUnknown     = "unknown"
)

// Blocking reports whether the challenge needs a human. Invisible
// reCAPTCHA v3 scores in the background and does not block.
func (c CaptchaInfo) Blocking() bool {
	return c.Found && c.Type != CaptchaRecaptchaV3
}

type htmlMarker struct {
	typ     string
	needles []string
	conf    float64
}

// Order matters: vendor widgets first, generic wording last.
var htmlMarkers = []htmlMarker{
	{CaptchaCloudflare, []string{"cf-chl-", "challenge-platform", "checking your browser"}, 0.9},
	{CaptchaTurnstile, []string{"cf-turnstile", "challenges.cloudflare.com/turnstile"}, 0.85},
	{CaptchaHCaptcha, []string{"h-captcha", "hcaptcha.com"}, 0.85},
	{CaptchaRecaptchaV2, []string{"g-recaptcha", "recaptcha/api"}, 0.85},
	{CaptchaFunCaptcha, []string{"funcaptcha", "arkoselabs"}, 0.8},
	{CaptchaUnknown, []string{"captcha", "prove you are human", "verify you are human"}, 0.6},
}

// DetectCaptchaInHTML scans serialized markup for challenge widgets.
func DetectCaptchaInHTML(html string) CaptchaInfo {
	lower := strings.ToLower(html)
	for _, m := range htmlMarkers {
		for _, needle := range m.needles {
			if strings.Contains(lower, needle) {
				return CaptchaInfo{
					Found:       true,
					Type:        m.typ,
					Confidence:  m.conf,
					Description: "matched " + needle,
				}
			}
		}
	}
	return CaptchaInfo{}
}
