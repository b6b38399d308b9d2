package dom

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNavCounterWait(t *testing.T) {
	var c NavCounter
	mark := c.Count()

	done := make(chan bool, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- c.Wait(ctx, mark)
	}()

	c.Bump()
	require.True(t, <-done)
	assert.Equal(t, 1, c.Count())
}

func TestNavCounterWaitTimesOut(t *testing.T) {
	var c NavCounter
	c.Bump()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, c.Wait(ctx, c.Count()))
	// A navigation before the mark is already satisfied.
	assert.True(t, c.Wait(context.Background(), 0))
}

func TestDetectCaptchaInHTML(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		wantType string
		blocking bool
	}{
		{"recaptcha widget", `<div class="g-recaptcha" data-sitekey="x"></div>`, CaptchaRecaptchaV2, true},
		{"hcaptcha widget", `<div class="h-captcha"></div>`, CaptchaHCaptcha, true},
		{"turnstile", `<div class="cf-turnstile"></div>`, CaptchaTurnstile, true},
		{"cloudflare interstitial", `<title>Just a moment</title><p>Checking your browser</p>`, CaptchaCloudflare, true},
		{"generic wording", `<label>Enter the CAPTCHA below</label>`, CaptchaUnknown, true},
		{"clean page", `<form><button>Unsubscribe</button></form>`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := DetectCaptchaInHTML(tt.html)
			assert.Equal(t, tt.wantType, info.Type)
			assert.Equal(t, tt.blocking, info.Blocking())
		})
	}
}

func TestCaptchaV3IsNotBlocking(t *testing.T) {
	assert.False(t, CaptchaInfo{Found: true, Type: CaptchaRecaptchaV3}.Blocking())
}

func TestLabelSourcesOrder(t *testing.T) {
	l := LabelSources{Wrapping: "a", For: "b", Aria: "c", Title: "d", Sibling: "e"}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, l.Ordered())
}
