package browser

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/dom"
)

func TestCallEncodesArguments(t *testing.T) {
	got := call(`function(a, b) {}`, `[data-x="1"]`, true)
	assert.Equal(t, `(function(a, b) {})("[data-x=\"1\"]", true)`, got)
	assert.Equal(t, `(f)(3)`, call("f", 3))
}

func TestSelector(t *testing.T) {
	assert.Equal(t, `[data-unsub-ref="c12"]`, selector("c12"))
}

func TestAnswerErrors(t *testing.T) {
	tests := []struct {
		status string
		want   error
	}{
		{"ok", nil},
		{"missing", dom.ErrNotFound},
		{"hidden", dom.ErrNotInteractable},
		{"readonly", dom.ErrNotInteractable},
		{"noid", dom.ErrNoLabel},
		{"nolabel", dom.ErrNoLabel},
		{"nooption", dom.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			err := answer{Status: tt.status}.err("c1")
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	var a answer
	require.NoError(t, json.Unmarshal([]byte(`{"status":"ok","visible":false}`), &a))
	assert.NoError(t, a.err("c1"))
	assert.False(t, a.Visible, "editable fields report whether they have a box")

	err := answer{Status: "weird"}.err("c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weird")
}

func TestAllocatorOptions(t *testing.T) {
	cfg := DefaultConfig()
	base := len(cfg.allocatorOptions())

	cfg.ExecPath = "/usr/bin/chromium"
	cfg.NoSandbox = true
	assert.Equal(t, base+2, len(cfg.allocatorOptions()))

	cfg.Headless = false
	assert.Equal(t, base+1, len(cfg.allocatorOptions()))
}

func TestProbesCoverEveryBlockingType(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range captchaProbes {
		assert.False(t, seen[p.typ], "duplicate probe %s", p.typ)
		seen[p.typ] = true
		assert.NotEmpty(t, p.js)
	}
	for _, typ := range []string{dom.CaptchaRecaptchaV2, dom.CaptchaHCaptcha, dom.CaptchaTurnstile, dom.CaptchaCloudflare} {
		assert.True(t, seen[typ], typ)
	}
}

func chromePath(t *testing.T) string {
	t.Helper()
	if os.Getenv("UNSUB_BROWSER_TESTS") == "" {
		t.Skip("set UNSUB_BROWSER_TESTS=1 to run against a local Chrome")
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary on PATH")
	return ""
}

func TestSessionAgainstChrome(t *testing.T) {
	path := chromePath(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/done" {
			_, _ = w.Write([]byte(`<html><body>done</body></html>`))
			return
		}
		_, _ = w.Write([]byte(`<html><head><title>Preferences</title></head><body>
<form action="/done">
  <input type="checkbox" id="news" checked><label for="news">Newsletter</label>
  <input type="checkbox" id="ghost" checked style="display:none"><label for="ghost">Ghost</label>
  <input type="email" name="email">
  <textarea name="reason" style="display:none"></textarea>
  <button type="submit">Save</button>
</form></body></html>`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.ExecPath = path
	cfg.NoSandbox = true

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	page, err := NewLauncher(cfg).Launch(ctx)
	require.NoError(t, err)
	defer page.Close()

	require.NoError(t, page.Navigate(ctx, srv.URL))
	info, err := page.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Preferences", info.Title)
	assert.Equal(t, 1, info.Forms)

	controls, err := page.Controls(ctx)
	require.NoError(t, err)
	require.Len(t, controls, 4)
	assert.Equal(t, "Newsletter", controls[0].Labels.For)
	assert.False(t, controls[1].Visible)

	require.NoError(t, page.Click(ctx, controls[0].Ref))
	checked, err := page.Checked(ctx, controls[0].Ref)
	require.NoError(t, err)
	assert.False(t, checked)

	assert.True(t, errors.Is(page.Click(ctx, controls[1].Ref), dom.ErrNotInteractable))
	require.NoError(t, page.SetChecked(ctx, controls[1].Ref, false))
	require.NoError(t, page.Fill(ctx, controls[2].Ref, "jane@example.com"))

	// A field without a box is filled from script right away instead of
	// waiting out the control timeout for it to become visible.
	assert.False(t, controls[3].Visible)
	start := time.Now()
	require.NoError(t, page.Fill(ctx, controls[3].Ref, "too many emails"))
	assert.Less(t, time.Since(start), keyboardTimeout)
	var reason string
	require.NoError(t, page.(*Session).eval(ctx, `document.querySelector('[name="reason"]').value`, &reason))
	assert.Equal(t, "too many emails", reason)

	mark := page.Navigations()
	require.NoError(t, page.SubmitForm(ctx, 0))
	wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
	defer wcancel()
	assert.True(t, page.WaitForNavigation(wctx, mark))

	shot, err := page.Screenshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, shot)

	require.NoError(t, page.Close())
	assert.ErrorIs(t, page.Navigate(ctx, srv.URL), dom.ErrClosed)
}
