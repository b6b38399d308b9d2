// Package unsubscribe drives one page through survey, strategy selection,
// control mutation and submission, and reports what happened.
package unsubscribe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/dom"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/keywords"
)

// Config holds the bounded waits and policy of a run.
type Config struct {
	NavigationTimeout time.Duration
	SettleWait        time.Duration
	ControlTimeout    time.Duration
	LabelVerifyWait   time.Duration
	InteractionWait   time.Duration
	SelectorWait      time.Duration
	PollInterval      time.Duration
	NavigationWait    time.Duration
	Policy            Policy
	FillerPhrase      string
}

func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 60 * time.Second,
		SettleWait:        2 * time.Second,
		ControlTimeout:    5 * time.Second,
		LabelVerifyWait:   500 * time.Millisecond,
		InteractionWait:   time.Second,
		SelectorWait:      3 * time.Second,
		PollInterval:      250 * time.Millisecond,
		NavigationWait:    3 * time.Second,
		Policy:            DefaultPolicy(),
		FillerPhrase:      "No longer needed",
	}
}

// Runner executes requests, one isolated page each. It holds no per-request
// state and is safe for concurrent use.
type Runner struct {
	launcher dom.Launcher
	dict     *keywords.Dictionary
	cfg      Config
	logger   *zap.Logger
}

func NewRunner(launcher dom.Launcher, dict *keywords.Dictionary, cfg Config, logger *zap.Logger) *Runner {
	if dict == nil {
		dict = keywords.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{launcher: launcher, dict: dict, cfg: cfg, logger: logger}
}

// Run processes one request. The returned Evidence is never nil; on failure
// its status is error and err says why. The page is closed exactly once on
// every path, panics included.
func (r *Runner) Run(ctx context.Context, req Request) (ev *Evidence, err error) {
	start := time.Now()
	ev = &Evidence{RunID: uuid.NewString(), URL: req.URL, Status: StatusVisited, Actions: []string{}}
	defer func() { ev.Duration = time.Since(start) }()

	if err := req.Validate(); err != nil {
		ev.fail(err)
		return ev, err
	}
	log := r.logger.With(zap.String("run_id", ev.RunID), zap.String("host", req.Host()))

	page, err := r.launcher.Launch(ctx)
	if err != nil {
		err = fmt.Errorf("failed to launch browser: %w", err)
		ev.fail(err)
		return ev, err
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			log.Warn("failed to close page", zap.Error(cerr))
		}
	}()

	rn := &run{
		cfg:        r.cfg,
		dict:       r.dict,
		page:       page,
		req:        req,
		log:        log,
		ev:         ev,
		tracker:    NewTracker(),
		commitForm: -1,
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline panicked", zap.Any("panic", p), zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", ErrPanic, p)
			rn.finish()
			ev.fail(err)
		}
	}()

	err = rn.pipeline(ctx)
	rn.finish()
	if err != nil {
		ev.fail(err)
		log.Warn("run failed", zap.Error(err), zap.Strings("actions", ev.Actions))
		return ev, err
	}
	log.Info("run finished",
		zap.String("status", string(ev.Status)),
		zap.String("strategy", string(ev.Strategy)),
		zap.Strings("actions", ev.Actions),
		zap.Int("screenshot_bytes", len(ev.Screenshot)),
	)
	return ev, nil
}

// run is the state of one request.
type run struct {
	cfg      Config
	dict     *keywords.Dictionary
	page     dom.Page
	req      Request
	log      *zap.Logger
	ev       *Evidence
	tracker  *Tracker
	actions  ActionLog
	inv      *Inventory
	decision Decision
	// commitForm is the form of the first mutated control, -1 if none.
	commitForm int
	// decisive is set once a checkbox, radio or select was changed. Email
	// and reason fills alone do not make a form worth submitting.
	decisive bool
}

func (r *run) pipeline(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigationTimeout)
	err := r.page.Navigate(navCtx, r.req.URL)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	if !sleep(ctx, r.cfg.SettleWait) {
		return ctx.Err()
	}

	r.checkCaptcha(ctx)

	inv, err := Survey(ctx, r.page, r.dict)
	if err != nil {
		r.log.Warn("survey failed", zap.Error(err))
		r.actions.Add("form_error: " + err.Error())
		if inv == nil {
			inv = &Inventory{}
		}
	}
	r.inv = inv
	if inv.Forms > 0 {
		r.actions.Add("form_detected")
	}

	r.decision = SelectStrategy(inv, r.dict, r.cfg.Policy)
	r.log.Debug("strategy selected",
		zap.String("strategy", string(r.decision.Strategy)),
		zap.Int("unsubscribe", r.decision.Unsubscribe),
		zap.Int("category", r.decision.Category),
		zap.Int("named_categories", r.decision.NamedCategories),
		zap.Int("checkboxes", r.decision.Checkboxes),
		zap.Bool("preferences_page", r.decision.PreferencesPage),
	)

	r.execute(ctx)
	if r.tracker.Status() == StatusFormInteracted {
		sleep(ctx, r.cfg.InteractionWait)
	}
	r.submit(ctx)

	shot, err := r.page.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	r.ev.Screenshot = shot
	return nil
}

func (r *run) checkCaptcha(ctx context.Context) {
	info, err := r.page.Captcha(ctx)
	if err != nil {
		r.log.Debug("captcha probe failed", zap.Error(err))
		return
	}
	if !info.Blocking() {
		return
	}
	r.ev.Captcha = info.Type
	r.actions.Add("captcha_detected: " + info.Type)
	r.log.Warn("captcha on page", zap.String("type", info.Type), zap.String("detail", info.Description))
}

// finish copies the run state into the evidence.
func (r *run) finish() {
	r.ev.Status = r.tracker.Status()
	r.ev.Strategy = r.decision.Strategy
	r.ev.Actions = r.actions.Tags()
}

func (r *run) markMutated(c FormControl) {
	if r.commitForm < 0 {
		r.commitForm = c.Form
	}
	switch c.Kind {
	case dom.KindCheckbox, dom.KindRadio, dom.KindSelect:
		r.decisive = true
	}
	r.tracker.Advance(StatusFormInteracted)
}
