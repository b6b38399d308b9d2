package unsubscribe

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNavigation     = errors.New("navigation failed")
	ErrPanic          = errors.New("pipeline panicked")
)

// Request is the input of one run.
type Request struct {
	URL   string `json:"url"`
	Email string `json:"email,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("%w: url required", ErrInvalidRequest)
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: invalid url: %v", ErrInvalidRequest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https", ErrInvalidRequest)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url has no host", ErrInvalidRequest)
	}
	if r.Email != "" {
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return fmt.Errorf("%w: invalid email: %v", ErrInvalidRequest, err)
		}
	}
	return nil
}

// Host returns the lower-cased host of the target URL, or "" if unparsable.
func (r Request) Host() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// subscriberEmail is the explicit email, else the email query parameter
// many unsubscribe links carry.
func (r Request) subscriberEmail() string {
	if r.Email != "" {
		return r.Email
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Query().Get("email")
}

// Evidence is what a run hands back to the caller.
type Evidence struct {
	RunID      string        `json:"run_id"`
	URL        string        `json:"url"`
	Status     Status        `json:"status"`
	Strategy   Strategy      `json:"strategy,omitempty"`
	Actions    []string      `json:"actions"`
	Captcha    string        `json:"captcha,omitempty"`
	Screenshot []byte        `json:"-"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (e *Evidence) OK() bool {
	return e.Status != StatusError
}

func (e *Evidence) fail(err error) {
	e.Status = StatusError
	e.Error = err.Error()
	e.Screenshot = nil
}
