package desk

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rickgao/gpttools-desk/internal/model"
	"github.com/rickgao/gpttools-desk/internal/service"
)

// Login errors
var (
	ErrNoLoginID            = errors.New("login did not return a login id")
	ErrNoAuthURL            = errors.New("login did not return an authorization url")
	ErrLoginTimeout         = errors.New("login timed out")
	ErrLoginFailed          = errors.New("login failed")
	ErrCallbackEmpty        = errors.New("paste the callback url")
	ErrCallbackInvalid      = errors.New("callback url is malformed")
	ErrCallbackMissingParam = errors.New("callback url is missing code or state")
)

// Callback is a parsed OAuth redirect.
type Callback struct {
	Code        string
	State       string
	RedirectURI string
}

// ParseCallbackURL extracts code, state and the redirect URI (origin plus
// path) from a pasted callback. A missing scheme is read as http.
func ParseCallbackURL(raw string) (Callback, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Callback{}, ErrCallbackEmpty
	}

	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		u, err = url.Parse("http://" + value)
		if err != nil || u.Host == "" {
			return Callback{}, ErrCallbackInvalid
		}
	}

	q := u.Query()
	cb := Callback{Code: q.Get("code"), State: q.Get("state")}
	if cb.Code == "" || cb.State == "" {
		return Callback{}, ErrCallbackMissingParam
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	cb.RedirectURI = u.Scheme + "://" + u.Host + path
	return cb, nil
}

// StartLogin begins a login, opens the authorization URL and waits for the
// service to report the outcome. On success the desk refreshes.
func (d *Desk) StartLogin(ctx context.Context, req service.LoginRequest) (*model.LoginStart, error) {
	start, err := d.BeginLogin(ctx, req)
	if err != nil {
		return start, err
	}
	return start, d.WaitForLogin(ctx, start.LoginID)
}

// BeginLogin asks the service for an authorization URL and opens it without
// waiting for the outcome.
func (d *Desk) BeginLogin(ctx context.Context, req service.LoginRequest) (*model.LoginStart, error) {
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}

	req.Note = strings.TrimSpace(req.Note)
	req.Tags = strings.TrimSpace(req.Tags)
	req.GroupName = strings.TrimSpace(req.GroupName)
	req.OpenBrowser = false // the desk opens it

	start, err := d.svc.StartLogin(ctx, req)
	if err != nil {
		return nil, d.fail("start login", err)
	}
	if start.AuthURL == "" {
		return start, d.fail("start login", ErrNoAuthURL)
	}

	if d.openBrowser != nil {
		if err := d.openBrowser(start.AuthURL); err != nil {
			d.logger.Warn("open browser failed", "error", err)
		}
	}
	if start.Warning != nil && *start.Warning != "" {
		d.notifier.OnHint(*start.Warning+"; if the callback does not arrive, paste the callback url", false)
	}
	return start, nil
}

// WaitForLogin polls the login status until it succeeds, fails or the
// login timeout passes. Success triggers a refresh.
func (d *Desk) WaitForLogin(ctx context.Context, loginID string) error {
	if loginID == "" {
		return ErrNoLoginID
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.LoginTimeout)
	defer cancel()
	logger := d.logger.With("login", loginID)

	for {
		st, err := d.svc.LoginStatus(ctx, loginID)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Debug("login status poll failed", "error", err)
		case err == nil && st.Status == model.LoginSuccess:
			logger.Info("login succeeded")
			d.refreshQuietly(context.WithoutCancel(ctx))
			return nil
		case err == nil && st.Status == model.LoginFailed:
			reason := "unknown"
			if st.Error != nil && *st.Error != "" {
				reason = *st.Error
			}
			d.pub.Toast("login failed: "+reason, "error")
			return fmt.Errorf("%w: %s", ErrLoginFailed, reason)
		}

		if err := d.sleep(ctx, d.cfg.LoginPoll); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				d.pub.Toast("login timed out, try again", "error")
				return ErrLoginTimeout
			}
			return err
		}
	}
}

// CompleteLogin finishes a login from a pasted callback URL.
func (d *Desk) CompleteLogin(ctx context.Context, callbackURL string) error {
	cb, err := ParseCallbackURL(callbackURL)
	if err != nil {
		return err
	}
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if err := d.svc.CompleteLogin(ctx, cb.State, cb.Code, cb.RedirectURI); err != nil {
		return d.fail("complete login", err)
	}
	d.refreshQuietly(ctx)
	return nil
}
