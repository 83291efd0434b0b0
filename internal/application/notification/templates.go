package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/go-otp-auth/internal/domain"
)

var otpEmail = template.Must(template.New("otp").Parse(`<html>
  <body>
    <p>Hello,</p>
    <p>{{.Intro}}</p>
    <p><a href="{{.Link}}" target="_blank">{{.Action}}</a></p>
    <p>Your one-time code is: <b>{{.Code}}</b></p>
    <p>The code expires in {{.Validity}}. If you did not request it, ignore this email.</p>
  </body>
</html>
`))

type content struct {
	subject string
	intro   string
	action  string
	path    string
}

var contents = map[domain.TokenType]content{
	domain.TokenRegistration: {
		subject: "Verify your account",
		intro:   "Use the link or code below to activate your account.",
		action:  "Activate account",
		path:    "/verify",
	},
	domain.TokenResetPassword: {
		subject: "Reset your password",
		intro:   "Use the link or code below to choose a new password.",
		action:  "Reset password",
		path:    "/reset-password",
	},
	domain.TokenVerifyEmail: {
		subject: "Confirm your email address",
		intro:   "Use the link or code below to confirm this email address.",
		action:  "Confirm email",
		path:    "/verify-email",
	},
}

type renderer struct {
	baseURL  string
	validity string
}

func newRenderer(baseURL string, ttl time.Duration) *renderer {
	return &renderer{baseURL: strings.TrimRight(baseURL, "/"), validity: humanDuration(ttl)}
}

// humanDuration renders ttl the way the email text reads it: "10 minutes",
// "1 hour", "90 seconds".
func humanDuration(ttl time.Duration) string {
	unit := func(n int64, name string) string {
		if n == 1 {
			return "1 " + name
		}
		return fmt.Sprintf("%d %ss", n, name)
	}
	switch {
	case ttl >= time.Hour && ttl%time.Hour == 0:
		return unit(int64(ttl/time.Hour), "hour")
	case ttl >= time.Minute && ttl%time.Minute == 0:
		return unit(int64(ttl/time.Minute), "minute")
	}
	return unit(int64(ttl.Round(time.Second)/time.Second), "second")
}

func (r *renderer) render(email, code string, purpose domain.TokenType) (subject, body string, err error) {
	c, ok := contents[purpose]
	if !ok {
		return "", "", fmt.Errorf("no email template for %q", purpose)
	}
	link := r.baseURL + c.path + "?" + url.Values{"email": {email}, "otp": {code}}.Encode()
	var buf bytes.Buffer
	err = otpEmail.Execute(&buf, struct {
		Intro, Action, Link, Code, Validity string
	}{c.intro, c.action, link, code, r.validity})
	if err != nil {
		return "", "", fmt.Errorf("render %s email: %w", purpose, err)
	}
	return c.subject, buf.String(), nil
}
