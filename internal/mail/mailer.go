// mailer.go
//
// Mailer interface, NopMailer, and the message templates shared by implementations.
// Add other implementations (ses.go, etc.) as separate files in this package.
package mail

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Mailer delivers transactional notifications.
type Mailer interface {
	// SendRecoveryCode emails the 6-digit password recovery code to toEmail.
	// expiresIn is rendered into the message so the user knows how long the code lives.
	// A non-nil error means the message was not accepted for delivery.
	SendRecoveryCode(ctx context.Context, toEmail string, code int, expiresIn time.Duration) error
}

// NopMailer discards all outbound email. Used when SMTP is not configured.
type NopMailer struct{}

func (NopMailer) SendRecoveryCode(context.Context, string, int, time.Duration) error { return nil }

const recoverySubject = "Password recovery"

const recoveryBody = "You have requested password recovery.\n\n" +
	"Recovery code: %%code%%\n\n" +
	"The code expires in %%expiresIn%%. If you did not request recovery, simply ignore this email."

// recoveryMessage renders subject and body for a recovery code email.
func recoveryMessage(code int, expiresIn time.Duration) (string, string) {
	return recoverySubject, applyVars(recoveryBody, map[string]string{
		"code":      strconv.Itoa(code),
		"expiresIn": formatDuration(expiresIn),
	})
}

// unresolvedPlaceholder matches any %%word%% placeholder left after substitution.
var unresolvedPlaceholder = regexp.MustCompile(`%%\w+%%`)

// applyVars substitutes %%key%% placeholders in tmpl and strips any left unresolved.
func applyVars(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "%%"+k+"%%", v)
	}
	out := strings.NewReplacer(pairs...).Replace(tmpl)
	return unresolvedPlaceholder.ReplaceAllString(out, "")
}

// formatDuration renders an expiry for humans: "3 minutes", "1 hour", "2 days".
// Sub-minute durations are shown in seconds.
func formatDuration(d time.Duration) string {
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= 24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	case d >= time.Hour:
		return plural(int(d.Hours()), "hour")
	case d >= time.Minute:
		return plural(int(d.Minutes()), "minute")
	default:
		return plural(int(d.Seconds()), "second")
	}
}
