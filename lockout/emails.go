package lockout

import "fmt"

const (
	lockoutSubject  = "Your account has been locked"
	unlockSubject   = "Unlock your account"
	unlockedSubject = "Your account has been unlocked"
)

func lockoutBody(unlockURL string) string {
	return fmt.Sprintf(`<html><body>
<p>Your account was locked after too many failed sign-in attempts.</p>
<p>If this was you, you can unlock it using the link below. The link is valid for 24 hours.</p>
<p><a href="%s">Unlock my account</a></p>
<p>If you did not try to sign in, we recommend changing your password once the account is unlocked.</p>
</body></html>`, unlockURL)
}

func unlockBody(unlockURL string) string {
	return fmt.Sprintf(`<html><body>
<p>A request was made to unlock your account.</p>
<p>Use the link below within 24 hours. Any previously issued unlock link is no longer valid.</p>
<p><a href="%s">Unlock my account</a></p>
<p>If you did not request this, you can ignore this email.</p>
</body></html>`, unlockURL)
}

func unlockedBody() string {
	return `<html><body>
<p>Your account has been unlocked. You can sign in again.</p>
<p>If you did not request this, please contact support.</p>
</body></html>`
}
