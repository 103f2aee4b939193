// Package assets holds the files bundled into the binaries:
// SQL migrations, email templates, the static fallback roster and the
// list of common passwords rejected by the password policy.
package assets

import "embed"

//go:embed migrations/*.sql templates/email/* roster/*.yaml common-passwords.txt
var FS embed.FS
