package dispatch

import "strings"

// Render substitutes the {name}, {email} and {company} tokens in template
// with the recipient's fields (empty string when absent). Substitution is
// literal, global and single-pass: token text introduced by a replacement is
// not rescanned, and any other {...} sequence is left untouched. Rendering
// never fails.
//
// Recipient fields are inserted verbatim, with no HTML escaping. The list
// data is operator-supplied and trusted; auto-escaping here would be a
// behavior change.
func Render(template string, r Recipient) string {
	return strings.NewReplacer(
		"{name}", r.Name,
		"{email}", r.Email,
		"{company}", r.Company,
	).Replace(template)
}
