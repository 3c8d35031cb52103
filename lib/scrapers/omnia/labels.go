package omnia

import "strings"

var accentFold = strings.NewReplacer(
	"à", "a", "á", "a",
	"è", "e", "é", "e",
	"ì", "i", "í", "i",
	"ò", "o", "ó", "o",
	"ù", "u", "ú", "u",
)

// labelToKey turns a rendered form label into a stable snake_case
// field name, so cosmetic label edits on the portal side do not
// reshuffle the stored columns. "Pannelli solari e/o fotovoltaici"
// becomes "pannelli_solari_e_o_fotovoltaici".
func labelToKey(label string) string {
	label = accentFold.Replace(strings.ToLower(label))

	var b strings.Builder
	lastUnderscore := true
	for _, r := range label {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
