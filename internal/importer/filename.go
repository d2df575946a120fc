package importer

import "strings"

var (
	decorativeTokens = []string{"kopie von", "copy of", "(kopie)", "(copy)", "- kopie", "- copy"}

	digraphs = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")

	separators = " _-.,;:()[]{}'\"´`"
)

// normalizeFilename reduces a filename to a form in which near identical names
// compare equal.
func normalizeFilename(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = digraphs.Replace(name)
	for _, token := range decorativeTokens {
		name = strings.ReplaceAll(name, token, "")
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(separators, r) {
			return -1
		}
		return r
	}, name)
}
