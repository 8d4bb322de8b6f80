package common

import (
	"fmt"
	"strings"
)

// bannerWidth is the line width used by title.
const bannerWidth = 80

// rule returns a row of n repeated "=" characters.
func rule(n int) string {
	return strings.Repeat("=", n)
}

// title centers text inside a double-ruled banner line, used for the
// handful of startup messages (engine version, env name, host lifecycle)
// that are worth calling out in an otherwise structured log stream.
func title(text string) string {
	text = fmt.Sprintf(" %s ", text)
	startIndex := (bannerWidth / 2) - (len(text) / 2)
	delta := len(text) % 2

	return fmt.Sprintf("%s%s%s", rule(startIndex), text, rule(startIndex+delta))
}
