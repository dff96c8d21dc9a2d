package exec

import "strings"

// composeCommandLine assembles a Windows command line. Each element is
// wrapped in double quotes so that CommandLineToArgvW, which most programs
// use to split their command line, yields the original strings back.
func composeCommandLine(path string, args []string) string {
	var b strings.Builder
	b.WriteString(quoteArg(path))

	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(quoteArg(arg))
	}

	return b.String()
}

// quoteArg escapes double quotes with a backslash. Backslashes are only
// special right before a double quote, so those runs are doubled, including
// the run before the closing quote.
func quoteArg(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')

	slashes := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			slashes++
			continue
		case '"':
			b.WriteString(strings.Repeat(`\`, 2*slashes+1))
		default:
			b.WriteString(strings.Repeat(`\`, slashes))
		}
		b.WriteByte(s[i])
		slashes = 0
	}

	b.WriteString(strings.Repeat(`\`, 2*slashes))
	b.WriteByte('"')
	return b.String()
}
