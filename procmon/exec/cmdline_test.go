package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteArg(t *testing.T) {
	type test struct {
		in  string
		out string
	}

	var tests = []test{
		{``, `""`},
		{`plain`, `"plain"`},
		{`with space`, `"with space"`},
		{`say "hi"`, `"say \"hi\""`},
		{`C:\Program Files\`, `"C:\Program Files\\"`},
		{`C:\dir\file`, `"C:\dir\file"`},
		{`a\"b`, `"a\\\"b"`},
		{`a\\"b`, `"a\\\\\"b"`},
		{`trailing\\`, `"trailing\\\\"`},
	}

	for _, test := range tests {
		assert.Equal(t, test.out, quoteArg(test.in), "quoting %q", test.in)
	}
}

func TestComposeCommandLine(t *testing.T) {
	line := composeCommandLine(`C:\bin\tool.exe`, []string{"-n", "two words", `"quoted"`})
	assert.Equal(t, `"C:\bin\tool.exe" "-n" "two words" "\"quoted\""`, line)

	assert.Equal(t, `"tool"`, composeCommandLine("tool", nil))
}
