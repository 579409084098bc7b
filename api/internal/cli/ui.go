package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// formatter renders a semantic piece of CLI output. Without color support it
// falls back to plain decorations so piped output stays readable.
type formatter struct {
	color  *color.Color
	prefix string
	suffix string
}

func (f formatter) Sprint(a ...any) string {
	text := fmt.Sprint(a...)
	if noColor() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

func (f formatter) Sprintf(format string, a ...any) string {
	return f.Sprint(fmt.Sprintf(format, a...))
}

func noColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set || color.NoColor
}

var (
	codeText    = formatter{color.New(color.FgYellow), "`", "`"}
	successText = formatter{color.New(color.FgGreen), "", ""}
	errorText   = formatter{color.New(color.FgRed), "", ""}
	warningText = formatter{color.New(color.FgYellow), "", ""}
	infoText    = formatter{color.New(color.FgCyan), "", ""}
	mutedText   = formatter{color.New(color.FgHiBlack), "(", ")"}
)
