package banner

import (
	"fmt"
	"io"
	"strings"
)

const logo = `
======================================================================
 ____      _
|  _ \ ___| | __ _ _   _
| |_) / _ \ |/ _` + "`" + ` | | | |
|  _ <  __/ | (_| | |_| |
|_| \_\___|_|\__,_|\__, |
                   |___/
----------------------------------------------------------------------`

const footer = `======================================================================`

// ConfigLine represents a single configuration line to display
type ConfigLine struct {
	Label string
	Value string
}

// Fprint writes the startup banner with the service name and its listeners.
func Fprint(w io.Writer, serviceName string, config []ConfigLine) {
	fmt.Fprintln(w, logo)
	fmt.Fprintln(w, serviceName)

	maxLen := 0
	for _, c := range config {
		if len(c.Label) > maxLen {
			maxLen = len(c.Label)
		}
	}
	for _, c := range config {
		if c.Value == "" {
			continue
		}
		fmt.Fprintf(w, "  %s%s : %s\n", c.Label, strings.Repeat(" ", maxLen-len(c.Label)), c.Value)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Ready.")
	fmt.Fprintln(w, footer)
	fmt.Fprintln(w)
}
