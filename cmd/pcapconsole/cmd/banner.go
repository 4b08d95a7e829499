package cmd

import (
	"fmt"
	"io"
)

const banner = `
                                                  _
  _ __   ___ __ _ _ __   ___ ___  _ __  ___  ___ | | ___
 | '_ \ / __/ _` + "`" + ` | '_ \ / __/ _ \| '_ \/ __|/ _ \| |/ _ \
 | |_) | (_| (_| | |_) | (_| (_) | | | \__ \ (_) | |  __/
 | .__/ \___\__,_| .__/ \___\___/|_| |_|___/\___/|_|\___|
 |_|             |_|
`

func printBanner(w io.Writer, subtitle string) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  %s - Version %s\x1b[0m\n\n", subtitle, Version)
}
