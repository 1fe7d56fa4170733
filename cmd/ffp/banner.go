package main

import (
	"fmt"
	"io"

	"github.com/gaki-eu/ffp/internal/version"
)

const ffpArt = `
  __  __
 / _|/ _|_ __
| |_| |_| '_ \
|  _|  _| |_) |
|_| |_| | .__/
        |_|`

func showBanner(w io.Writer) {
	fmt.Fprintln(w, cyan(ffpArt))
	fmt.Fprintln(w, " ", version.ShortWithApp())
	fmt.Fprintln(w)
}
