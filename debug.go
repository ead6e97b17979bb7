// Debug helpers - the firmware environment this models has no
// interactive diagnostics, so everything here is gated on an
// environment variable and off by default.

package efirt

import (
	"fmt"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

var (
	EFIRT_DEBUG *bool
)

func DebugPrint(fmt_str string, v ...interface{}) {
	if EFIRT_DEBUG == nil {
		// os.Environ() seems very expensive in Go so we cache
		// it.
		for _, x := range os.Environ() {
			if strings.HasPrefix(x, "EFIRT_DEBUG=") {
				value := true
				EFIRT_DEBUG = &value
				break
			}
		}
	}

	if EFIRT_DEBUG == nil {
		value := false
		EFIRT_DEBUG = &value
	}

	if *EFIRT_DEBUG {
		fmt.Printf(fmt_str, v...)
	}
}

func Debug(arg interface{}) {
	spew.Dump(arg)
}
