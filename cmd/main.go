package main

import (
	"os"

	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

var (
	app = kingpin.New("efirt",
		"UEFI runtime address space switch inspector and simulator.")
)

func main() {
	switch kingpin.MustParse(app.Parse(os.Args[1:])) {
	case relocs_command.FullCommand():
		doRelocs()

	case switch_command.FullCommand():
		doSwitch()
	}
}
