package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Velocidex/ordereddict"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/binparsergen/reader"
	efirt "www.velocidex.com/golang/go-efirt"
)

var (
	relocs_command = app.Command("relocs",
		"Displays the base relocation directory of a PE file.")
	relocs_command_file = relocs_command.Arg("file", "").Required().
				OpenFile(os.O_RDONLY, 0600)
)

func doRelocs() {
	reader, err := reader.NewPagedReader(*relocs_command_file, 4096, 100)
	kingpin.FatalIfError(err, "Can not open file %s: %v",
		(*relocs_command_file).Name(), err)

	pe_file, err := efirt.NewPEFile(reader)
	kingpin.FatalIfError(err, "Can not parse file %s: %v",
		(*relocs_command_file).Name(), err)

	result := ordereddict.NewDict().
		Set("Machine", pe_file.Machine).
		Set("Is64Bit", pe_file.Is64Bit).
		Set("ImageBase", fmt.Sprintf("%#x", pe_file.ImageBase)).
		Set("Sections", pe_file.Sections).
		Set("Relocations", efirt.DescribeRelocations(
			pe_file.RelocationBlocks()))

	serialized, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(serialized))
}
