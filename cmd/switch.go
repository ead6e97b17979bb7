package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"github.com/Velocidex/ordereddict"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	yaml "gopkg.in/yaml.v3"
	efirt "www.velocidex.com/golang/go-efirt"
)

var (
	switch_command = app.Command("switch",
		"Simulates a virtual address switch over a scenario file.")
	switch_command_file = switch_command.Arg("scenario",
		"YAML scenario describing images and the virtual memory map.").
		Required().String()
)

type scenarioRegion struct {
	Type          uint32 `yaml:"type"`
	PhysicalStart uint64 `yaml:"physical_start"`
	VirtualStart  uint64 `yaml:"virtual_start"`
	NumberOfPages uint64 `yaml:"number_of_pages"`
	Runtime       bool   `yaml:"runtime"`
}

type scenarioImage struct {
	File string `yaml:"file"`
	Base uint64 `yaml:"base"`

	// Marks the runtime core's own image, which is excluded from
	// re-relocation. Defaults to the first image.
	Self bool `yaml:"self"`
}

type switchScenario struct {
	MemoryMap      []scenarioRegion `yaml:"memory_map"`
	Images         []scenarioImage  `yaml:"images"`
	FirmwareVendor uint64           `yaml:"firmware_vendor"`
}

func (self *switchScenario) descriptors() []efirt.MemoryDescriptor {
	result := []efirt.MemoryDescriptor{}
	for _, region := range self.MemoryMap {
		attribute := uint64(0)
		if region.Runtime {
			attribute = efirt.MEMORY_RUNTIME
		}

		result = append(result, efirt.MemoryDescriptor{
			Type:          region.Type,
			PhysicalStart: region.PhysicalStart,
			VirtualStart:  region.VirtualStart,
			NumberOfPages: region.NumberOfPages,
			Attribute:     attribute,
		})
	}

	return result
}

func doSwitch() {
	scenario_data, err := ioutil.ReadFile(*switch_command_file)
	kingpin.FatalIfError(err, "Can not read scenario")

	scenario := &switchScenario{}
	err = yaml.Unmarshal(scenario_data, scenario)
	kingpin.FatalIfError(err, "Can not parse scenario")

	if len(scenario.Images) == 0 {
		kingpin.Fatalf("Scenario contains no images")
	}

	base_dir := filepath.Dir(*switch_command_file)

	var self_image *scenarioImage
	images := []*efirt.RuntimeImage{}
	for i := range scenario.Images {
		entry := &scenario.Images[i]

		data, err := ioutil.ReadFile(filepath.Join(base_dir, entry.File))
		kingpin.FatalIfError(err, "Can not read image %s", entry.File)

		relocation_data, err := efirt.RecordImageFixups(data)
		kingpin.FatalIfError(err, "Can not record fixups for %s", entry.File)

		images = append(images, &efirt.RuntimeImage{
			ImageBase:      entry.Base,
			Data:           data,
			RelocationData: relocation_data,
		})

		if entry.Self || self_image == nil {
			self_image = entry
		}
	}

	runtime_services := efirt.NewRuntimeServicesTable()
	system_table := efirt.NewSystemTable()
	system_table.FirmwareVendor = scenario.FirmwareVendor

	// The service trampolines and the tables themselves live in
	// the runtime core's own image.
	system_table.RuntimeServices = self_image.Base
	runtime_services.GetTime = self_image.Base + 0x40
	runtime_services.SetTime = self_image.Base + 0x80
	runtime_services.ResetSystem = self_image.Base + 0xc0
	runtime_services.SetChecksum()
	system_table.SetChecksum()

	core, err := efirt.NewRuntimeCore(
		system_table, runtime_services,
		&efirt.LoadedImage{
			ImageBase: self_image.Base,
		}, nil)
	kingpin.FatalIfError(err, "Can not install the runtime core")

	for _, image := range images {
		status := core.RegisterImage(image)
		if status.IsError() {
			kingpin.Fatalf("Can not register image: %v", status)
		}
	}

	core.ExitBootServices()

	virtual_map := efirt.EncodeMemoryMap(scenario.descriptors())
	status := core.SetVirtualAddressMap(
		uint64(len(virtual_map)), efirt.MEMORY_DESCRIPTOR_SIZE,
		efirt.MEMORY_DESCRIPTOR_VERSION, virtual_map)

	result := ordereddict.NewDict().
		Set("Status", status.String()).
		Set("MemoryMap", efirt.DescribeMemoryMap(
			efirt.NewMemoryMap(virtual_map, efirt.MEMORY_DESCRIPTOR_SIZE,
				len(scenario.MemoryMap)))).
		Set("Core", core.Describe())

	serialized, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(serialized))
}
