package efirt

import (
	"fmt"

	"github.com/Velocidex/ordereddict"
)

// Exported inspection API. Everything renders into ordered dicts so
// tools can emit stable JSON.

func describeTableHeader(hdr TableHeader) *ordereddict.Dict {
	return ordereddict.NewDict().
		Set("Signature", fmt.Sprintf("%#x", hdr.Signature)).
		Set("Revision", fmt.Sprintf("%d.%d", hdr.Revision>>16, hdr.Revision&0xffff)).
		Set("HeaderSize", hdr.HeaderSize).
		Set("CRC32", fmt.Sprintf("%#08x", hdr.CRC32))
}

func (self *RuntimeServices) Describe() *ordereddict.Dict {
	return ordereddict.NewDict().
		Set("Hdr", describeTableHeader(self.Hdr)).
		Set("GetTime", fmt.Sprintf("%#x", self.GetTime)).
		Set("SetTime", fmt.Sprintf("%#x", self.SetTime)).
		Set("GetWakeupTime", fmt.Sprintf("%#x", self.GetWakeupTime)).
		Set("SetWakeupTime", fmt.Sprintf("%#x", self.SetWakeupTime)).
		Set("SetVirtualAddressMap", fmt.Sprintf("%#x", self.SetVirtualAddressMap)).
		Set("ConvertPointer", fmt.Sprintf("%#x", self.ConvertPointer)).
		Set("GetVariable", fmt.Sprintf("%#x", self.GetVariable)).
		Set("GetNextVariableName", fmt.Sprintf("%#x", self.GetNextVariableName)).
		Set("SetVariable", fmt.Sprintf("%#x", self.SetVariable)).
		Set("GetNextHighMonotonicCount",
			fmt.Sprintf("%#x", self.GetNextHighMonotonicCount)).
		Set("ResetSystem", fmt.Sprintf("%#x", self.ResetSystem)).
		Set("UpdateCapsule", fmt.Sprintf("%#x", self.UpdateCapsule)).
		Set("QueryCapsuleCapabilities",
			fmt.Sprintf("%#x", self.QueryCapsuleCapabilities)).
		Set("QueryVariableInfo", fmt.Sprintf("%#x", self.QueryVariableInfo))
}

func (self *SystemTable) Describe() *ordereddict.Dict {
	return ordereddict.NewDict().
		Set("Hdr", describeTableHeader(self.Hdr)).
		Set("FirmwareVendor", fmt.Sprintf("%#x", self.FirmwareVendor)).
		Set("FirmwareRevision", self.FirmwareRevision).
		Set("RuntimeServices", fmt.Sprintf("%#x", self.RuntimeServices)).
		Set("BootServices", fmt.Sprintf("%#x", self.BootServices)).
		Set("NumberOfTableEntries", self.NumberOfTableEntries).
		Set("ConfigurationTable", fmt.Sprintf("%#x", self.ConfigurationTable))
}

func DescribeMemoryMap(virtual_map *MemoryMap) *ordereddict.Dict {
	regions := []*ordereddict.Dict{}

	for i := 0; i < virtual_map.Count(); i++ {
		desc := virtual_map.Descriptor(i)
		regions = append(regions, ordereddict.NewDict().
			Set("Type", desc.Type).
			Set("PhysicalStart", fmt.Sprintf("%#x", desc.PhysicalStart)).
			Set("VirtualStart", fmt.Sprintf("%#x", desc.VirtualStart)).
			Set("NumberOfPages", desc.NumberOfPages).
			Set("Runtime", desc.IsRuntime()))
	}

	return ordereddict.NewDict().
		Set("NumberOfDescriptors", virtual_map.Count()).
		Set("Regions", regions)
}

// Describe renders the coordinator state - latches, tables and the
// image list.
func (self *RuntimeCore) Describe() *ordereddict.Dict {
	images := []*ordereddict.Dict{}
	for _, image := range self.images {
		images = append(images, ordereddict.NewDict().
			Set("ImageBase", fmt.Sprintf("%#x", image.ImageBase)).
			Set("ImageSize", len(image.Data)).
			Set("RelocationDataSize", len(image.RelocationData)).
			Set("Self", image.ImageBase == self.image_base))
	}

	return ordereddict.NewDict().
		Set("AtRuntime", self.at_runtime).
		Set("VirtualMode", self.virtual_mode).
		Set("FirmwareVendor", self.VendorString()).
		Set("SystemTable", self.system.Describe()).
		Set("RuntimeServices", self.runtime_service.Describe()).
		Set("Images", images)
}

// VendorString reads the firmware vendor string through the system
// table pointer. The string lives inside one of the registered
// runtime images; before the switch the pointer is physical and can
// be chased directly. After the switch it is virtual and no longer
// resolvable from here.
func (self *RuntimeCore) VendorString() string {
	address := self.system.FirmwareVendor
	if address == 0 || self.virtual_mode {
		return ""
	}

	for _, image := range self.images {
		if address >= image.ImageBase &&
			address < image.ImageBase+uint64(len(image.Data)) {
			return ParseTerminatedUTF16String(
				image.Data, int(address-image.ImageBase))
		}
	}

	return ""
}
