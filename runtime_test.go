package efirt

import (
	"encoding/binary"
	"testing"

	"github.com/alecthomas/assert"
)

type recordingArch struct {
	calls [][2]uint64
}

func (self *recordingArch) InvalidateInstructionCacheRange(
	address uint64, length uint64) {
	self.calls = append(self.calls, [2]uint64{address, length})
}

type testFixture struct {
	core             *RuntimeCore
	runtime_services *RuntimeServices
	system           *SystemTable
	arch             *recordingArch

	self_image *RuntimeImage
	image2     *RuntimeImage
	image3     *RuntimeImage

	virtual_map []byte
}

func buildRuntimeImage(t *testing.T, base uint64) *RuntimeImage {
	image := buildTestImage(relocBlock(0x1000,
		relocEntry(IMAGE_REL_BASED_DIR64, 0x20)))

	// A self referential pointer, as the load time relocation
	// left it.
	binary.LittleEndian.PutUint64(image[0x1020:], base+0x1028)

	relocation_data, err := RecordImageFixups(image)
	assert.NoError(t, err)

	return &RuntimeImage{
		ImageBase:      base,
		Data:           image,
		RelocationData: relocation_data,
	}
}

// newTestFixture assembles a coordinator with three runtime images
// (its own plus two others) and a virtual map that offsets every
// runtime region by 0x40000000.
func newTestFixture(t *testing.T) *testFixture {
	self := &testFixture{
		arch:             &recordingArch{},
		runtime_services: NewRuntimeServicesTable(),
		system:           NewSystemTable(),
		self_image:       buildRuntimeImage(t, 0x100000),
		image2:           buildRuntimeImage(t, 0x200000),
		image3:           buildRuntimeImage(t, 0x300000),
	}

	// The vendor string lives inside the second image.
	copy(self.image2.Data[0x1800:], EncodeTerminatedUTF16String("GoFirmware"))

	self.runtime_services.GetTime = 0x100040
	self.runtime_services.SetTime = 0x100048
	self.runtime_services.GetWakeupTime = 0x100050
	self.runtime_services.SetWakeupTime = 0x100058
	self.runtime_services.GetVariable = 0x100060
	self.runtime_services.GetNextVariableName = 0x100068
	self.runtime_services.SetVariable = 0x100070
	self.runtime_services.GetNextHighMonotonicCount = 0x100078
	self.runtime_services.ResetSystem = 0x100080
	self.runtime_services.UpdateCapsule = 0x100088
	self.runtime_services.QueryCapsuleCapabilities = 0x100090
	self.runtime_services.QueryVariableInfo = 0x100098

	self.system.FirmwareVendor = 0x201800
	self.system.RuntimeServices = 0x100000
	self.system.BootServices = 0xdead0000

	core, err := NewRuntimeCore(self.system, self.runtime_services,
		&LoadedImage{ImageBase: 0x100000, ImageSize: test_image_size},
		self.arch)
	assert.NoError(t, err)
	self.core = core

	for _, image := range []*RuntimeImage{
		self.self_image, self.image2, self.image3} {
		status := core.RegisterImage(image)
		assert.Equal(t, STATUS_SUCCESS, status)
	}

	self.virtual_map = EncodeMemoryMap([]MemoryDescriptor{
		{Type: 5, PhysicalStart: 0x1000, VirtualStart: 0x80001000,
			NumberOfPages: 1, Attribute: MEMORY_RUNTIME},
		{Type: 5, PhysicalStart: 0x100000, VirtualStart: 0x40100000,
			NumberOfPages: 3, Attribute: MEMORY_RUNTIME},
		{Type: 5, PhysicalStart: 0x200000, VirtualStart: 0x40200000,
			NumberOfPages: 3, Attribute: MEMORY_RUNTIME},
		{Type: 5, PhysicalStart: 0x300000, VirtualStart: 0x40300000,
			NumberOfPages: 3, Attribute: MEMORY_RUNTIME},
		{Type: 7, PhysicalStart: 0x500000, VirtualStart: 0x500000,
			NumberOfPages: 1},
	})

	return self
}

func (self *testFixture) doSwitch() Status {
	return self.core.SetVirtualAddressMap(
		uint64(len(self.virtual_map)), MEMORY_DESCRIPTOR_SIZE,
		MEMORY_DESCRIPTOR_VERSION, self.virtual_map)
}

func TestSwitchPreconditions(t *testing.T) {
	fixture := newTestFixture(t)

	// Boot services still up.
	assert.Equal(t, STATUS_UNSUPPORTED, fixture.doSwitch())
	assert.False(t, fixture.core.VirtualMode())

	fixture.core.ExitBootServices()

	// Wrong descriptor version.
	status := fixture.core.SetVirtualAddressMap(
		uint64(len(fixture.virtual_map)), MEMORY_DESCRIPTOR_SIZE,
		2, fixture.virtual_map)
	assert.Equal(t, STATUS_INVALID_PARAMETER, status)
	assert.False(t, fixture.core.VirtualMode())

	// Stride below the descriptor size.
	status = fixture.core.SetVirtualAddressMap(
		uint64(len(fixture.virtual_map)), MEMORY_DESCRIPTOR_SIZE-1,
		MEMORY_DESCRIPTOR_VERSION, fixture.virtual_map)
	assert.Equal(t, STATUS_INVALID_PARAMETER, status)
	assert.False(t, fixture.core.VirtualMode())

	assert.Equal(t, STATUS_SUCCESS, fixture.doSwitch())
	assert.True(t, fixture.core.VirtualMode())
}

func TestSwitchIsOneShot(t *testing.T) {
	fixture := newTestFixture(t)
	fixture.core.ExitBootServices()

	assert.Equal(t, STATUS_SUCCESS, fixture.doSwitch())

	converted := *fixture.runtime_services

	assert.Equal(t, STATUS_UNSUPPORTED, fixture.doSwitch())

	// The repeat attempt must not disturb any converted pointer.
	assert.Equal(t, converted, *fixture.runtime_services)
}

func TestSelfExclusion(t *testing.T) {
	fixture := newTestFixture(t)
	fixture.core.ExitBootServices()

	assert.Equal(t, STATUS_SUCCESS, fixture.doSwitch())

	// The cache flush marks each relocated image - exactly the two
	// non-self images, never the coordinator's own base.
	assert.Equal(t, [][2]uint64{
		{0x200000, test_image_size},
		{0x300000, test_image_size},
	}, fixture.arch.calls)

	// The other images were re-relocated for their virtual bases.
	assert.Equal(t, uint64(0x40201028),
		binary.LittleEndian.Uint64(fixture.image2.Data[0x1020:]))
	assert.Equal(t, uint64(0x40301028),
		binary.LittleEndian.Uint64(fixture.image3.Data[0x1020:]))

	// Our own image must remain exactly where it is.
	assert.Equal(t, uint64(0x101028),
		binary.LittleEndian.Uint64(fixture.self_image.Data[0x1020:]))
}

func TestRuntimeServicesConversion(t *testing.T) {
	fixture := newTestFixture(t)
	fixture.core.ExitBootServices()

	assert.Equal(t, STATUS_SUCCESS, fixture.doSwitch())

	rt := fixture.runtime_services
	assert.Equal(t, uint64(0x40100040), rt.GetTime)
	assert.Equal(t, uint64(0x40100048), rt.SetTime)
	assert.Equal(t, uint64(0x40100060), rt.GetVariable)
	assert.Equal(t, uint64(0x40100080), rt.ResetSystem)
	assert.Equal(t, uint64(0x40100098), rt.QueryVariableInfo)

	// The two transition services keep their physical entry
	// points - the driver's own image was never relocated.
	assert.Equal(t, uint64(0x100000), rt.SetVirtualAddressMap)
	assert.Equal(t, uint64(0x100000), rt.ConvertPointer)
}

func TestSystemTableConversion(t *testing.T) {
	fixture := newTestFixture(t)
	fixture.core.ExitBootServices()

	assert.Equal(t, STATUS_SUCCESS, fixture.doSwitch())

	assert.Equal(t, uint64(0x40201800), fixture.system.FirmwareVendor)
	assert.Equal(t, uint64(0x40100000), fixture.system.RuntimeServices)

	// Boot services are categorically gone.
	assert.Equal(t, uint64(0), fixture.system.BootServices)

	// The configuration table pointer was null and optional.
	assert.Equal(t, uint64(0), fixture.system.ConfigurationTable)
}

func TestHeaderChecksums(t *testing.T) {
	fixture := newTestFixture(t)
	fixture.core.ExitBootServices()

	before_rt := fixture.runtime_services.Hdr.CRC32
	before_st := fixture.system.Hdr.CRC32

	assert.Equal(t, STATUS_SUCCESS, fixture.doSwitch())

	// Both headers were rewritten, so both checksums must have
	// been recomputed and must verify.
	assert.NotEqual(t, before_rt, fixture.runtime_services.Hdr.CRC32)
	assert.NotEqual(t, before_st, fixture.system.Hdr.CRC32)
	assert.Equal(t, fixture.runtime_services.Checksum(),
		fixture.runtime_services.Hdr.CRC32)
	assert.Equal(t, fixture.system.Checksum(),
		fixture.system.Hdr.CRC32)
}

func TestScratchMapLifetime(t *testing.T) {
	fixture := newTestFixture(t)
	fixture.core.ExitBootServices()

	assert.Equal(t, STATUS_SUCCESS, fixture.doSwitch())

	// No dangling reference to the caller's map buffer.
	assert.True(t, fixture.core.virtual_map == nil)

	// Out of contract calls fail cleanly rather than reading
	// stale state.
	address := uint64(0x1000)
	assert.Equal(t, STATUS_NOT_FOUND,
		fixture.core.ConvertPointer(0, &address))
	assert.Equal(t, uint64(0x1000), address)
}

func TestConvertPointerDuringSwitch(t *testing.T) {
	fixture := newTestFixture(t)
	fixture.core.ExitBootServices()

	type conversion struct {
		address uint64
		status  Status
	}
	results := []conversion{}

	convert := func(disposition uint32, address uint64) {
		status := fixture.core.ConvertPointer(disposition, &address)
		results = append(results, conversion{address, status})
	}

	// ConvertPointer is only meaningful while the switch is in
	// progress, so drive it from a subscriber.
	_, status := fixture.core.CreateEvent(
		EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE,
		func(context interface{}) {
			convert(0, 0x1000)   // first byte of the region
			convert(0, 0x1fff)   // last byte of the region
			convert(0, 0x2000)   // one past the end
			convert(0, 0x500000) // not a runtime region
			convert(OPTIONAL_PTR, 0)
			convert(0, 0)
		}, nil)
	assert.Equal(t, STATUS_SUCCESS, status)

	assert.Equal(t, STATUS_SUCCESS, fixture.doSwitch())

	assert.Equal(t, []conversion{
		{0x80001000, STATUS_SUCCESS},
		{0x80001fff, STATUS_SUCCESS},
		{0x2000, STATUS_NOT_FOUND},
		{0x500000, STATUS_NOT_FOUND},
		{0, STATUS_SUCCESS},
		{0, STATUS_INVALID_PARAMETER},
	}, results)
}

func TestConvertPointerNilAddress(t *testing.T) {
	fixture := newTestFixture(t)
	assert.Equal(t, STATUS_INVALID_PARAMETER,
		fixture.core.ConvertPointer(0, nil))
}

func TestEventOrdering(t *testing.T) {
	fixture := newTestFixture(t)

	fired := []string{}
	notify := func(context interface{}) {
		fired = append(fired, context.(string))
	}

	_, status := fixture.core.CreateEvent(
		EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE, notify, "vac-1")
	assert.Equal(t, STATUS_SUCCESS, status)

	_, status = fixture.core.CreateEvent(
		EVT_SIGNAL_EXIT_BOOT_SERVICES, notify, "ebs-1")
	assert.Equal(t, STATUS_SUCCESS, status)

	_, status = fixture.core.CreateEvent(
		EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE, notify, "vac-2")
	assert.Equal(t, STATUS_SUCCESS, status)

	fixture.core.ExitBootServices()
	assert.Equal(t, []string{"ebs-1"}, fired)

	// ExitBootServices fires once.
	fixture.core.ExitBootServices()
	assert.Equal(t, []string{"ebs-1"}, fired)

	assert.Equal(t, STATUS_SUCCESS, fixture.doSwitch())
	assert.Equal(t, []string{"ebs-1", "vac-1", "vac-2"}, fired)
}

func TestCreateEventValidation(t *testing.T) {
	fixture := newTestFixture(t)

	_, status := fixture.core.CreateEvent(
		EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE, nil, nil)
	assert.Equal(t, STATUS_INVALID_PARAMETER, status)

	_, status = fixture.core.CreateEvent(
		0x80000000, func(context interface{}) {}, nil)
	assert.Equal(t, STATUS_INVALID_PARAMETER, status)
}

func TestRegistrationClosesAtSwitch(t *testing.T) {
	fixture := newTestFixture(t)
	fixture.core.ExitBootServices()
	assert.Equal(t, STATUS_SUCCESS, fixture.doSwitch())

	status := fixture.core.RegisterImage(buildRuntimeImage(t, 0x600000))
	assert.Equal(t, STATUS_UNSUPPORTED, status)

	_, status = fixture.core.CreateEvent(
		EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE,
		func(context interface{}) {}, nil)
	assert.Equal(t, STATUS_UNSUPPORTED, status)
}

func TestVendorString(t *testing.T) {
	fixture := newTestFixture(t)
	assert.Equal(t, "GoFirmware", fixture.core.VendorString())

	fixture.core.ExitBootServices()
	assert.Equal(t, STATUS_SUCCESS, fixture.doSwitch())

	// The pointer is virtual now and no longer resolvable from
	// the physical image list.
	assert.Equal(t, "", fixture.core.VendorString())
}

func TestInstallRequiresLoadedImage(t *testing.T) {
	_, err := NewRuntimeCore(NewSystemTable(),
		NewRuntimeServicesTable(), nil, nil)
	assert.Error(t, err)
	assert.Equal(t, STATUS_NOT_FOUND, err)
}

func TestMapStrideLargerThanDescriptor(t *testing.T) {
	fixture := newTestFixture(t)
	fixture.core.ExitBootServices()

	// Re-encode the map with 8 bytes of padding per entry - the
	// caller's stride governs the walk.
	stride := MEMORY_DESCRIPTOR_SIZE + 8
	padded := make([]byte, (len(fixture.virtual_map)/MEMORY_DESCRIPTOR_SIZE)*stride)
	for i := 0; i < len(fixture.virtual_map)/MEMORY_DESCRIPTOR_SIZE; i++ {
		copy(padded[i*stride:],
			fixture.virtual_map[i*MEMORY_DESCRIPTOR_SIZE:(i+1)*MEMORY_DESCRIPTOR_SIZE])
	}

	status := fixture.core.SetVirtualAddressMap(
		uint64(len(padded)), uint64(stride),
		MEMORY_DESCRIPTOR_VERSION, padded)
	assert.Equal(t, STATUS_SUCCESS, status)

	assert.Equal(t, uint64(0x40100040), fixture.runtime_services.GetTime)
}
