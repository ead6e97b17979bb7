package efirt

// Disposition flag for ConvertPointer: a null pointee is allowed and
// passes through unconverted.
const OPTIONAL_PTR = 0x00000001

// ArchServices is the architecture collaborator the switch relies on.
// Relocation patches code at its physical address, so the caches
// covering each patched image must be invalidated before the virtual
// base goes live.
type ArchServices interface {
	InvalidateInstructionCacheRange(address uint64, length uint64)
}

// NullArchServices satisfies ArchServices with no-ops for hosted use
// where there is no real instruction cache to maintain.
type NullArchServices struct{}

func (self NullArchServices) InvalidateInstructionCacheRange(
	address uint64, length uint64) {
}

// LoadedImage is the loaded image facet for the driver's own handle.
// The switch needs it to know which image base is its own.
type LoadedImage struct {
	ImageBase uint64
	ImageSize uint64
}

// RuntimeImage is one registered runtime resident module: where it
// was loaded, its bytes, and the relocation data recorded by the
// loader for re-relocation at switch time.
type RuntimeImage struct {
	ImageBase      uint64
	Data           []byte
	RelocationData []byte
}

// RuntimeCore implements the virtual address switch: the one way
// transition of runtime services from physical to virtual addressing.
// One instance exists per firmware session. All entry points are
// defined to be called from a single thread of execution - the switch
// happens exactly once, late in boot, with nothing else running.
type RuntimeCore struct {
	system          *SystemTable
	runtime_service *RuntimeServices
	arch            ArchServices

	// The driver's own image base. Self relocation would pull the
	// executing code out from under itself, so this base is
	// skipped during the image walk.
	image_base uint64

	// One way latches. at_runtime latches when boot services are
	// torn down, virtual_mode latches at the top of the (single)
	// switch call and is never cleared again.
	at_runtime   bool
	virtual_mode bool

	images []*RuntimeImage
	events []*Event

	// Scratch view over the caller's memory map, installed for
	// the duration of one SetVirtualAddressMap call so
	// ConvertPointer can consult it. Never retained past that
	// call.
	virtual_map *MemoryMap
}

// NewRuntimeCore installs the runtime driver. The loaded image facet
// for the driver's own handle is required - without its image base
// the self exclusion check in the switch cannot work, so a missing
// facet is a fatal initialization error.
func NewRuntimeCore(
	system *SystemTable,
	runtime_service *RuntimeServices,
	loaded *LoadedImage,
	arch ArchServices) (*RuntimeCore, error) {

	if loaded == nil {
		return nil, STATUS_NOT_FOUND
	}

	if system == nil || runtime_service == nil {
		return nil, STATUS_INVALID_PARAMETER
	}

	if arch == nil {
		arch = NullArchServices{}
	}

	result := &RuntimeCore{
		system:          system,
		runtime_service: runtime_service,
		arch:            arch,
		image_base:      loaded.ImageBase,
	}

	// The driver advertises its two services through the runtime
	// services table. Both slots point into the driver's own
	// image, which is exactly why that image is excluded from
	// re-relocation below.
	runtime_service.SetVirtualAddressMap = loaded.ImageBase
	runtime_service.ConvertPointer = loaded.ImageBase
	runtime_service.SetChecksum()
	system.SetChecksum()

	return result, nil
}

func (self *RuntimeCore) AtRuntime() bool {
	return self.at_runtime
}

func (self *RuntimeCore) VirtualMode() bool {
	return self.virtual_mode
}

func (self *RuntimeCore) Images() []*RuntimeImage {
	return self.images
}

// RegisterImage appends a runtime resident module to the image list.
// Registration only makes sense before the switch.
func (self *RuntimeCore) RegisterImage(image *RuntimeImage) Status {
	if image == nil {
		return STATUS_INVALID_PARAMETER
	}

	if self.virtual_mode {
		return STATUS_UNSUPPORTED
	}

	self.images = append(self.images, image)
	return STATUS_SUCCESS
}

// CreateEvent registers a subscriber for one of the two runtime
// notifications. The list is append only - events fire at most once.
func (self *RuntimeCore) CreateEvent(
	event_type uint32, notify NotifyFunction,
	notify_context interface{}) (*Event, Status) {

	if notify == nil {
		return nil, STATUS_INVALID_PARAMETER
	}

	switch event_type {
	case EVT_SIGNAL_EXIT_BOOT_SERVICES, EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE:
	default:
		return nil, STATUS_INVALID_PARAMETER
	}

	if self.virtual_mode {
		return nil, STATUS_UNSUPPORTED
	}

	event := &Event{
		event_type:     event_type,
		notify:         notify,
		notify_context: notify_context,
	}

	self.events = append(self.events, event)
	return event, STATUS_SUCCESS
}

// ExitBootServices latches the runtime phase and fires the exit boot
// services subscribers, once. After this only the runtime services
// remain callable.
func (self *RuntimeCore) ExitBootServices() {
	if self.at_runtime {
		return
	}

	self.at_runtime = true

	for _, event := range self.events {
		if event.event_type == EVT_SIGNAL_EXIT_BOOT_SERVICES {
			event.signal()
		}
	}
}

// ConvertPointer rewrites a physical mode pointer to its virtual
// equivalent using the memory map supplied to the in-progress
// SetVirtualAddressMap call. A miss means the caller holds a runtime
// pointer the final memory map never described - surfaced as a status
// but normally fatal to the firmware session.
//
// Only meaningful while a switch is in progress. The scratch map is
// gone before and after, so any out of contract call simply fails
// with STATUS_NOT_FOUND rather than corrupting anything.
func (self *RuntimeCore) ConvertPointer(
	disposition uint32, address *uint64) Status {

	if address == nil {
		return STATUS_INVALID_PARAMETER
	}

	if *address == 0 {
		if disposition&OPTIONAL_PTR != 0 {
			return STATUS_SUCCESS
		}
		return STATUS_INVALID_PARAMETER
	}

	descriptor := self.virtual_map.Find(*address)
	if descriptor == nil {
		return STATUS_NOT_FOUND
	}

	*address = *address - descriptor.PhysicalStart + descriptor.VirtualStart
	return STATUS_SUCCESS
}

// convertInternalPointer converts one of our own table fields,
// reporting (but not propagating) failures. Once the virtual_mode
// latch is set there is no way back to physical mode, so a failed
// conversion in the middle of the walk is not individually
// recoverable.
func (self *RuntimeCore) convertInternalPointer(
	disposition uint32, address *uint64) {

	status := self.ConvertPointer(disposition, address)
	if status.IsError() {
		DebugPrint("ConvertPointer(%#x) failed: %v\n", *address, status)
	}
}

// SetVirtualAddressMap performs the one way transition from physical
// to virtual addressing. The OS loader calls this exactly once after
// ExitBootServices. The virtual_mode latch is set before any of the
// fallible work specifically so a second attempt can never happen -
// partial failure past that point leaves the session unusable and is
// deliberately indistinguishable from success to later callers.
func (self *RuntimeCore) SetVirtualAddressMap(
	map_size uint64, descriptor_size uint64,
	descriptor_version uint32, virtual_map []byte) Status {

	// The only real error gate: wrong phase or a repeat call.
	if !self.at_runtime || self.virtual_mode {
		return STATUS_UNSUPPORTED
	}

	if descriptor_version != MEMORY_DESCRIPTOR_VERSION ||
		descriptor_size < MEMORY_DESCRIPTOR_SIZE {
		return STATUS_INVALID_PARAMETER
	}

	self.virtual_mode = true

	// Trailing bytes that do not make up a whole descriptor are
	// ignored.
	count := map_size / descriptor_size

	self.virtual_map = NewMemoryMap(
		virtual_map, int(descriptor_size), int(count))

	// Let every subscriber fix up its own saved pointers first, in
	// registration order.
	for _, event := range self.events {
		if event.event_type == EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE {
			event.signal()
		}
	}

	// Re-relocate every runtime image for its new virtual base,
	// except our own - the code running right now must not be
	// patched out from under itself. Its entry points stay valid
	// through the caller's transition instead.
	for _, image := range self.images {
		if image.ImageBase == self.image_base {
			continue
		}

		virtual_base := image.ImageBase
		self.convertInternalPointer(0, &virtual_base)

		RelocateImageForRuntime(
			image.Data, image.ImageBase, virtual_base,
			image.RelocationData)

		self.arch.InvalidateInstructionCacheRange(
			image.ImageBase, uint64(len(image.Data)))
	}

	// Convert the runtime services entry points. SetVirtualAddressMap
	// and ConvertPointer are skipped: they live in this driver's
	// deliberately unrelocated image and must remain valid for the
	// remainder of this very call.
	self.convertInternalPointer(0, &self.runtime_service.GetTime)
	self.convertInternalPointer(0, &self.runtime_service.SetTime)
	self.convertInternalPointer(0, &self.runtime_service.GetWakeupTime)
	self.convertInternalPointer(0, &self.runtime_service.SetWakeupTime)
	self.convertInternalPointer(0, &self.runtime_service.GetVariable)
	self.convertInternalPointer(0, &self.runtime_service.GetNextVariableName)
	self.convertInternalPointer(0, &self.runtime_service.SetVariable)
	self.convertInternalPointer(0,
		&self.runtime_service.GetNextHighMonotonicCount)
	self.convertInternalPointer(0, &self.runtime_service.ResetSystem)
	self.convertInternalPointer(0, &self.runtime_service.UpdateCapsule)
	self.convertInternalPointer(0,
		&self.runtime_service.QueryCapsuleCapabilities)
	self.convertInternalPointer(0, &self.runtime_service.QueryVariableInfo)
	self.runtime_service.SetChecksum()

	// Convert the system table. Boot services are categorically
	// gone - nulling the pointer is the explicit signal.
	self.convertInternalPointer(OPTIONAL_PTR, &self.system.FirmwareVendor)
	self.convertInternalPointer(OPTIONAL_PTR, &self.system.ConfigurationTable)
	self.convertInternalPointer(0, &self.system.RuntimeServices)
	self.system.BootServices = 0
	self.system.SetChecksum()

	// Drop the scratch view - the caller's map buffer must not be
	// referenced past this call.
	self.virtual_map = nil

	return STATUS_SUCCESS
}
