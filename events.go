package efirt

// Event type flags from the UEFI specification. Only the two runtime
// notification types matter to this driver.
const (
	EVT_SIGNAL_EXIT_BOOT_SERVICES     = 0x00000201
	EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE = 0x60000202
)

type NotifyFunction func(context interface{})

// Event is one registered subscriber. Entries are append only and
// persist until the switch fires them - there is no close or cancel
// in the runtime phase.
type Event struct {
	event_type     uint32
	notify         NotifyFunction
	notify_context interface{}
}

func (self *Event) Type() uint32 {
	return self.event_type
}

// signal runs the callback. Subscribers run with boot services
// already gone and must not allocate or block.
func (self *Event) signal() {
	if self.notify != nil {
		self.notify(self.notify_context)
	}
}
