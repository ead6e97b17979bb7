package efirt

// Caps applied when dumping attacker controlled structures. The
// runtime relocation path itself is bounded by the directory size.
const (
	MAX_RELOCATION_BLOCKS     = 4096
	MAX_RELOCATIONS_PER_BLOCK = 2048
)
