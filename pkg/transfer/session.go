package transfer

import "github.com/duskvault/duskvault/pkg/constants"

// maxChunkSizeOrDefault returns requested if it is a sane nonzero
// bound within constants.MaxChunkSize, otherwise the package default.
func maxChunkSizeOrDefault(requested uint32) uint32 {
	if requested == 0 || requested > constants.MaxChunkSize {
		return constants.MaxChunkSize
	}
	return requested
}
