package scanner

import (
	"github.com/srg/bleproxy/internal/message"
)

// addressFilter applies allow/block lists. An empty allow list admits everything not blocked.
type addressFilter struct {
	allow map[message.Address]struct{}
	block map[message.Address]struct{}
}

func newAddressFilter(allow, block []string) *addressFilter {
	f := &addressFilter{}
	f.allow = toSet(allow)
	f.block = toSet(block)
	return f
}

func toSet(list []string) map[message.Address]struct{} {
	if len(list) == 0 {
		return nil
	}
	set := make(map[message.Address]struct{}, len(list))
	for _, s := range list {
		// invalid entries are rejected by Options.Validate
		if a, err := message.ParseAddress(s); err == nil {
			set[a] = struct{}{}
		}
	}
	return set
}

func (f *addressFilter) admit(a message.Address) bool {
	if _, blocked := f.block[a]; blocked {
		return false
	}
	if len(f.allow) > 0 {
		_, ok := f.allow[a]
		return ok
	}
	return true
}
