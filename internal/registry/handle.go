// If you are AI: This file defines StreamHandle, a weak reference to a
// Stream tagged with the epoch it was obtained under. Providers and
// Publishers hold handles, never raw Stream pointers, so a handle
// obtained before stop() is rejected after stop() even if the name is
// re-created (spec §8.6 epoch safety).
package registry

import "originflux/internal/errs"

// Handle is a weak reference to a Stream: (name, epoch). Resolve it back
// through the Registry before each use; never cache the *Stream itself
// across a stop/restart boundary.
type Handle struct {
	Key   Key
	Epoch uint64

	reg *Registry
}

// Resolve returns the live *Stream this handle refers to, or
// errs.StaleHandle if the registry's current epoch for Key has moved on
// (the Stream was stopped and possibly re-created under the same name).
func (h Handle) Resolve() (*Stream, error) {
	s, epoch, ok := h.reg.lookupWithEpoch(h.Key)
	if !ok || epoch != h.Epoch {
		return nil, errs.StaleHandle
	}
	return s, nil
}
