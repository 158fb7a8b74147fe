package mqttng

// OwnershipMode describes who releases a publish payload once the engine has
// copied it into the outbound buffer. The set of implementations is closed:
// NoFree, FreeFunc and CallerResponsibility.
type OwnershipMode interface {
	// release is invoked exactly once, after the last payload byte was copied.
	release(payload []byte)
}

// NoFree marks a payload as static or borrowed. The engine never touches it
// after the copy.
type NoFree struct{}

func (NoFree) release([]byte) {}

// CallerResponsibility marks a payload the caller keeps and frees itself,
// such as a pooled or stack-like buffer. The engine only reads it during
// the Publish call.
type CallerResponsibility struct{}

func (CallerResponsibility) release([]byte) {}

// FreeFunc hands the payload to a release function once the engine holds
// its own copy.
type FreeFunc func(payload []byte)

func (f FreeFunc) release(payload []byte) {
	if f != nil {
		f(payload)
	}
}

// CallByFunction returns an OwnershipMode that invokes fn with the payload
// after it has been copied into the outbound buffer.
func CallByFunction(fn func(payload []byte)) OwnershipMode {
	return FreeFunc(fn)
}

// ownershipName reports the mode for logs.
func ownershipName(mode OwnershipMode) string {
	switch mode.(type) {
	case nil, NoFree:
		return "no_free"
	case CallerResponsibility:
		return "caller"
	case FreeFunc:
		return "free_func"
	default:
		return "unknown"
	}
}

// dispatchOwnership runs the release policy for a payload whose bytes have
// been fully copied. A nil mode behaves like NoFree.
func dispatchOwnership(mode OwnershipMode, payload []byte) {
	switch m := mode.(type) {
	case nil:
	case NoFree:
		m.release(payload)
	case CallerResponsibility:
		m.release(payload)
	case FreeFunc:
		m.release(payload)
	}
}
