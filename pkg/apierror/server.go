package apierror

// Well-known error kinds used throughout qubesd. Each is a package-level
// *Error so callers can compare with errors.Is and extensions/drivers can
// wrap it with WrapError/NewErrorWithRaw to attach detail without changing
// its Code.
var (
	// ErrInvalidValue is returned when a property assignment is rejected:
	// type mismatch, out of range, or a forbidden transition (write-once
	// already set, cycle in a vm-ref chain).
	ErrInvalidValue = &Error{
		Code:       "InvalidValue",
		Message:    "The supplied value is not valid for this property.",
		HTTPStatus: 400,
	}

	// ErrNotFound is returned when a referenced Domain, Pool, Volume,
	// Label or property does not exist.
	ErrNotFound = &Error{
		Code:       "NotFound",
		Message:    "The requested object does not exist.",
		HTTPStatus: 404,
	}

	// ErrInUse is returned when an operation is blocked by an existing
	// reference: removing a template that still has children, reassigning
	// a device that is already attached elsewhere.
	ErrInUse = &Error{
		Code:       "InUse",
		Message:    "The object is still referenced and cannot be modified.",
		HTTPStatus: 409,
	}

	// ErrWrongState is returned when an operation is not legal in the
	// domain's or volume's current lifecycle state.
	ErrWrongState = &Error{
		Code:       "WrongState",
		Message:    "The operation is not valid in the current state.",
		HTTPStatus: 409,
	}

	// ErrMemory is returned when the external memory balancer refuses an
	// allocation request made during domain start.
	ErrMemory = &Error{
		Code:       "Memory",
		Message:    "Not enough memory is available to start the domain.",
		HTTPStatus: 507,
	}

	// ErrStorage wraps a pool/driver I/O error. Callers should attach the
	// driver identity and underlying reason via WrapError.
	ErrStorage = &Error{
		Code:       "Storage",
		Message:    "A storage operation failed.",
		HTTPStatus: 500,
	}

	// ErrHypervisor wraps a failed hypervisor call. Callers should attach
	// the hypervisor error code via NewErrorWithRaw.
	ErrHypervisor = &Error{
		Code:       "Hypervisor",
		Message:    "The hypervisor call failed.",
		HTTPStatus: 502,
	}

	// ErrNotAllowed is returned when the Admin policy engine rejects a
	// call, or when an in-process invariant (e.g. admin.vm.Remove with a
	// live reference) denies it.
	ErrNotAllowed = &Error{
		Code:       "NotAllowed",
		Message:    "The caller is not permitted to perform this operation.",
		HTTPStatus: 403,
	}

	// ErrInternal guards against bugs: it is reported but the daemon
	// keeps running.
	ErrInternal = &Error{
		Code:       "Internal",
		Message:    "An internal error occurred. The request could not be completed.",
		HTTPStatus: 500,
	}
)
