// Package back defines the backend contract and the registry concrete
// backends plug into.
package back

import (
	"context"
	"sync"

	"tlog.app/go/errors"

	"github.com/slowlang/slate/compiler/ir"
	"github.com/slowlang/slate/compiler/set"
	"github.com/slowlang/slate/compiler/target"
)

type (
	// Backend turns built ir into assembly text for one architecture.
	//
	// An instance belongs to a single compiler context and is not safe
	// for concurrent use. Init allocates the mutable state, Cleanup
	// releases it, Reset clears it between independent codegen runs
	// keeping the allocations. Value location tables never survive
	// a Reset.
	Backend interface {
		Init(abi target.ABI, features *set.Bitmap) error
		Cleanup()
		Reset()

		// PrepareIR runs target lowering over the module before emission.
		PrepareIR(ctx context.Context, m *ir.Module) error

		CodegenModule(ctx context.Context, b []byte, m *ir.Module) ([]byte, error)
		CodegenFunc(ctx context.Context, b []byte, m *ir.Module, f *ir.Func) ([]byte, error)

		// ArchInfo returns static facts about the architecture. The
		// pointer stays valid for the life of the process.
		ArchInfo() *target.Info
	}
)

var (
	ErrNoBackend = errors.New("no backend for arch")
	ErrCodegen   = errors.New("codegen failure")
)

var (
	mu       sync.Mutex
	backends = map[target.Arch]func() Backend{}
)

// Register wires a backend constructor in. It panics on a nil
// constructor and on a second registration for the same arch so
// mistakes surface during init.
func Register(arch target.Arch, ctor func() Backend) {
	if ctor == nil {
		panic("back: nil backend constructor")
	}

	mu.Lock()
	defer mu.Unlock()

	if _, ok := backends[arch]; ok {
		panic("back: " + arch.String() + ": already registered")
	}

	backends[arch] = ctor
}

// New returns a fresh uninitialized backend instance for the arch.
func New(arch target.Arch) (Backend, error) {
	mu.Lock()
	ctor, ok := backends[arch]
	mu.Unlock()

	if !ok {
		return nil, errors.Wrap(ErrNoBackend, "%v", arch)
	}

	return ctor(), nil
}
