package packet

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
)

var (
	// ErrDuplicateID is returned when two descriptors share an id.
	ErrDuplicateID = errors.New("packet: duplicate id")

	// ErrUnknownPacket is returned by FindByID for an unregistered id.
	ErrUnknownPacket = errors.New("packet: unknown id")

	// ErrInvalidDescriptor is returned for a descriptor without a factory.
	ErrInvalidDescriptor = errors.New("packet: invalid descriptor")
)

// Descriptor binds a wire id to a packet factory.
type Descriptor struct {
	ID   uint16
	Name string
	New  Factory
}

// Registry maps packet ids to factories. It is immutable once built and safe
// for concurrent lookups without locking.
type Registry struct {
	byID map[uint16]Descriptor
	ids  []uint16
}

// NewRegistry builds a registry from descs. Duplicate ids are a configuration
// error.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[uint16]Descriptor, len(descs))}
	for _, d := range descs {
		if d.New == nil {
			return nil, fmt.Errorf("%w: %q (id %d) has no factory", ErrInvalidDescriptor, d.Name, d.ID)
		}
		if prev, ok := r.byID[d.ID]; ok {
			return nil, fmt.Errorf("%w: %d used by %q and %q", ErrDuplicateID, d.ID, prev.Name, d.Name)
		}
		r.byID[d.ID] = d
		r.ids = append(r.ids, d.ID)
	}
	slices.Sort(r.ids)
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error. It is meant for
// package-level protocol definitions.
func MustRegistry(descs ...Descriptor) *Registry {
	r, err := NewRegistry(descs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Scan builds a registry from prototype values. Prototypes that do not
// implement Described are skipped. Each registered type must be a pointer;
// the factory allocates a new zero value of the pointed-to type.
func Scan(prototypes ...any) (*Registry, error) {
	descs := make([]Descriptor, 0, len(prototypes))
	for _, p := range prototypes {
		d, ok := p.(Described)
		if !ok {
			continue
		}
		typ := reflect.TypeOf(d)
		if typ.Kind() != reflect.Pointer {
			return nil, fmt.Errorf("%w: %s must be registered as a pointer", ErrInvalidDescriptor, typ)
		}
		elem := typ.Elem()
		descs = append(descs, Descriptor{
			ID:   d.PacketID(),
			Name: d.PacketName(),
			New: func() Readable {
				return reflect.New(elem).Interface().(Readable)
			},
		})
	}
	return NewRegistry(descs...)
}

// FindByID returns a fresh packet for id.
func (r *Registry) FindByID(id uint16) (Readable, error) {
	d, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPacket, id)
	}
	return d.New(), nil
}

// Lookup returns the descriptor registered for id.
func (r *Registry) Lookup(id uint16) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Name returns the registered name for id, or a placeholder.
func (r *Registry) Name(id uint16) string {
	if d, ok := r.byID[id]; ok {
		return d.Name
	}
	return fmt.Sprintf("unknown(%d)", id)
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []uint16 {
	return slices.Clone(r.ids)
}

// Len returns the number of registered packets.
func (r *Registry) Len() int { return len(r.byID) }

// MaxID returns the largest registered id, or 0 for an empty registry.
func (r *Registry) MaxID() uint16 {
	if len(r.ids) == 0 {
		return 0
	}
	return r.ids[len(r.ids)-1]
}
