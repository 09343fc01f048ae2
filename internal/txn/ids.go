package txn

import "fmt"

// ObjectID packs a class-id prefix into the top 13 bits of a 64-bit word
// and a monotonic per-class counter into the low 51 bits. Class ids of 4096
// and above set the top bit, so such ids are negative when reinterpreted as
// an int64; class-id bits above the 13th are dropped by MakeID.
type ObjectID uint64

const (
	counterBits = 51
	counterMask = (uint64(1) << counterBits) - 1

	// MaxCounter is the first counter value that no longer fits in the
	// low 51 bits; reserving at or beyond it fails with ErrIDUnavailable.
	MaxCounter = uint64(1) << counterBits
)

// MakeID packs a class id and counter into an ObjectID. The caller is
// responsible for ensuring counter < MaxCounter; callers that can't
// guarantee this should use CheckedMakeID.
func MakeID(classID uint16, counter uint64) ObjectID {
	return ObjectID(uint64(classID)<<counterBits | (counter & counterMask))
}

// CheckedMakeID is MakeID with a counter-ceiling check: reserving beyond
// 2^51 fails with ErrIDUnavailable instead of silently wrapping.
func CheckedMakeID(classID uint16, counter uint64) (ObjectID, error) {
	if counter >= MaxCounter {
		return 0, fmt.Errorf("txn: counter %d exceeds %d: %w", counter, MaxCounter, ErrIDUnavailable)
	}
	return MakeID(classID, counter), nil
}

// ClassID returns the class-id prefix packed into id.
func (id ObjectID) ClassID() uint16 {
	return uint16(uint64(id) >> counterBits)
}

// Counter returns the low 51 bits of id.
func (id ObjectID) Counter() uint64 {
	return uint64(id) & counterMask
}

func (id ObjectID) String() string {
	return fmt.Sprintf("%d:%d", id.ClassID(), id.Counter())
}

// ClassIDOf is the free-function form of ObjectID.ClassID, for callers
// that don't already have an ObjectID method value handy.
func ClassIDOf(id ObjectID) uint16 { return id.ClassID() }

// ClassDescriptor is the minimal shape the class-hierarchy facade and the
// model descriptor collaborator need from a compiled class. The
// data-model compiler that produces these is an external collaborator.
type ClassDescriptor struct {
	Index        int
	Name         string
	IsAbstract   bool
	ScanInherited bool
}

// ModelDescriptor is the downward collaborator mapping class ids to
// descriptors; it is owned by the data-model compiler, out of scope here.
type ModelDescriptor interface {
	ClassByID(id uint16) (ClassDescriptor, bool)
	ClassByIndex(index int) (ClassDescriptor, bool)
}

// Well-known ids: pre-allocated singletons that never flow through the
// ordinary id-range allocator.
var (
	IDGeneratorID      = MakeID(0, 1)
	GlobalWriteStateID = MakeID(0, 2)

	ConfigArtifactID = [3]ObjectID{MakeID(0, 3), MakeID(0, 4), MakeID(0, 5)}

	ArtifactVersionID = [3]ObjectID{MakeID(0, 6), MakeID(0, 7), MakeID(0, 8)}
)

// ClassOf resolves the ClassDescriptor for an id through a ModelDescriptor.
func ClassOf(model ModelDescriptor, id ObjectID) (ClassDescriptor, bool) {
	return model.ClassByID(id.ClassID())
}

// ClassIndexOf resolves the class index for an id, if the model knows it.
func ClassIndexOf(model ModelDescriptor, id ObjectID) (int, bool) {
	cd, ok := model.ClassByID(id.ClassID())
	if !ok {
		return 0, false
	}
	return cd.Index, true
}
