package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/ezrec/uvm16/vm"
)

// Persisted envelope: magic, format version, blake3 checksum of the
// compressed payload, then the zstd-compressed canonical CBOR body.
var magic = [4]byte{'u', 'v', 'm', '1'}

const sumSize = 32

// cborEncMode uses canonical encoding so identical snapshots persist to
// identical bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Encode writes the persisted form of the snapshot.
func (snap *Snapshot) Encode(w io.Writer) (err error) {
	raw, err := cborEncMode.Marshal(snap)
	if err != nil {
		return
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return
	}
	defer enc.Close()
	payload := enc.EncodeAll(raw, nil)

	sum := blake3.Sum256(payload)

	if _, err = w.Write(magic[:]); err != nil {
		return
	}
	if _, err = w.Write([]byte{byte(Version)}); err != nil {
		return
	}
	if _, err = w.Write(sum[:]); err != nil {
		return
	}
	_, err = w.Write(payload)
	return
}

// Decode reads a persisted snapshot. Any structural problem - bad
// magic, version mismatch, checksum mismatch, malformed body - yields
// ErrCorrupt; state is never partially populated.
func Decode(r io.Reader) (snap *Snapshot, err error) {
	header := make([]byte, len(magic)+1+sumSize)
	if _, err = io.ReadFull(r, header); err != nil {
		err = errors.Join(ErrCorrupt, err)
		return
	}

	if !bytes.Equal(header[:len(magic)], magic[:]) {
		err = errors.Join(ErrCorrupt, ErrMagic)
		return
	}
	if header[len(magic)] != byte(Version) {
		err = errors.Join(ErrCorrupt, ErrVersion)
		return
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		err = errors.Join(ErrCorrupt, err)
		return
	}

	sum := blake3.Sum256(payload)
	if !bytes.Equal(sum[:], header[len(magic)+1:]) {
		err = errors.Join(ErrCorrupt, ErrChecksum)
		return
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		err = errors.Join(ErrCorrupt, err)
		return
	}

	decoded := &Snapshot{}
	if err = cbor.Unmarshal(raw, decoded); err != nil {
		err = errors.Join(ErrCorrupt, err)
		return
	}
	if err = decoded.validate(); err != nil {
		return
	}

	snap = decoded
	return
}

// validate checks the structural invariants of a snapshot. Register and
// stack values are deliberately not range-checked: rmem can load any
// memory word into a register, so values at or above the modulus are
// reachable states, and the executor bounds-faults if one is ever used
// as an address.
func (snap *Snapshot) validate() (err error) {
	switch {
	case snap.Version != Version:
		err = errors.Join(ErrCorrupt, ErrVersion)
	case len(snap.Memory) != vm.MEM_SIZE:
		err = errors.Join(ErrCorrupt, ErrShape)
	case len(snap.Register) != vm.REG_COUNT:
		err = errors.Join(ErrCorrupt, ErrShape)
	case snap.State < int(vm.STATE_RUNNING) || snap.State > int(vm.STATE_AWAIT):
		err = errors.Join(ErrCorrupt, ErrShape)
	}
	return
}

// Save persists the snapshot to a file.
func (snap *Snapshot) Save(path string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return
	}
	defer file.Close()

	return snap.Encode(file)
}

// Load reads a persisted snapshot from a file.
func Load(path string) (snap *Snapshot, err error) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	return Decode(file)
}
