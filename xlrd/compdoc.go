package xlrd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/yamitzky/sheetread/sheet"
)

// Compound document header layout
const (
	cdSectorSizePos       = 0x1e
	cdShortSectorSizePos  = 0x20
	cdSATCountPos         = 0x2c
	cdDirFirstPos         = 0x30
	cdMinStreamSizePos    = 0x38
	cdSSATFirstPos        = 0x3c
	cdSSATCountPos        = 0x40
	cdMSATFirstPos        = 0x44
	cdMSATCountPos        = 0x48
	cdMSATPos             = 0x4c
	cdHeaderMSATEntries   = 109
	cdHeaderSize          = 512
	cdDirEntrySize        = 128
	cdDirNameSizePos      = 0x40
	cdDirTypePos          = 0x42
	cdDirStartPos         = 0x74
	cdDirSizePos          = 0x78
	cdEndOfChain    int32 = -2
)

// Directory entry types
const (
	DirEmpty   = 0
	DirStorage = 1
	DirStream  = 2
	DirRoot    = 5
)

// DirEntry is one 128-byte entry of the directory stream.
type DirEntry struct {
	Name  string
	Type  byte
	Start int32
	Size  uint32
}

// CompDoc reads the streams of an OLE2 compound document held in memory.
type CompDoc struct {
	mem []byte

	sectorSize      int
	shortSectorSize int
	minStreamSize   uint32

	sat  []int32 // sector id -> next sector id
	ssat []int32 // short sector id -> next short sector id
	dirs []DirEntry

	logfile   io.Writer
	verbosity int
}

// NewCompDoc parses the header, the allocation tables and the directory.
func NewCompDoc(mem []byte, logfile io.Writer, verbosity int) (*CompDoc, error) {
	if len(mem) < cdHeaderSize {
		return nil, sheet.NewStructuralError("compound document too short: %d bytes", len(mem))
	}
	if !bytes.HasPrefix(mem, XLS_SIGNATURE) {
		return nil, sheet.NewStructuralError("not an OLE2 compound document")
	}
	if logfile == nil {
		logfile = io.Discard
	}

	ssz := int(binary.LittleEndian.Uint16(mem[cdSectorSizePos:]))
	sssz := int(binary.LittleEndian.Uint16(mem[cdShortSectorSizePos:]))
	if ssz < 7 || ssz > 16 || sssz > ssz {
		return nil, sheet.NewStructuralError("invalid sector size exponents %d/%d", ssz, sssz)
	}

	cd := &CompDoc{
		mem:             mem,
		sectorSize:      1 << ssz,
		shortSectorSize: 1 << sssz,
		minStreamSize:   binary.LittleEndian.Uint32(mem[cdMinStreamSizePos:]),
		logfile:         logfile,
		verbosity:       verbosity,
	}
	if verbosity >= 2 {
		fmt.Fprintf(logfile, "compdoc: sector size %d, short sector size %d, min stream size %d\n",
			cd.sectorSize, cd.shortSectorSize, cd.minStreamSize)
	}

	if err := cd.readSAT(); err != nil {
		return nil, err
	}
	if err := cd.readSSAT(); err != nil {
		return nil, err
	}
	if err := cd.readDirectory(); err != nil {
		return nil, err
	}
	return cd, nil
}

func (cd *CompDoc) le32(pos int) int32 {
	return int32(binary.LittleEndian.Uint32(cd.mem[pos:]))
}

// sector returns the bytes of a main sector, clipped at the end of the file.
func (cd *CompDoc) sector(id int32) ([]byte, error) {
	if id < 0 {
		return nil, sheet.NewStructuralError("invalid sector id %d", id)
	}
	start := (int(id) + 1) * cd.sectorSize
	if start >= len(cd.mem) {
		return nil, sheet.NewStructuralError("sector %d lies beyond the end of the file", id)
	}
	end := min(start+cd.sectorSize, len(cd.mem))
	return cd.mem[start:end], nil
}

// readSAT collects the master allocation table and materializes the sector
// chain from the sectors it lists.
func (cd *CompDoc) readSAT() error {
	satCount := int(cd.le32(cdSATCountPos))
	msatFirst := cd.le32(cdMSATFirstPos)
	msatCount := int(cd.le32(cdMSATCountPos))
	if satCount < 0 || msatCount < 0 {
		return sheet.NewStructuralError("negative allocation table size")
	}

	msat := make([]int32, 0, satCount)
	for i := 0; i < cdHeaderMSATEntries && len(msat) < satCount; i++ {
		msat = append(msat, cd.le32(cdMSATPos+4*i))
	}

	perBlock := cd.sectorSize/4 - 1
	seen := make(map[int32]bool)
	for block := 0; block < msatCount && len(msat) < satCount; block++ {
		if msatFirst == cdEndOfChain {
			break
		}
		if seen[msatFirst] {
			return sheet.NewStructuralError("cycle in master allocation table at sector %d", msatFirst)
		}
		seen[msatFirst] = true
		data, err := cd.sector(msatFirst)
		if err != nil {
			return err
		}
		if len(data) < cd.sectorSize {
			return sheet.NewStructuralError("truncated master allocation sector %d", msatFirst)
		}
		for i := 0; i < perBlock && len(msat) < satCount; i++ {
			msat = append(msat, int32(binary.LittleEndian.Uint32(data[4*i:])))
		}
		msatFirst = int32(binary.LittleEndian.Uint32(data[4*perBlock:]))
	}
	if len(msat) < satCount {
		return sheet.NewStructuralError("master allocation table lists %d of %d sectors", len(msat), satCount)
	}

	cd.sat = make([]int32, 0, satCount*cd.sectorSize/4)
	for _, id := range msat {
		data, err := cd.sector(id)
		if err != nil {
			return err
		}
		for i := 0; i+4 <= len(data); i += 4 {
			cd.sat = append(cd.sat, int32(binary.LittleEndian.Uint32(data[i:])))
		}
	}
	return nil
}

// readSSAT reads the short-sector chain through the main chain.
func (cd *CompDoc) readSSAT() error {
	first := cd.le32(cdSSATFirstPos)
	if first == cdEndOfChain {
		return nil
	}
	data, err := cd.readChain(first, cd.sat, cd.sectorSize, cd.mainSector)
	if err != nil {
		return fmt.Errorf("short allocation table: %w", err)
	}
	cd.ssat = make([]int32, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		cd.ssat = append(cd.ssat, int32(binary.LittleEndian.Uint32(data[i:])))
	}
	return nil
}

func (cd *CompDoc) readDirectory() error {
	data, err := cd.readChain(cd.le32(cdDirFirstPos), cd.sat, cd.sectorSize, cd.mainSector)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	for pos := 0; pos+cdDirEntrySize <= len(data); pos += cdDirEntrySize {
		entry := data[pos : pos+cdDirEntrySize]
		nameSize := min(int(binary.LittleEndian.Uint16(entry[cdDirNameSizePos:])), 64)
		name, err := decodeUTF16LE(entry[:nameSize&^1])
		if err != nil {
			return sheet.NewStructuralError("directory entry %d: %v", pos/cdDirEntrySize, err)
		}
		cd.dirs = append(cd.dirs, DirEntry{
			Name:  strings.TrimRight(name, "\x00"),
			Type:  entry[cdDirTypePos],
			Start: int32(binary.LittleEndian.Uint32(entry[cdDirStartPos:])),
			Size:  binary.LittleEndian.Uint32(entry[cdDirSizePos:]),
		})
	}
	if len(cd.dirs) == 0 || cd.dirs[0].Type != DirRoot {
		return sheet.NewStructuralError("directory has no root entry")
	}
	return nil
}

func (cd *CompDoc) mainSector(id int32) ([]byte, error) {
	return cd.sector(id)
}

// readChain concatenates the sectors of a chain. It stops at the end-of-chain
// marker and fails on ids outside the table or on revisiting a sector.
func (cd *CompDoc) readChain(start int32, chain []int32, size int, read func(int32) ([]byte, error)) ([]byte, error) {
	var buf bytes.Buffer
	id := start
	for steps := 0; id != cdEndOfChain; steps++ {
		if id < 0 || int(id) >= len(chain) {
			return nil, sheet.NewStructuralError("sector id %d out of range (table size %d)", id, len(chain))
		}
		if steps >= len(chain) {
			return nil, sheet.NewStructuralError("cycle in sector chain starting at %d", start)
		}
		data, err := read(id)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
		if len(data) < size {
			buf.Write(make([]byte, size-len(data)))
		}
		id = chain[id]
	}
	return buf.Bytes(), nil
}

// Entries returns the directory entries in stream order.
func (cd *CompDoc) Entries() []DirEntry {
	return cd.dirs
}

// Stream returns the contents of a directory entry, trimmed to its size.
func (cd *CompDoc) Stream(entry DirEntry) ([]byte, error) {
	var (
		data []byte
		err  error
		unit int
	)
	if entry.Type != DirRoot && entry.Size < cd.minStreamSize {
		root, rerr := cd.readChain(cd.dirs[0].Start, cd.sat, cd.sectorSize, cd.mainSector)
		if rerr != nil {
			return nil, fmt.Errorf("root entry: %w", rerr)
		}
		unit = cd.shortSectorSize
		data, err = cd.readChain(entry.Start, cd.ssat, unit, func(id int32) ([]byte, error) {
			start := int(id) * unit
			if start >= len(root) {
				return nil, sheet.NewStructuralError("short sector %d lies beyond the root stream", id)
			}
			return root[start:min(start+unit, len(root))], nil
		})
	} else {
		unit = cd.sectorSize
		data, err = cd.readChain(entry.Start, cd.sat, unit, cd.mainSector)
	}
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", entry.Name, err)
	}
	if uint64(len(data)) < uint64(entry.Size) {
		return nil, sheet.NewStructuralError("stream %q is truncated: %d of %d bytes", entry.Name, len(data), entry.Size)
	}
	if entry.Type == DirRoot {
		return data, nil
	}
	if uint64(len(data)) >= uint64(entry.Size)+uint64(unit) {
		return nil, sheet.NewStructuralError("stream %q chain holds %d bytes for a size of %d", entry.Name, len(data), entry.Size)
	}
	return data[:entry.Size], nil
}

// LocateNamedStream returns the first stream whose name matches one of
// qnames, compared case-insensitively.
func (cd *CompDoc) LocateNamedStream(qnames ...string) ([]byte, error) {
	for _, qname := range qnames {
		for _, entry := range cd.dirs {
			if entry.Type == DirStream && strings.EqualFold(entry.Name, qname) {
				if cd.verbosity >= 2 {
					fmt.Fprintf(cd.logfile, "compdoc: stream %q starts at sector %d, %d bytes\n", entry.Name, entry.Start, entry.Size)
				}
				return cd.Stream(entry)
			}
		}
	}
	return nil, sheet.NewStructuralError("no stream named %s in compound document", strings.Join(qnames, " or "))
}
