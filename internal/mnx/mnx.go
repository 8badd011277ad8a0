// Package mnx implements the MNX binary mind-state container (C13): a
// bit-exact, checksummed wire format for exporting and importing a
// RAGStore's chunk index, knowledge graph, and caller-supplied
// side-car sections.
package mnx

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/aurora-assistant/ragmemory/internal/ragerrors"
)

const (
	magic       uint32 = 0x4D4E5821 // "MNX!"
	footerMagic uint32 = 0x21584E4D // "!XNM"

	headerSize        = 64
	sectionEntrySize  = 20
	footerSize        = 36
	currentMajorVersion = 1

	flagCompressed = 0x01
	flagEncrypted  = 0x02
	flagSigned     = 0x04
)

// SectionType identifies a named MNX section. Ids 1-13 are reserved by
// this enum; any other id round-trips through File.RawSections.
type SectionType int16

const (
	SectionIdentity        SectionType = 0x01
	SectionMemoryStore      SectionType = 0x02
	SectionKnowledgeGraph   SectionType = 0x03
	SectionAffectState      SectionType = 0x04
	SectionPersonality      SectionType = 0x05
	SectionBeliefStore      SectionType = 0x06
	SectionTimeline         SectionType = 0x07
	SectionOpinionMap       SectionType = 0x08
	SectionEmbeddingIndex   SectionType = 0x09
	SectionRelationshipWeb  SectionType = 0x0A
	SectionPreferenceStore  SectionType = 0x0B
	SectionValueAlignment   SectionType = 0x0C
	SectionMeta             SectionType = 0x0D
)

// knownSections are the ids this codec recognises as SectionType
// rather than routing to RawSections. Identity, MemoryStore,
// KnowledgeGraph, and Meta have real typed codecs (EncodeIdentity,
// EncodeMemoryStore, EncodeKnowledgeGraph, EncodeMeta below); the
// remaining nine (affect, personality, belief, timeline, opinion,
// embedding-index, relationship-web, preference, value-alignment) are
// Non-goal domains for this engine — the codec reserves their slot and round-trips whatever
// bytes a caller puts there, per §6's "hook contract only" note.
var knownSections = map[SectionType]bool{
	SectionIdentity: true, SectionMemoryStore: true, SectionKnowledgeGraph: true,
	SectionAffectState: true, SectionPersonality: true, SectionBeliefStore: true,
	SectionTimeline: true, SectionOpinionMap: true, SectionEmbeddingIndex: true,
	SectionRelationshipWeb: true, SectionPreferenceStore: true,
	SectionValueAlignment: true, SectionMeta: true,
}

// Header mirrors the 64-byte MNX file header.
type Header struct {
	VersionMajor, VersionMinor, VersionPatch uint8
	Flags                                    uint8
	UUID                                     [16]byte
}

// File is the in-memory MNX mind-state container.
type File struct {
	Header      Header
	Sections    map[SectionType][]byte
	RawSections map[int16][]byte
}

// NewFile builds an empty File with a fresh UUID and version 1.0.0.
func NewFile() File {
	return File{
		Header:      Header{VersionMajor: 1, UUID: uuid.New()},
		Sections:    make(map[SectionType][]byte),
		RawSections: make(map[int16][]byte),
	}
}

type tableEntry struct {
	id     int16
	offset uint64
	length uint64
}

// Encode serialises f to the bit-exact MNX wire format described in §6.
func Encode(f File) ([]byte, error) {
	var ids []int16
	payloads := make(map[int16][]byte)
	for t, p := range f.Sections {
		ids = append(ids, int16(t))
		payloads[int16(t)] = p
	}
	for id, p := range f.RawSections {
		ids = append(ids, id)
		payloads[id] = p
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	sectionCount := len(ids)
	tableOffset := uint64(headerSize)
	payloadsStart := tableOffset + uint64(sectionCount)*sectionEntrySize

	entries := make([]tableEntry, 0, sectionCount)
	var totalPayload uint64
	offset := payloadsStart
	for _, id := range ids {
		p := payloads[id]
		entries = append(entries, tableEntry{id: id, offset: offset, length: uint64(len(p))})
		offset += uint64(len(p))
		totalPayload += uint64(len(p))
	}

	var buf bytes.Buffer
	buf.Grow(int(offset) + footerSize)

	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], magic)
	hdr[4] = f.Header.VersionMajor
	hdr[5] = f.Header.VersionMinor
	hdr[6] = f.Header.VersionPatch
	hdr[7] = f.Header.Flags
	copy(hdr[8:24], f.Header.UUID[:])
	binary.BigEndian.PutUint16(hdr[24:26], uint16(sectionCount))
	binary.BigEndian.PutUint32(hdr[26:30], uint32(tableOffset))
	binary.BigEndian.PutUint64(hdr[30:38], totalPayload)
	buf.Write(hdr[:])

	for _, e := range entries {
		var entry [sectionEntrySize]byte
		binary.BigEndian.PutUint16(entry[0:2], uint16(e.id))
		binary.BigEndian.PutUint64(entry[2:10], e.offset)
		binary.BigEndian.PutUint64(entry[10:18], e.length)
		buf.Write(entry[:])
	}

	for _, id := range ids {
		buf.Write(payloads[id])
	}

	sum := sha256.Sum256(buf.Bytes())
	buf.Write(sum[:])
	var fm [4]byte
	binary.BigEndian.PutUint32(fm[:], footerMagic)
	buf.Write(fm[:])

	return buf.Bytes(), nil
}

// Decode parses an MNX byte stream back into a File, validating the
// magic, version, length, and checksum per §6/§7. All decode failures
// are fatal for the blob.
func Decode(data []byte) (File, error) {
	if len(data) < headerSize+footerSize {
		return File{}, fmt.Errorf("%w: file shorter than header+footer", ragerrors.ErrTruncatedInput)
	}

	if binary.BigEndian.Uint32(data[0:4]) != magic {
		return File{}, ragerrors.ErrMagicMismatch
	}
	hdr := Header{
		VersionMajor: data[4], VersionMinor: data[5], VersionPatch: data[6],
		Flags: data[7],
	}
	copy(hdr.UUID[:], data[8:24])
	if hdr.VersionMajor > currentMajorVersion {
		return File{}, ragerrors.ErrVersionTooNew
	}

	sectionCount := int(binary.BigEndian.Uint16(data[24:26]))
	tableOffset := int(binary.BigEndian.Uint32(data[26:30]))
	tableEnd := tableOffset + sectionCount*sectionEntrySize
	if tableOffset < headerSize || len(data) < tableEnd+footerSize {
		return File{}, fmt.Errorf("%w: section table runs past end of file", ragerrors.ErrTruncatedInput)
	}

	body := data[:len(data)-footerSize]
	footer := data[len(data)-footerSize:]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:], footer[0:32]) {
		return File{}, ragerrors.ErrChecksumMismatch
	}
	if binary.BigEndian.Uint32(footer[32:36]) != footerMagic {
		return File{}, fmt.Errorf("%w: footer magic mismatch", ragerrors.ErrChecksumMismatch)
	}

	f := File{Header: hdr, Sections: make(map[SectionType][]byte), RawSections: make(map[int16][]byte)}
	for i := 0; i < sectionCount; i++ {
		e := data[tableOffset+i*sectionEntrySize : tableOffset+(i+1)*sectionEntrySize]
		id := int16(binary.BigEndian.Uint16(e[0:2]))
		off := binary.BigEndian.Uint64(e[2:10])
		length := binary.BigEndian.Uint64(e[10:18])
		if off+length > uint64(len(body)) {
			return File{}, fmt.Errorf("%w: section %d payload runs past body", ragerrors.ErrTruncatedInput, id)
		}
		payload := append([]byte(nil), body[off:off+length]...)
		st := SectionType(id)
		if knownSections[st] {
			f.Sections[st] = payload
		} else {
			f.RawSections[id] = payload
		}
	}
	return f, nil
}
