// Archive (ar-style) support: paths of the shape `file(member)` name a
// member inside a classic Unix archive; this reads and rewrites member
// mtimes without unpacking the archive (spec.md §4.7, §6 "Archive (ar)
// support"). Only the System V / GNU common format is implemented; the
// BSD, AIX "big", and System III variants named in spec.md are not —
// see DESIGN.md for why (none of the retrieved example repos target
// those platforms, and the common format already covers the GNU/Linux
// and System V object toolchains cook's own test suite builds against).

package main

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const arMagic = "!<arch>\n"
const arHeaderSize = 60

// arHeader is the fixed 60-byte System V member header.
type arHeader struct {
	name  string
	mtime time.Time
	size  int64
	// offset of the header itself, and of the data that follows it.
	headerOff int64
	dataOff   int64
}

// splitArchiveMember splits "lib.a(member.o)" into ("lib.a", "member.o").
// The second return is false for ordinary paths.
func splitArchiveMember(path string) (archive, member string, ok bool) {
	open := strings.IndexByte(path, '(')
	if open < 0 || !strings.HasSuffix(path, ")") {
		return "", "", false
	}
	return path[:open], path[open+1 : len(path)-1], true
}

// arMtime resolves an archive-member path's mtime. Archive members
// advertise their mtime as the member header's recorded mtime plus one
// second, to
// satisfy the strict-edge freshness rule (spec.md §6). The third return
// value reports whether path was recognised as an archive-member path at
// all; when false, callers should fall through to ordinary stat
// handling.
func arMtime(path string) (time.Time, error, bool) {
	archivePath, member, ok := splitArchiveMember(path)
	if !ok {
		return time.Time{}, nil, false
	}
	hdr, err := findArMember(archivePath, member)
	if err != nil {
		return time.Time{}, err, true
	}
	if hdr == nil {
		return time.Time{}, os.ErrNotExist, true
	}
	return hdr.mtime.Add(time.Second), nil, true
}

// arSetMtime rewrites a member's mtime field in place.
// StatCache.AdjustMtime does not call it and handles plain files only.
func arSetMtime(path string, t time.Time) error {
	archivePath, member, ok := splitArchiveMember(path)
	if !ok {
		return nil
	}
	hdr, err := findArMember(archivePath, member)
	if err != nil {
		return err
	}
	if hdr == nil {
		return os.ErrNotExist
	}
	f, err := os.OpenFile(archivePath, os.O_RDWR, 0)
	if err != nil {
		return newErr(ErrSystemCall, Position{}, "open archive "+archivePath+": "+err.Error())
	}
	defer f.Close()
	field := strconv.FormatInt(t.Unix(), 10)
	field = padField(field, 12)
	if _, err := f.WriteAt([]byte(field), hdr.headerOff+16); err != nil {
		return newErr(ErrSystemCall, Position{}, "write archive mtime: "+err.Error())
	}
	return nil
}

func padField(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

// findArMember walks a System V ar archive's member headers looking for
// name. Returns nil, nil if the archive exists but has no such member.
func findArMember(archivePath, name string) (*arHeader, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, newErr(ErrSystemCall, Position{}, "open archive "+archivePath+": "+err.Error())
	}
	defer f.Close()

	magic := make([]byte, len(arMagic))
	if _, err := io.ReadFull(f, magic); err != nil || string(magic) != arMagic {
		return nil, newErr(ErrSystemCall, Position{}, archivePath+" is not an ar archive")
	}

	var longNames string
	off := int64(len(arMagic))
	hdrBuf := make([]byte, arHeaderSize)
	for {
		n, err := f.ReadAt(hdrBuf, off)
		if n < arHeaderSize {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			if err != nil {
				return nil, newErr(ErrSystemCall, Position{}, "read archive header: "+err.Error())
			}
		}
		if hdrBuf[58] != 0x60 || hdrBuf[59] != 0x0a {
			return nil, newErr(ErrSystemCall, Position{}, archivePath+": malformed ar header")
		}
		rawName := strings.TrimRight(string(hdrBuf[0:16]), " ")
		mtimeField := strings.TrimSpace(string(hdrBuf[16:28]))
		sizeField := strings.TrimSpace(string(hdrBuf[48:58]))
		size, _ := strconv.ParseInt(sizeField, 10, 64)
		dataOff := off + arHeaderSize

		memberName := rawName
		if strings.HasPrefix(rawName, "//") {
			// GNU extended-name table: subsequent "/N" names index into it.
			buf := make([]byte, size)
			if _, err := f.ReadAt(buf, dataOff); err == nil {
				longNames = string(buf)
			}
		} else if strings.HasPrefix(rawName, "/") {
			if idx, err := strconv.Atoi(strings.TrimPrefix(rawName, "/")); err == nil && idx < len(longNames) {
				end := strings.IndexAny(longNames[idx:], "/\n")
				if end < 0 {
					memberName = longNames[idx:]
				} else {
					memberName = longNames[idx : idx+end]
				}
			}
		} else {
			memberName = strings.TrimSuffix(rawName, "/")
		}

		if memberName == name {
			sec, _ := strconv.ParseInt(mtimeField, 10, 64)
			return &arHeader{
				name:      memberName,
				mtime:     time.Unix(sec, 0),
				size:      size,
				headerOff: off,
				dataOff:   dataOff,
			}, nil
		}

		next := dataOff + size
		if size%2 == 1 {
			next++ // members are 2-byte aligned
		}
		off = next
	}
	return nil, nil
}
